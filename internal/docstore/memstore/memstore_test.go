package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/docstore"
)

func subscribe(t *testing.T, s *Store, q docstore.Query) (<-chan docstore.Snapshot, docstore.CancelFunc) {
	t.Helper()
	ch := make(chan docstore.Snapshot, 64)
	cancel, err := s.Subscribe(context.Background(), q, func(snap docstore.Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return ch, cancel
}

func nextSnapshot(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
		return docstore.Snapshot{}
	}
}

// waitForDocs reads snapshots until one carries n documents.
func waitForDocs(t *testing.T, ch <-chan docstore.Snapshot, n int) docstore.Snapshot {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-ch:
			if len(s.Docs) == n {
				return s
			}
		case <-deadline:
			t.Fatalf("timeout waiting for snapshot with %d docs", n)
			return docstore.Snapshot{}
		}
	}
}

func TestInsertDeliversSnapshot(t *testing.T) {
	s := New()
	defer s.Close(context.Background())

	q := docstore.Query{Collection: "messages", OrderBy: "timestamp"}
	ch, cancel := subscribe(t, s, q)
	defer cancel()

	if snap := nextSnapshot(t, ch); len(snap.Docs) != 0 {
		t.Fatalf("initial snapshot has %d docs, want 0", len(snap.Docs))
	}

	if _, err := s.Insert(context.Background(), "messages", map[string]any{
		"text":      "hi",
		"timestamp": docstore.ServerTimestamp,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap := waitForDocs(t, ch, 1)
	if snap.Docs[0].Data["text"] != "hi" {
		t.Errorf("text = %v, want hi", snap.Docs[0].Data["text"])
	}
	if _, ok := snap.Docs[0].Data["timestamp"].(time.Time); !ok {
		t.Errorf("timestamp = %T, want store-assigned time.Time", snap.Docs[0].Data["timestamp"])
	}
}

func TestServerTimestampsMonotonic(t *testing.T) {
	s := New()
	defer s.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := s.Insert(ctx, "messages", map[string]any{
			"conversationId": "alice_bob",
			"timestamp":      docstore.ServerTimestamp,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "messages", OrderBy: "timestamp"})
	defer cancel()
	snap := waitForDocs(t, ch, 10)

	prev := time.Time{}
	for i, d := range snap.Docs {
		ts := d.Data["timestamp"].(time.Time)
		if !ts.After(prev) {
			t.Fatalf("doc[%d] timestamp %v does not advance past %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestMergePreservesOtherParticipants(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Merge("conversations", "alice_bob", map[string]any{
			"participants": []string{"alice", "bob"},
			"lastMessage":  "first",
			"unreadCount":  map[string]any{"alice": 2},
		})
	})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}

	err = s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Merge("conversations", "alice_bob", map[string]any{
			"lastMessage": "second",
			"unreadCount": map[string]any{"bob": 1},
		})
	})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "conversations"})
	defer cancel()
	snap := waitForDocs(t, ch, 1)

	data := snap.Docs[0].Data
	counts := data["unreadCount"].(map[string]any)
	if counts["alice"] != 2 {
		t.Errorf("unreadCount[alice] = %v, want 2 (erased by merge)", counts["alice"])
	}
	if counts["bob"] != 1 {
		t.Errorf("unreadCount[bob] = %v, want 1", counts["bob"])
	}
	if data["lastMessage"] != "second" {
		t.Errorf("lastMessage = %v, want second", data["lastMessage"])
	}
}

func TestTransactionAtomicity(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Insert("messages", map[string]any{"text": "one"}); err != nil {
			return err
		}
		if err := tx.Merge("conversations", "bad/id", map[string]any{"lastMessage": "one"}); err != nil {
			return err
		}
		_, err := tx.Insert("messages", map[string]any{"text": "two"})
		return err
	})
	if err == nil {
		t.Fatal("transaction with malformed id committed, want error")
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "messages"})
	defer cancel()
	if snap := nextSnapshot(t, ch); len(snap.Docs) != 0 {
		t.Errorf("store has %d messages after aborted transaction, want 0", len(snap.Docs))
	}
}

func TestDelete(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	ctx := context.Background()

	id, err := s.Insert(ctx, "messages", map[string]any{"text": "gone soon"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	keep, err := s.Insert(ctx, "messages", map[string]any{"text": "stays"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Delete(ctx, "messages", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "messages"})
	defer cancel()
	snap := waitForDocs(t, ch, 1)
	if snap.Docs[0].ID != keep {
		t.Errorf("remaining doc = %q, want %q", snap.Docs[0].ID, keep)
	}

	// Deleting an absent id is a no-op, not an error.
	if err := s.Delete(ctx, "messages", "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

func TestRecentWindow(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if _, err := s.Insert(ctx, "messages", map[string]any{
			"conversationId": "alice_bob",
			"seq":            i,
			"timestamp":      docstore.ServerTimestamp,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	q := docstore.Query{
		Collection:  "messages",
		Filters:     []docstore.Filter{{Field: "conversationId", Op: docstore.OpEqual, Value: "alice_bob"}},
		OrderBy:     "timestamp",
		LimitToLast: 50,
	}
	ch, cancel := subscribe(t, s, q)
	defer cancel()

	snap := waitForDocs(t, ch, 50)
	if first := snap.Docs[0].Data["seq"]; first != 5 {
		t.Errorf("window starts at seq %v, want 5", first)
	}
	if last := snap.Docs[49].Data["seq"]; last != 54 {
		t.Errorf("window ends at seq %v, want 54", last)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	defer s.Close(context.Background())
	ctx := context.Background()

	if _, err := s.Insert(ctx, "conversations", map[string]any{
		"unreadCount": map[string]any{"alice": 1},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "conversations"})
	snap := waitForDocs(t, ch, 1)
	cancel()

	// Corrupt the delivered copy.
	snap.Docs[0].Data["unreadCount"].(map[string]any)["alice"] = 99

	ch2, cancel2 := subscribe(t, s, docstore.Query{Collection: "conversations"})
	defer cancel2()
	fresh := waitForDocs(t, ch2, 1)
	if got := fresh.Docs[0].Data["unreadCount"].(map[string]any)["alice"]; got != 1 {
		t.Errorf("store state leaked through snapshot: unreadCount[alice] = %v, want 1", got)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Close(ctx)

	if _, err := s.Insert(ctx, "messages", map[string]any{"text": "hi"}); err != docstore.ErrClosed {
		t.Errorf("Insert after close = %v, want ErrClosed", err)
	}
	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, err := tx.Insert("messages", map[string]any{"text": "hi"})
		return err
	})
	if err != docstore.ErrClosed {
		t.Errorf("RunTransaction after close = %v, want ErrClosed", err)
	}
}
