package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/docstore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func subscribe(t *testing.T, s *Store, q docstore.Query) (<-chan docstore.Snapshot, docstore.CancelFunc) {
	t.Helper()
	ch := make(chan docstore.Snapshot, 64)
	cancel, err := s.Subscribe(context.Background(), q, func(snap docstore.Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return ch, cancel
}

func waitForDocs(t *testing.T, ch <-chan docstore.Snapshot, n int) docstore.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
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

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)

	// Open already migrated; a second run must be a no-op.
	result, err := s.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestInsertRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "messages", map[string]any{
		"text":           "hi",
		"conversationId": "alice_bob",
		"timestamp":      docstore.ServerTimestamp,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	q := docstore.Query{
		Collection: "messages",
		Filters:    []docstore.Filter{{Field: "conversationId", Op: docstore.OpEqual, Value: "alice_bob"}},
		OrderBy:    "timestamp",
	}
	ch, cancel := subscribe(t, s, q)
	defer cancel()

	snap := waitForDocs(t, ch, 1)
	data := snap.Docs[0].Data
	if data["text"] != "hi" {
		t.Errorf("text = %v, want hi", data["text"])
	}
	// JSON storage hands times back as RFC3339 strings.
	raw, ok := data["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp = %T, want string", data["timestamp"])
	}
	if _, err := time.Parse(time.RFC3339Nano, raw); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", raw, err)
	}
}

func TestMergePreservesOtherParticipants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Merge("conversations", "alice_bob", map[string]any{
			"participants": []string{"alice", "bob"},
			"unreadCount":  map[string]any{"alice": 2},
		})
	})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}

	err = s.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Merge("conversations", "alice_bob", map[string]any{
			"unreadCount": map[string]any{"bob": 1},
		})
	})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "conversations"})
	defer cancel()
	snap := waitForDocs(t, ch, 1)

	counts := snap.Docs[0].Data["unreadCount"].(map[string]any)
	// JSON numbers decode as float64.
	if counts["alice"] != float64(2) {
		t.Errorf("unreadCount[alice] = %v, want 2", counts["alice"])
	}
	if counts["bob"] != float64(1) {
		t.Errorf("unreadCount[bob] = %v, want 1", counts["bob"])
	}
}

func TestTransactionAtomicity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Insert("messages", map[string]any{"text": "one"}); err != nil {
			return err
		}
		return tx.Merge("conversations", "bad/id", map[string]any{"lastMessage": "one"})
	})
	if err == nil {
		t.Fatal("transaction with malformed id committed, want error")
	}

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "messages"})
	defer cancel()
	snap := <-ch
	if len(snap.Docs) != 0 {
		t.Errorf("store has %d messages after aborted transaction, want 0", len(snap.Docs))
	}
}

func TestDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Insert(ctx, "messages", map[string]any{"text": "persisted"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close(ctx)

	ch, cancel := subscribe(t, reopened, docstore.Query{Collection: "messages"})
	defer cancel()
	snap := waitForDocs(t, ch, 1)
	if snap.Docs[0].ID != id || snap.Docs[0].Data["text"] != "persisted" {
		t.Errorf("reopened doc = %+v, want id %s text persisted", snap.Docs[0], id)
	}
}

func TestLiveUpdateAfterWrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ch, cancel := subscribe(t, s, docstore.Query{Collection: "messages", OrderBy: "timestamp"})
	defer cancel()
	waitForDocs(t, ch, 0)

	if _, err := s.Insert(ctx, "messages", map[string]any{
		"text":      "live",
		"timestamp": docstore.ServerTimestamp,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	snap := waitForDocs(t, ch, 1)
	if snap.Docs[0].Data["text"] != "live" {
		t.Errorf("text = %v, want live", snap.Docs[0].Data["text"])
	}
}
