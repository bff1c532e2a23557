package memps

import (
	"context"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/model"
)

func watchStatus(t *testing.T, s *Store, uid string) (<-chan model.PresenceRecord, func()) {
	t.Helper()
	ch := make(chan model.PresenceRecord, 16)
	cancel, err := s.WatchStatus(context.Background(), uid, func(rec model.PresenceRecord) { ch <- rec })
	if err != nil {
		t.Fatalf("WatchStatus: %v", err)
	}
	return ch, cancel
}

func nextRecord(t *testing.T, ch <-chan model.PresenceRecord) model.PresenceRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for presence record")
		return model.PresenceRecord{}
	}
}

func TestWatchDeliversInitialValue(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetStatus(ctx, "bob", model.PresenceRecord{Status: model.StatusOnline}); err != nil {
		t.Fatal(err)
	}

	ch, cancel := watchStatus(t, s, "bob")
	defer cancel()

	if rec := nextRecord(t, ch); !rec.Online() {
		t.Errorf("initial record = %+v, want online", rec)
	}
}

func TestWatchUnknownUIDReadsOffline(t *testing.T) {
	s := New()
	defer s.Close()

	ch, cancel := watchStatus(t, s, "ghost")
	defer cancel()

	if rec := nextRecord(t, ch); rec.Status != model.StatusOffline {
		t.Errorf("unknown uid record = %+v, want offline", rec)
	}
}

func TestWatchDeliversUpdates(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	ch, cancel := watchStatus(t, s, "bob")
	defer cancel()
	nextRecord(t, ch) // initial offline

	if err := s.SetStatus(ctx, "bob", model.PresenceRecord{Status: model.StatusOnline, LastChanged: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if rec := nextRecord(t, ch); !rec.Online() {
		t.Errorf("record = %+v, want online", rec)
	}

	if err := s.SetStatus(ctx, "bob", model.PresenceRecord{Status: model.StatusOffline, LastChanged: time.Now()}); err != nil {
		t.Fatal(err)
	}
	// A burst may coalesce; the final observed value must be offline.
	deadline := time.After(time.Second)
	for {
		select {
		case rec := <-ch:
			if rec.Status == model.StatusOffline {
				return
			}
		case <-deadline:
			t.Fatal("never observed offline after SetStatus")
		}
	}
}

func TestWatchIgnoresOtherUIDs(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	ch, cancel := watchStatus(t, s, "bob")
	defer cancel()
	nextRecord(t, ch) // initial

	if err := s.SetStatus(ctx, "carol", model.PresenceRecord{Status: model.StatusOnline}); err != nil {
		t.Fatal(err)
	}

	select {
	case rec := <-ch:
		t.Errorf("unexpected delivery for other uid: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTypingWatch(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	ch := make(chan bool, 16)
	cancel, err := s.WatchTyping(ctx, "bob", func(v bool) { ch <- v })
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	select {
	case v := <-ch:
		if v {
			t.Error("initial typing = true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial typing value")
	}

	if err := s.SetTyping(ctx, "bob", true); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-ch:
		if !v {
			t.Error("typing = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing update")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	delivered := make(chan struct{}, 16)
	cancel, err := s.WatchStatus(ctx, "bob", func(model.PresenceRecord) { delivered <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	<-delivered // initial

	cancel()

	if err := s.SetStatus(ctx, "bob", model.PresenceRecord{Status: model.StatusOnline}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-delivered:
		t.Error("delivery after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := New()
	s.Close()

	if err := s.SetStatus(context.Background(), "bob", model.PresenceRecord{}); err == nil {
		t.Error("SetStatus after Close succeeded, want error")
	}
	if _, err := s.WatchTyping(context.Background(), "bob", func(bool) {}); err == nil {
		t.Error("WatchTyping after Close succeeded, want error")
	}
}
