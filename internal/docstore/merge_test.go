package docstore

import (
	"testing"
	"time"
)

// Regression shape for the unread-counter contract: patching one
// participant's counter must not erase the other's.
func TestMergePatchPreservesSiblingKeys(t *testing.T) {
	dst := map[string]any{
		"participants": []string{"alice", "bob"},
		"lastMessage":  "old",
		"unreadCount":  map[string]any{"alice": 3},
	}
	patch := map[string]any{
		"lastMessage": "new",
		"unreadCount": map[string]any{"bob": 1},
	}

	got := MergePatch(dst, patch)

	counts, ok := got["unreadCount"].(map[string]any)
	if !ok {
		t.Fatalf("unreadCount = %T, want map", got["unreadCount"])
	}
	if counts["alice"] != 3 {
		t.Errorf("unreadCount[alice] = %v, want 3", counts["alice"])
	}
	if counts["bob"] != 1 {
		t.Errorf("unreadCount[bob] = %v, want 1", counts["bob"])
	}
	if got["lastMessage"] != "new" {
		t.Errorf("lastMessage = %v, want new", got["lastMessage"])
	}
	if _, ok := got["participants"]; !ok {
		t.Error("participants dropped by merge")
	}
}

func TestMergePatchDoesNotMutateInputs(t *testing.T) {
	dst := map[string]any{"unreadCount": map[string]any{"alice": 3}}
	patch := map[string]any{"unreadCount": map[string]any{"bob": 1}}

	MergePatch(dst, patch)

	if _, ok := dst["unreadCount"].(map[string]any)["bob"]; ok {
		t.Error("dst mutated by MergePatch")
	}
	if _, ok := patch["unreadCount"].(map[string]any)["alice"]; ok {
		t.Error("patch mutated by MergePatch")
	}
}

func TestMergePatchReplacesScalars(t *testing.T) {
	got := MergePatch(map[string]any{"a": 1, "b": "x"}, map[string]any{"b": "y"})
	if got["a"] != 1 || got["b"] != "y" {
		t.Errorf("got %v, want a=1 b=y", got)
	}
}

func TestMergePatchNilDst(t *testing.T) {
	got := MergePatch(nil, map[string]any{"unreadCount": map[string]any{"bob": 1}})
	counts := got["unreadCount"].(map[string]any)
	if counts["bob"] != 1 {
		t.Errorf("unreadCount[bob] = %v, want 1", counts["bob"])
	}
}

func TestFillServerTimestamps(t *testing.T) {
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	fields := map[string]any{
		"text":      "hi",
		"timestamp": ServerTimestamp,
	}
	got := FillServerTimestamps(fields, now)
	if got["text"] != "hi" {
		t.Errorf("text = %v, want hi", got["text"])
	}
	if ts, ok := got["timestamp"].(time.Time); !ok || !ts.Equal(now) {
		t.Errorf("timestamp = %v, want %v", got["timestamp"], now)
	}
	// Original still carries the sentinel.
	if _, ok := fields["timestamp"].(serverTimestamp); !ok {
		t.Error("input fields mutated")
	}
}

func TestClockStrictlyIncreases(t *testing.T) {
	var c Clock
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if !next.After(prev) {
			t.Fatalf("clock went %v -> %v", prev, next)
		}
		prev = next
	}
}
