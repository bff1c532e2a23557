package docstore

import (
	"testing"
	"time"
)

func TestEvaluateFilters(t *testing.T) {
	docs := []Document{
		{ID: "1", Data: map[string]any{"conversationId": "alice_bob", "text": "hi"}},
		{ID: "2", Data: map[string]any{"conversationId": "alice_carol", "text": "yo"}},
		{ID: "3", Data: map[string]any{"groupId": "g1", "text": "all"}},
		{ID: "4", Data: map[string]any{"members": []string{"alice", "bob"}}},
		{ID: "5", Data: map[string]any{"members": []any{"carol"}}},
	}

	tests := []struct {
		name    string
		q       Query
		wantIDs []string
	}{
		{
			"equality",
			Query{Filters: []Filter{{Field: "conversationId", Op: OpEqual, Value: "alice_bob"}}},
			[]string{"1"},
		},
		{
			"equality no match",
			Query{Filters: []Filter{{Field: "conversationId", Op: OpEqual, Value: "bob_carol"}}},
			nil,
		},
		{
			"missing field excluded",
			Query{Filters: []Filter{{Field: "groupId", Op: OpEqual, Value: "g1"}}},
			[]string{"3"},
		},
		{
			"array contains string slice",
			Query{Filters: []Filter{{Field: "members", Op: OpArrayContains, Value: "bob"}}},
			[]string{"4"},
		},
		{
			"array contains any slice",
			Query{Filters: []Filter{{Field: "members", Op: OpArrayContains, Value: "carol"}}},
			[]string{"5"},
		},
		{
			"no filters match all",
			Query{},
			[]string{"1", "2", "3", "4", "5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.q, docs)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d docs, want %d", len(got), len(tt.wantIDs))
			}
			for i, d := range got {
				if d.ID != tt.wantIDs[i] {
					t.Errorf("doc[%d] = %q, want %q", i, d.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestEvaluateOrdering(t *testing.T) {
	t0 := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "c", Data: map[string]any{"timestamp": t0.Add(2 * time.Second)}},
		{ID: "a", Data: map[string]any{"timestamp": t0}},
		{ID: "b", Data: map[string]any{"timestamp": t0.Add(time.Second)}},
	}
	got := Evaluate(Query{OrderBy: "timestamp"}, docs)
	want := []string{"a", "b", "c"}
	for i, d := range got {
		if d.ID != want[i] {
			t.Errorf("doc[%d] = %q, want %q", i, d.ID, want[i])
		}
	}
}

// JSON-backed drivers store times as RFC3339 strings; ordering must
// agree with native time ordering.
func TestEvaluateOrderingStringTimes(t *testing.T) {
	docs := []Document{
		{ID: "b", Data: map[string]any{"timestamp": "2025-03-09T12:00:01Z"}},
		{ID: "a", Data: map[string]any{"timestamp": "2025-03-09T12:00:00.250Z"}},
	}
	got := Evaluate(Query{OrderBy: "timestamp"}, docs)
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("order = [%s %s], want [a b]", got[0].ID, got[1].ID)
	}
}

func TestEvaluateIDTiebreak(t *testing.T) {
	t0 := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "z", Data: map[string]any{"timestamp": t0}},
		{ID: "a", Data: map[string]any{"timestamp": t0}},
	}
	got := Evaluate(Query{OrderBy: "timestamp"}, docs)
	if got[0].ID != "a" {
		t.Errorf("first = %q, want a", got[0].ID)
	}
}

func TestEvaluateWindows(t *testing.T) {
	var docs []Document
	t0 := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		docs = append(docs, Document{
			ID:   string(rune('a' + i)),
			Data: map[string]any{"timestamp": t0.Add(time.Duration(i) * time.Second)},
		})
	}

	head := Evaluate(Query{OrderBy: "timestamp", Limit: 2}, docs)
	if len(head) != 2 || head[0].ID != "a" || head[1].ID != "b" {
		t.Errorf("Limit head = %v, want [a b]", ids(head))
	}

	tail := Evaluate(Query{OrderBy: "timestamp", LimitToLast: 2}, docs)
	if len(tail) != 2 || tail[0].ID != "d" || tail[1].ID != "e" {
		t.Errorf("LimitToLast tail = %v, want [d e]", ids(tail))
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
