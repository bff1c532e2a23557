package docstore

import (
	"sort"
	"time"
)

// Matches reports whether doc satisfies every filter in q.
func Matches(q Query, doc Document) bool {
	for _, f := range q.Filters {
		v, ok := doc.Data[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if !equalValues(v, f.Value) {
				return false
			}
		case OpArrayContains:
			if !arrayContains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Evaluate filters, orders and windows docs per q. The input order is
// irrelevant; the output is deterministic.
func Evaluate(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if Matches(q, d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			if c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy]); c != 0 {
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if q.LimitToLast > 0 && len(out) > q.LimitToLast {
		out = out[len(out)-q.LimitToLast:]
	}
	return out
}

func equalValues(a, b any) bool {
	if at, ok := asTimeValue(a); ok {
		bt, ok := asTimeValue(b)
		return ok && at.Equal(bt)
	}
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func arrayContains(v, want any) bool {
	switch arr := v.(type) {
	case []string:
		for _, e := range arr {
			if equalValues(e, want) {
				return true
			}
		}
	case []any:
		for _, e := range arr {
			if equalValues(e, want) {
				return true
			}
		}
	}
	return false
}

// compareValues orders two field values. Missing values (nil) sort
// first so freshly staged documents never shuffle committed ones.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if at, ok := asTimeValue(a); ok {
		if bt, ok := asTimeValue(b); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

// asTimeValue accepts native times and the RFC3339 strings JSON-backed
// drivers produce.
func asTimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
