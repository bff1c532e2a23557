package docstore

import (
	"sync"
	"time"
)

// ServerTimestamp marks a field the store fills with its own clock at
// commit time. Recognized at the top level of inserted fields and merge
// patches. Store-assigned times are strictly monotonic per store, which
// is what keeps message ordering global across concurrent writers.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// MergePatch applies patch onto dst, overwriting only the keys present
// in patch. Map values merge recursively, everything else replaces.
// dst may be nil; the result is a fresh map, inputs are not mutated.
func MergePatch(dst, patch map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range patch {
		pm, pok := v.(map[string]any)
		if !pok {
			out[k] = v
			continue
		}
		dm, dok := out[k].(map[string]any)
		if !dok {
			dm = nil
		}
		out[k] = MergePatch(dm, pm)
	}
	return out
}

// FillServerTimestamps returns a copy of fields with every top-level
// ServerTimestamp sentinel replaced by now.
func FillServerTimestamps(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

// Clock issues strictly increasing UTC timestamps anchored to wall
// time. Two commits can never share a timestamp, so ordering by the
// stamped field is total.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
