// Package stream manages one live change-stream subscription at a time.
// A Slot is the unit the reconciler retargets: swapping in a new query
// tears the old subscription down completely before the new one opens,
// so two targets can never deliver interleaved snapshots through the
// same slot.
package stream

import (
	"context"
	"sync"
)

// SubscribeFunc opens a live subscription and returns its cancel
// function. The cancel function must block until any in-flight callback
// has returned and guarantee no further callbacks afterwards; every
// store and presence driver here provides that contract.
type SubscribeFunc func(ctx context.Context) (func(), error)

// Slot owns at most one live subscription.
type Slot struct {
	mu     sync.Mutex
	cancel func()
}

func NewSlot() *Slot {
	return &Slot{}
}

// Swap cancels the current subscription, waits for it to quiesce, then
// opens the one returned by subscribe. Strictly ordered, no overlap: by
// the time subscribe runs, the previous subscription can no longer
// deliver. If subscribe fails the slot is left empty and the error is
// returned.
func (s *Slot) Swap(ctx context.Context, subscribe SubscribeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stop()
	cancel, err := subscribe(ctx)
	if err != nil {
		return err
	}
	s.cancel = cancel
	return nil
}

// Clear cancels the current subscription, if any, and leaves the slot
// empty. Blocks until the subscription has quiesced.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
}

// stop assumes s.mu is held.
func (s *Slot) stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
