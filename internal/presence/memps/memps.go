// Package memps is the in-memory presence driver. It backs
// single-process sessions and every test that needs to script presence
// and typing changes.
package memps

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/presence"
)

// Store holds presence and typing state in process memory.
type Store struct {
	mu      sync.Mutex
	status  map[string]model.PresenceRecord
	typing  map[string]bool
	watches map[int]*watch
	next    int
	closed  bool
}

func New() *Store {
	return &Store{
		status:  make(map[string]model.PresenceRecord),
		typing:  make(map[string]bool),
		watches: make(map[int]*watch),
	}
}

// watch delivers the latest value for one uid through its own
// goroutine: callbacks are serialized, and a burst of writes coalesces
// to the newest value.
type watch struct {
	uid     string
	kind    watchKind
	deliver func(any)
	ch      chan any
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

type watchKind int

const (
	kindStatus watchKind = iota
	kindTyping
)

func (w *watch) halt() { w.once.Do(func() { close(w.stop) }) }

// push replaces any pending value with v.
func (w *watch) push(v any) {
	for {
		select {
		case w.ch <- v:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

func (w *watch) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case v := <-w.ch:
			select {
			case <-w.stop:
				return
			default:
			}
			w.deliver(v)
		}
	}
}

func (s *Store) WatchStatus(ctx context.Context, uid string, fn func(model.PresenceRecord)) (presence.CancelFunc, error) {
	return s.register(ctx, uid, kindStatus, func(v any) { fn(v.(model.PresenceRecord)) })
}

func (s *Store) WatchTyping(ctx context.Context, uid string, fn func(bool)) (presence.CancelFunc, error) {
	return s.register(ctx, uid, kindTyping, func(v any) { fn(v.(bool)) })
}

func (s *Store) register(ctx context.Context, uid string, kind watchKind, deliver func(any)) (presence.CancelFunc, error) {
	w := &watch{
		uid:     uid,
		kind:    kind,
		deliver: deliver,
		ch:      make(chan any, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, presence.ErrClosed
	}
	id := s.next
	s.next++
	s.watches[id] = w

	// Queue the current value; unknown uids read as offline/not-typing.
	switch kind {
	case kindStatus:
		rec, ok := s.status[uid]
		if !ok {
			rec = model.PresenceRecord{Status: model.StatusOffline}
		}
		w.push(rec)
	case kindTyping:
		w.push(s.typing[uid])
	}
	s.mu.Unlock()

	go w.loop(ctx)

	cancel := func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
		w.halt()
		<-w.done
	}
	return cancel, nil
}

func (s *Store) SetStatus(ctx context.Context, uid string, rec model.PresenceRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.ErrClosed
	}
	s.status[uid] = rec
	for _, w := range s.watches {
		if w.uid == uid && w.kind == kindStatus {
			w.push(rec)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) SetTyping(ctx context.Context, uid string, typing bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return presence.ErrClosed
	}
	s.typing[uid] = typing
	for _, w := range s.watches {
		if w.uid == uid && w.kind == kindTyping {
			w.push(typing)
		}
	}
	s.mu.Unlock()
	return nil
}

// Close cancels every watch and waits for their callbacks to drain.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watches := make([]*watch, 0, len(s.watches))
	for id, w := range s.watches {
		delete(s.watches, id)
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		w.halt()
	}
	for _, w := range watches {
		<-w.done
	}
	return nil
}
