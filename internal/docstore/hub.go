package docstore

import (
	"context"
	"sync"
)

// Hub fans committed writes out to live subscriptions for drivers that
// keep their data in-process. Each subscription runs its own goroutine:
// when poked it re-fetches the query result and hands it to the
// callback. Deliveries are therefore serialized per subscription, a
// burst of writes coalesces into one fetch, and a fetch always observes
// state at least as new as the write that triggered it.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*hubSub
	next   int
	closed bool
}

type hubSub struct {
	collection string
	poke       chan struct{}
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func (s *hubSub) halt() { s.stopOnce.Do(func() { close(s.stop) }) }

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*hubSub)}
}

// Subscribe registers fn against a collection; fetch must return the
// query's current result under the driver's own locking. The initial
// snapshot is delivered from the subscription goroutine shortly after
// registration. When fetch fails the delivery is skipped, so a broken
// driver surfaces as a stalled stream rather than an empty snapshot.
func (h *Hub) Subscribe(ctx context.Context, collection string, fetch func() (Snapshot, error), fn SnapshotFunc) (CancelFunc, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &hubSub{
		collection: collection,
		poke:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	// Queue the initial snapshot.
	sub.poke <- struct{}{}

	go func() {
		defer close(sub.done)
		defer h.remove(id)
		for {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			case <-sub.poke:
				select {
				case <-sub.stop:
					return
				default:
				}
				if snap, err := fetch(); err == nil {
					fn(snap)
				}
			}
		}
	}()

	cancel := func() {
		h.remove(id)
		sub.halt()
		<-sub.done
	}
	return cancel, nil
}

// Notify pokes every subscription watching one of the collections.
// Callers invoke it after their write is visible to fetch.
func (h *Hub) Notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		for _, c := range collections {
			if sub.collection != c {
				continue
			}
			select {
			case sub.poke <- struct{}{}:
			default:
				// A fetch is already pending and will see this write.
			}
			break
		}
	}
}

// Close cancels every subscription and waits for their callbacks to
// drain. Further subscribes fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*hubSub, 0, len(h.subs))
	for id, sub := range h.subs {
		delete(h.subs, id)
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.halt()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
