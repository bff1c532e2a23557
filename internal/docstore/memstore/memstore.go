// Package memstore is the in-memory document-store driver. It serves
// single-process sessions and the test suites of every layer above the
// store boundary, with the full contract: live snapshots, atomic
// transactions and merge writes.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/docstore"
)

// Store keeps every collection in process memory.
type Store struct {
	mu     sync.RWMutex
	colls  map[string]map[string]map[string]any
	clock  docstore.Clock
	hub    *docstore.Hub
	closed bool
}

func New() *Store {
	return &Store{
		colls: make(map[string]map[string]map[string]any),
		hub:   docstore.NewHub(),
	}
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.CancelFunc, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	fetch := func() (docstore.Snapshot, error) { return s.snapshot(q), nil }
	return s.hub.Subscribe(ctx, q.Collection, fetch, fn)
}

func (s *Store) snapshot(q docstore.Query) docstore.Snapshot {
	s.mu.RLock()
	docs := make([]docstore.Document, 0, len(s.colls[q.Collection]))
	for id, fields := range s.colls[q.Collection] {
		docs = append(docs, docstore.Document{ID: id, Data: clone(fields)})
	}
	s.mu.RUnlock()
	return docstore.Snapshot{Docs: docstore.Evaluate(q, docs)}
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", docstore.ErrClosed
	}
	s.put(collection, id, docstore.FillServerTimestamps(clone(fields), s.clock.Now()))
	s.mu.Unlock()

	s.hub.Notify(collection)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	delete(s.colls[collection], id)
	s.mu.Unlock()

	s.hub.Notify(collection)
	return nil
}

// RunTransaction stages writes through fn and commits them atomically.
// Staging errors abort before anything is applied; fn returning an
// error discards the staged set.
func (s *Store) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	t := &memTx{}
	if err := fn(t); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	touched := make(map[string]struct{}, len(t.ops))
	for _, op := range t.ops {
		now := s.clock.Now()
		switch op.kind {
		case opInsert:
			s.put(op.coll, op.id, docstore.FillServerTimestamps(op.fields, now))
		case opMerge:
			existing := s.colls[op.coll][op.id]
			patch := docstore.FillServerTimestamps(op.fields, now)
			s.put(op.coll, op.id, docstore.MergePatch(existing, patch))
		}
		touched[op.coll] = struct{}{}
	}
	s.mu.Unlock()

	colls := make([]string, 0, len(touched))
	for c := range touched {
		colls = append(colls, c)
	}
	s.hub.Notify(colls...)
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()
	return nil
}

// put assumes s.mu is held.
func (s *Store) put(collection, id string, fields map[string]any) {
	coll := s.colls[collection]
	if coll == nil {
		coll = make(map[string]map[string]any)
		s.colls[collection] = coll
	}
	coll[id] = fields
}

type opKind int

const (
	opInsert opKind = iota
	opMerge
)

type memOp struct {
	kind   opKind
	coll   string
	id     string
	fields map[string]any
}

type memTx struct {
	ops []memOp
}

func (t *memTx) Insert(collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.ops = append(t.ops, memOp{kind: opInsert, coll: collection, id: id, fields: clone(fields)})
	return id, nil
}

func (t *memTx) Merge(collection, id string, patch map[string]any) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	t.ops = append(t.ops, memOp{kind: opMerge, coll: collection, id: id, fields: clone(patch)})
	return nil
}

func clone(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
