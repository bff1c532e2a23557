// Package docstore defines the document-store boundary: collection-scoped
// queries with live full-snapshot subscriptions, single-document writes,
// and multi-document transactions with per-document merge semantics.
//
// Drivers live in the subpackages memstore, sqlstore and mongostore. The
// shared query evaluator, merge logic and subscription hub here keep their
// observable behavior identical.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter narrows a query to documents whose field matches a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects an ordered slice of one collection. Ordering is
// ascending by OrderBy with the document id as tiebreak. Limit keeps
// the head of the result, LimitToLast the tail; at most one is set.
type Query struct {
	Collection  string
	Filters     []Filter
	OrderBy     string
	Limit       int
	LimitToLast int
}

// Document is one stored record.
type Document struct {
	ID   string
	Data map[string]any
}

// Snapshot is the full ordered result of a query at one point in time.
type Snapshot struct {
	Docs []Document
}

// SnapshotFunc receives query results. Calls for one subscription are
// serialized and ordered: a newer snapshot never precedes an older one.
type SnapshotFunc func(Snapshot)

// CancelFunc tears down a subscription. It blocks until any in-flight
// callback returns; afterwards the callback never runs again. It must
// not be called from inside the callback itself.
type CancelFunc func()

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("docstore: store closed")

// ValidateCollection rejects the empty collection name. Drivers share
// this check so an invalid write aborts the same way everywhere.
func ValidateCollection(collection string) error {
	if collection == "" {
		return errors.New("docstore: empty collection name")
	}
	return nil
}

// ValidateID enforces path-segment rules on document ids: non-empty,
// no separator or NUL characters.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("docstore: empty document id")
	}
	if strings.ContainsAny(id, "/\x00") {
		return fmt.Errorf("docstore: malformed document id %q", id)
	}
	return nil
}

// Tx stages writes that commit atomically: either every staged
// operation applies or none does.
type Tx interface {
	// Insert stages a new document and returns its id.
	Insert(collection string, fields map[string]any) (string, error)
	// Merge stages a partial update: only keys present in patch are
	// written, nested maps merge key by key, and the document is
	// created if absent.
	Merge(collection, id string, patch map[string]any) error
}

// Store is the document-store contract.
//
// Subscribe delivers an initial snapshot shortly after registration and
// a fresh full snapshot after every committed write that may affect the
// query. A failed driver connection surfaces as a stalled stream, never
// as a callback panic.
type Store interface {
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (CancelFunc, error)
	Insert(ctx context.Context, collection string, fields map[string]any) (string, error)
	Delete(ctx context.Context, collection, id string) error
	RunTransaction(ctx context.Context, fn func(Tx) error) error
	Close(ctx context.Context) error
}
