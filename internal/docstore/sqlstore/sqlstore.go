// Package sqlstore is the embedded SQLite document-store driver. It
// persists documents as JSON rows in a single table and serves the
// live-snapshot contract through the shared hub, which makes it a
// drop-in for sessions that need durability without a server.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parleyhq/parley/internal/docstore"
)

// Store wraps the SQLite connection for the app-owned chat.db.
type Store struct {
	db    *sql.DB
	hub   *docstore.Hub
	clock docstore.Clock

	mu     sync.Mutex
	closed bool
}

// Open creates a SQLite connection with WAL mode and recommended
// pragmas, then runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, hub: docstore.NewHub()}
	if _, err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.CancelFunc, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	fetch := func() (docstore.Snapshot, error) { return s.snapshot(ctx, q) }
	return s.hub.Subscribe(ctx, q.Collection, fetch, fn)
}

func (s *Store) snapshot(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields
		FROM documents
		WHERE collection = ?`, q.Collection)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	defer func() { _ = rows.Close() }()

	var docs []docstore.Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return docstore.Snapshot{}, err
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return docstore.Snapshot{}, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, docstore.Document{ID: id, Data: fields})
	}
	if err := rows.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Docs: docstore.Evaluate(q, docs)}, nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	if err := s.guard(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	raw, err := json.Marshal(docstore.FillServerTimestamps(fields, s.clock.Now()))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields)
		VALUES (?, ?, ?)`, collection, id, string(raw)); err != nil {
		return "", err
	}

	s.hub.Notify(collection)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return err
	}

	s.hub.Notify(collection)
	return nil
}

// RunTransaction stages writes through fn and applies them in one
// SQLite transaction. Staging errors abort before the transaction
// begins; a commit failure leaves no partial writes behind.
func (s *Store) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	t := &sqlTx{}
	if err := fn(t); err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	touched := make(map[string]struct{}, len(t.ops))
	for _, op := range t.ops {
		if err := s.apply(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
		touched[op.coll] = struct{}{}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	colls := make([]string, 0, len(touched))
	for c := range touched {
		colls = append(colls, c)
	}
	s.hub.Notify(colls...)
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, op sqlOp) error {
	now := s.clock.Now()
	switch op.kind {
	case opInsert:
		raw, err := json.Marshal(docstore.FillServerTimestamps(op.fields, now))
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields)
			VALUES (?, ?, ?)`, op.coll, op.id, string(raw))
		return err
	case opMerge:
		var existing map[string]any
		var raw string
		err := tx.QueryRowContext(ctx, `
			SELECT fields
			FROM documents
			WHERE collection = ? AND id = ?`, op.coll, op.id).Scan(&raw)
		switch {
		case err == sql.ErrNoRows:
			// Merge creates the document.
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("decode document %s: %w", op.id, err)
			}
		}

		patch := docstore.FillServerTimestamps(op.fields, now)
		merged, err := json.Marshal(docstore.MergePatch(existing, patch))
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields)
			VALUES (?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				fields = excluded.fields`, op.coll, op.id, string(merged))
		return err
	}
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
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

type opKind int

const (
	opInsert opKind = iota
	opMerge
)

type sqlOp struct {
	kind   opKind
	coll   string
	id     string
	fields map[string]any
}

type sqlTx struct {
	ops []sqlOp
}

func (t *sqlTx) Insert(collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.ops = append(t.ops, sqlOp{kind: opInsert, coll: collection, id: id, fields: fields})
	return id, nil
}

func (t *sqlTx) Merge(collection, id string, patch map[string]any) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	t.ops = append(t.ops, sqlOp{kind: opMerge, coll: collection, id: id, fields: patch})
	return nil
}
