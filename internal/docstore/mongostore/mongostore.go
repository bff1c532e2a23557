// Package mongostore is the MongoDB document-store driver. Change
// streams drive the live-snapshot contract and multi-document writes
// run in server transactions, so it needs a replica-set deployment.
package mongostore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/parleyhq/parley/internal/docstore"
)

// Store serves the document contract from one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the deployment at uri and pings it.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Subscribe opens a change stream on the query's collection and re-runs
// the query after every event. The snapshot loop is one goroutine, so
// deliveries stay serialized and ordered; stream errors stall the
// subscription rather than surfacing into the callback.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.CancelFunc, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cs, err := s.db.Collection(q.Collection).Watch(streamCtx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", q.Collection, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = cs.Close(context.Background()) }()

		if snap, err := s.snapshot(streamCtx, q); err == nil {
			fn(snap)
		}
		for cs.Next(streamCtx) {
			if snap, err := s.snapshot(streamCtx, q); err == nil {
				fn(snap)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *Store) snapshot(ctx context.Context, q docstore.Query) (docstore.Snapshot, error) {
	opts := options.Find()
	tail := false
	switch {
	case q.LimitToLast > 0 && q.OrderBy != "":
		// Fetch the window from the end by inverting the sort, then
		// restore ascending order below.
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: -1}, {Key: "_id", Value: -1}})
		opts.SetLimit(int64(q.LimitToLast))
		tail = true
	case q.OrderBy != "":
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: 1}, {Key: "_id", Value: 1}})
		if q.Limit > 0 {
			opts.SetLimit(int64(q.Limit))
		}
	case q.Limit > 0:
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.db.Collection(q.Collection).Find(ctx, compileFilter(q), opts)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return docstore.Snapshot{}, err
	}

	docs := make([]docstore.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, decodeDoc(m))
	}
	if tail {
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}
	return docstore.Snapshot{Docs: docs}, nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	update, err := compileWrite(fields)
	if err != nil {
		return "", err
	}
	_, err = s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// RunTransaction stages writes through fn and applies them in one
// server transaction.
func (s *Store) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	t := &mongoTx{}
	if err := fn(t); err != nil {
		return err
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, op := range t.ops {
			update, err := compileWrite(op.fields)
			if err != nil {
				return nil, err
			}
			_, err = s.db.Collection(op.coll).UpdateOne(ctx,
				bson.M{"_id": op.id}, update, options.UpdateOne().SetUpsert(true))
			if err != nil {
				return nil, fmt.Errorf("write %s/%s: %w", op.coll, op.id, err)
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoOp struct {
	coll   string
	id     string
	fields map[string]any
}

type mongoTx struct {
	ops []mongoOp
}

func (t *mongoTx) Insert(collection string, fields map[string]any) (string, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.ops = append(t.ops, mongoOp{coll: collection, id: id, fields: fields})
	return id, nil
}

func (t *mongoTx) Merge(collection, id string, patch map[string]any) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	t.ops = append(t.ops, mongoOp{coll: collection, id: id, fields: patch})
	return nil
}

// compileFilter turns query filters into a Mongo filter document.
// Equality against an array field matches elements, which is exactly
// the array-contains operator.
func compileFilter(q docstore.Query) bson.D {
	filter := bson.D{}
	for _, f := range q.Filters {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}
	return filter
}

// compileWrite flattens fields into a $set/$currentDate update, so the
// primary assigns every server timestamp and nested maps merge key by
// key instead of replacing the whole subdocument.
func compileWrite(fields map[string]any) (bson.M, error) {
	sets := bson.M{}
	dates := bson.M{}
	flattenInto("", fields, sets, dates)

	update := bson.M{}
	if len(sets) > 0 {
		update["$set"] = sets
	}
	if len(dates) > 0 {
		update["$currentDate"] = dates
	}
	if len(update) == 0 {
		return nil, fmt.Errorf("mongostore: empty write")
	}
	return update, nil
}

func flattenInto(prefix string, fields map[string]any, sets, dates bson.M) {
	for k, v := range fields {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if v == docstore.ServerTimestamp {
			dates[key] = true
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(key, nested, sets, dates)
			continue
		}
		sets[key] = v
	}
}

func decodeDoc(m bson.M) docstore.Document {
	doc := docstore.Document{Data: make(map[string]any, len(m))}
	for k, v := range m {
		if k == "_id" {
			doc.ID = idString(v)
			continue
		}
		doc.Data[normalizeKey(k)] = normalizeValue(v)
	}
	return doc
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case bson.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}

// Dotted keys never appear in stored documents; guard anyway so a
// foreign writer cannot corrupt the decoded map shape.
func normalizeKey(k string) string {
	return strings.ReplaceAll(k, "\x00", "")
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[normalizeKey(k)] = normalizeValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[normalizeKey(e.Key)] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	default:
		return v
	}
}
