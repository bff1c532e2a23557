// Package presence defines the low-latency presence/typing boundary.
// Presence is ephemeral key/value state written by an external client
// heartbeat; this core only watches it for the selected peer. Drivers
// live in the subpackages memps and redisps.
package presence

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/model"
)

// ErrClosed is returned by operations on a closed presence store.
var ErrClosed = errors.New("presence: store closed")

// CancelFunc tears down a watch. It blocks until any in-flight callback
// returns; afterwards the callback never runs again.
type CancelFunc func()

// Store is the read side of the presence store. Watches deliver the
// current value immediately after registration, then every change;
// callbacks per watch are serialized. A driver failure surfaces as a
// stalled watch, never a panic.
type Store interface {
	WatchStatus(ctx context.Context, uid string, fn func(model.PresenceRecord)) (CancelFunc, error)
	WatchTyping(ctx context.Context, uid string, fn func(bool)) (CancelFunc, error)
	Close() error
}

// Writer is the mutation side. The reconciler never writes presence;
// the console publishes its own typing flag through this, and tests
// drive watches with it.
type Writer interface {
	SetStatus(ctx context.Context, uid string, rec model.PresenceRecord) error
	SetTyping(ctx context.Context, uid string, typing bool) error
}
