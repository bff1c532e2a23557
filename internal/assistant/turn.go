package assistant

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/bus"
)

// TurnState tracks one user turn through the assistant pipeline.
type TurnState string

const (
	UserTurnPending TurnState = "USER_TURN_PENDING"
	Generating      TurnState = "GENERATING"
	AssistantSaved  TurnState = "ASSISTANT_SAVED"
	ErrorSaved      TurnState = "ERROR_SAVED"
)

// validTransitions defines allowed turn state transitions. Both
// terminal states mean exactly one assistant-tagged message was
// persisted for the turn.
var validTransitions = map[TurnState][]TurnState{
	UserTurnPending: {Generating},
	Generating:      {AssistantSaved, ErrorSaved},
}

// Turn is the per-submission state machine. Each submission gets a
// fresh Turn; turns share nothing with each other.
type Turn struct {
	mu      sync.RWMutex
	current TurnState
	bus     *bus.Bus
}

// NewTurn creates a turn in UserTurnPending.
func NewTurn(b *bus.Bus) *Turn {
	return &Turn{current: UserTurnPending, bus: b}
}

// Current returns the current state.
func (t *Turn) Current() TurnState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid.
func (t *Turn) Transition(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := validTransitions[t.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid turn transition from %s to %s", t.current, to)
	}
	from := t.current
	t.current = to
	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      "assistant.turn",
			Timestamp: time.Now(),
			Payload:   TurnChange{From: from, To: to},
		})
	}
	return nil
}

// TurnChange is the payload for assistant turn events.
type TurnChange struct {
	From TurnState
	To   TurnState
}
