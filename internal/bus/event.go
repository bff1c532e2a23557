package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds in use: "state.users", "state.groups", "state.conversations",
// "state.messages", "state.presence", "state.typing", "state.target"
// from the reconciler; "send.delivered", "send.failed",
// "forward.delivered", "forward.failed" from the dispatcher;
// "assistant.turn" from the assistant controller.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
