// Package identity derives conversation keys and message routing from
// the active selection. Everything here is pure.
package identity

import (
	"github.com/parleyhq/parley/internal/apperr"
	"github.com/parleyhq/parley/internal/docstore"
	"github.com/parleyhq/parley/internal/model"
)

// RecentWindow is how many trailing messages a thread subscription
// carries.
const RecentWindow = 50

// ConversationKey derives the id of the 1:1 thread between two uids:
// the lexicographically sorted pair joined by "_". Symmetric and
// collision-free for distinct unordered pairs.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Kind tags the active conversation target.
type Kind int

const (
	KindNone Kind = iota
	KindUser
	KindGroup
	KindAssistant
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	case KindAssistant:
		return "assistant"
	default:
		return "none"
	}
}

// Target is the exclusive conversation selection. Exactly one variant
// is active; the zero value selects nothing. Constructing a new target
// inherently clears the previous one, so exclusivity is structural.
type Target struct {
	kind Kind
	id   string
}

func None() Target                 { return Target{} }
func UserTarget(uid string) Target { return Target{kind: KindUser, id: uid} }
func GroupTarget(id string) Target { return Target{kind: KindGroup, id: id} }
func AssistantTarget() Target      { return Target{kind: KindAssistant} }

func (t Target) Kind() Kind   { return t.kind }
func (t Target) IsNone() bool { return t.kind == KindNone }

// UserUID returns the peer uid for a user target, "" otherwise.
func (t Target) UserUID() string {
	if t.kind != KindUser {
		return ""
	}
	return t.id
}

// GroupID returns the group id for a group target, "" otherwise.
func (t Target) GroupID() string {
	if t.kind != KindGroup {
		return ""
	}
	return t.id
}

func (t Target) String() string {
	switch t.kind {
	case KindUser, KindGroup:
		return t.kind.String() + ":" + t.id
	default:
		return t.kind.String()
	}
}

// UserQuery is the standing subscription to every registered user.
func UserQuery() docstore.Query {
	return docstore.Query{Collection: model.CollUsers, OrderBy: "name"}
}

// GroupQuery is the standing subscription to the groups selfUID
// belongs to.
func GroupQuery(selfUID string) docstore.Query {
	return docstore.Query{
		Collection: model.CollGroups,
		Filters: []docstore.Filter{
			{Field: "members", Op: docstore.OpArrayContains, Value: selfUID},
		},
		OrderBy: "name",
	}
}

// ConversationQuery is the standing subscription to the conversation
// summaries selfUID participates in. It carries the unread counters
// and last-message previews for the conversation list.
func ConversationQuery(selfUID string) docstore.Query {
	return docstore.Query{
		Collection: model.CollConversations,
		Filters: []docstore.Filter{
			{Field: "participants", Op: docstore.OpArrayContains, Value: selfUID},
		},
		OrderBy: "lastMessageTimestamp",
	}
}

// MessageQuery derives the message subscription for the active
// selection: the 1:1 thread, the group thread, or the assistant stream
// owned by selfUID. Messages come back in timestamp order, capped to
// the most recent RecentWindow. A none target is a caller contract
// violation and fails with an invalid-selection error.
func MessageQuery(t Target, selfUID string) (docstore.Query, error) {
	switch t.kind {
	case KindUser:
		return docstore.Query{
			Collection: model.CollMessages,
			Filters: []docstore.Filter{
				{Field: "conversationId", Op: docstore.OpEqual, Value: ConversationKey(selfUID, t.id)},
			},
			OrderBy:     "timestamp",
			LimitToLast: RecentWindow,
		}, nil
	case KindGroup:
		return docstore.Query{
			Collection: model.CollMessages,
			Filters: []docstore.Filter{
				{Field: "groupId", Op: docstore.OpEqual, Value: t.id},
			},
			OrderBy:     "timestamp",
			LimitToLast: RecentWindow,
		}, nil
	case KindAssistant:
		return docstore.Query{
			Collection: model.CollAIMessages,
			Filters: []docstore.Filter{
				{Field: "userId", Op: docstore.OpEqual, Value: selfUID},
			},
			OrderBy:     "timestamp",
			LimitToLast: RecentWindow,
		}, nil
	default:
		return docstore.Query{}, apperr.Invalid("no active conversation target")
	}
}
