// Package reconcile folds the live store subscriptions and presence
// watches into one coherent chat state. Each subscription replaces its
// slice of the state wholesale; no delta is ever applied, so any
// interleaving of snapshot deliveries converges to the same state.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/docstore"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/stream"
)

// ChatState is everything a rendering surface needs. Users, Groups and
// Conversations track the standing subscriptions; Messages, Presence
// and Typing belong to the active target and reset on every switch.
type ChatState struct {
	Users         []model.User
	Groups        []model.Group
	Conversations []model.ConversationMeta
	Messages      []model.Message
	Me            *model.User
	Target        identity.Target
	Presence      model.PresenceRecord
	Typing        bool
}

// Reconciler owns the subscriptions and the state they converge on.
type Reconciler struct {
	store    docstore.Store
	presence presence.Store
	bus      *bus.Bus
	logger   *zap.Logger
	selfUID  string

	// selectMu serializes target switches end to end; mu guards the
	// state and the target generation.
	selectMu sync.Mutex
	mu       sync.Mutex
	state    ChatState
	gen      uint64

	users         *stream.Slot
	groups        *stream.Slot
	conversations *stream.Slot
	messages      *stream.Slot
	peerStatus    *stream.Slot
	peerTyping    *stream.Slot
}

// New creates a reconciler for the session owned by selfUID.
func New(store docstore.Store, ps presence.Store, b *bus.Bus, logger *zap.Logger, selfUID string) *Reconciler {
	return &Reconciler{
		store:         store,
		presence:      ps,
		bus:           b,
		logger:        logger,
		selfUID:       selfUID,
		users:         stream.NewSlot(),
		groups:        stream.NewSlot(),
		conversations: stream.NewSlot(),
		messages:      stream.NewSlot(),
		peerStatus:    stream.NewSlot(),
		peerTyping:    stream.NewSlot(),
	}
}

// Start opens the standing subscriptions. No target is selected yet;
// message and presence slots stay empty until the first Select.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.users.Swap(ctx, func(ctx context.Context) (func(), error) {
		return r.store.Subscribe(ctx, identity.UserQuery(), r.applyUsers)
	}); err != nil {
		return fmt.Errorf("subscribe users: %w", err)
	}
	if err := r.groups.Swap(ctx, func(ctx context.Context) (func(), error) {
		return r.store.Subscribe(ctx, identity.GroupQuery(r.selfUID), r.applyGroups)
	}); err != nil {
		return fmt.Errorf("subscribe groups: %w", err)
	}
	if err := r.conversations.Swap(ctx, func(ctx context.Context) (func(), error) {
		return r.store.Subscribe(ctx, identity.ConversationQuery(r.selfUID), r.applyConversations)
	}); err != nil {
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	r.logger.Info("reconciler started", zap.String("uid", r.selfUID))
	return nil
}

// Stop cancels every subscription and watch. State stays readable.
func (r *Reconciler) Stop() {
	r.selectMu.Lock()
	defer r.selectMu.Unlock()
	r.messages.Clear()
	r.peerStatus.Clear()
	r.peerTyping.Clear()
	r.users.Clear()
	r.groups.Clear()
	r.conversations.Clear()
	r.logger.Info("reconciler stopped")
}

// Select switches the active conversation target. The old target's
// subscriptions are cancelled and its state cleared before the new
// target's subscriptions open; snapshots still in flight from the old
// target carry a stale generation and are dropped on arrival.
func (r *Reconciler) Select(ctx context.Context, target identity.Target) error {
	r.selectMu.Lock()
	defer r.selectMu.Unlock()

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.state.Target = target
	r.state.Messages = nil
	r.state.Presence = model.PresenceRecord{}
	r.state.Typing = false
	r.mu.Unlock()

	r.bus.Emit("state.target", target.String())

	if target.IsNone() {
		r.messages.Clear()
		r.peerStatus.Clear()
		r.peerTyping.Clear()
		return nil
	}

	q, err := identity.MessageQuery(target, r.selfUID)
	if err != nil {
		return err
	}
	if err := r.messages.Swap(ctx, func(ctx context.Context) (func(), error) {
		return r.store.Subscribe(ctx, q, func(snap docstore.Snapshot) {
			r.applyMessages(gen, snap)
		})
	}); err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}

	if peer := target.UserUID(); peer != "" {
		if err := r.peerStatus.Swap(ctx, func(ctx context.Context) (func(), error) {
			return r.presence.WatchStatus(ctx, peer, func(rec model.PresenceRecord) {
				r.applyPresence(gen, rec)
			})
		}); err != nil {
			return fmt.Errorf("watch status: %w", err)
		}
		if err := r.peerTyping.Swap(ctx, func(ctx context.Context) (func(), error) {
			return r.presence.WatchTyping(ctx, peer, func(typing bool) {
				r.applyTyping(gen, typing)
			})
		}); err != nil {
			return fmt.Errorf("watch typing: %w", err)
		}
	} else {
		r.peerStatus.Clear()
		r.peerTyping.Clear()
	}

	r.logger.Info("target selected", zap.String("target", target.String()))
	return nil
}

// State returns a copy safe to render while the reconciler keeps
// applying snapshots. Nested slices and maps are rebuilt fresh on every
// apply and never mutated in place, so sharing them is safe.
func (r *Reconciler) State() ChatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Users = append([]model.User(nil), r.state.Users...)
	s.Groups = append([]model.Group(nil), r.state.Groups...)
	s.Conversations = append([]model.ConversationMeta(nil), r.state.Conversations...)
	s.Messages = append([]model.Message(nil), r.state.Messages...)
	if r.state.Me != nil {
		me := *r.state.Me
		s.Me = &me
	}
	return s
}

func (r *Reconciler) applyUsers(snap docstore.Snapshot) {
	users := make([]model.User, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		users = append(users, model.UserFromDoc(doc.ID, doc.Data))
	}

	r.mu.Lock()
	r.state.Users = users
	r.state.Me = nil
	for i := range users {
		if users[i].UID == r.selfUID {
			r.state.Me = &users[i]
			break
		}
	}
	r.mu.Unlock()

	r.bus.Emit("state.users", len(users))
}

func (r *Reconciler) applyGroups(snap docstore.Snapshot) {
	groups := make([]model.Group, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		groups = append(groups, model.GroupFromDoc(doc.ID, doc.Data))
	}

	r.mu.Lock()
	r.state.Groups = groups
	r.mu.Unlock()

	r.bus.Emit("state.groups", len(groups))
}

func (r *Reconciler) applyConversations(snap docstore.Snapshot) {
	metas := make([]model.ConversationMeta, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		metas = append(metas, model.MetaFromDoc(doc.ID, doc.Data))
	}

	r.mu.Lock()
	r.state.Conversations = metas
	r.mu.Unlock()

	r.bus.Emit("state.conversations", len(metas))
}

func (r *Reconciler) applyMessages(gen uint64, snap docstore.Snapshot) {
	msgs := make([]model.Message, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		msgs = append(msgs, model.MessageFromDoc(doc.ID, doc.Data))
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state.Messages = msgs
	r.mu.Unlock()

	r.bus.Emit("state.messages", len(msgs))
}

func (r *Reconciler) applyPresence(gen uint64, rec model.PresenceRecord) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state.Presence = rec
	r.mu.Unlock()

	r.bus.Emit("state.presence", rec.Status)
}

func (r *Reconciler) applyTyping(gen uint64, typing bool) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state.Typing = typing
	r.mu.Unlock()

	r.bus.Emit("state.typing", typing)
}
