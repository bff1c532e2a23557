// Package dispatch builds and writes outgoing messages: sends to the
// active target, multi-recipient forwards, deletes, group creation and
// read receipts. All writes go through the document store; the send
// path never waits for its own echo, the live subscription reflects it.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/apperr"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/docstore"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/upload"
)

// filePreviewPrefix marks attachment messages in conversation-list
// previews.
const filePreviewPrefix = "📎 "

// Sender is the outgoing identity stamped on every message.
type Sender struct {
	UID      string
	Name     string
	PhotoURL string
}

// Draft is a composed message before upload and routing. File, when
// set, is the staged attachment bytes; it is uploaded as part of Send.
type Draft struct {
	Text string
	File *upload.Blob
}

// Dispatcher owns the outgoing write path for one session.
type Dispatcher struct {
	store    docstore.Store
	uploader upload.Uploader
	sender   Sender
	bus      *bus.Bus
	logger   *zap.Logger
}

func New(store docstore.Store, up upload.Uploader, sender Sender, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		uploader: up,
		sender:   sender,
		bus:      b,
		logger:   logger,
	}
}

// Send uploads the draft's attachment if present, builds the message
// for the target and writes it. It returns the written message (with
// its new id; the timestamp stays zero until the store's echo arrives)
// so callers can refer to what was persisted. On failure the caller
// keeps the draft; nothing is partially written.
func (d *Dispatcher) Send(ctx context.Context, draft Draft, target identity.Target) (model.Message, error) {
	if target.IsNone() {
		return model.Message{}, apperr.Invalid("no conversation selected")
	}
	if draft.Text == "" && draft.File == nil {
		return model.Message{}, apperr.Invalid("nothing to send")
	}

	msg := model.Message{
		Text:        draft.Text,
		SenderUID:   d.sender.UID,
		SenderName:  d.sender.Name,
		SenderPhoto: photoOrUnknown(d.sender.PhotoURL),
	}

	if draft.File != nil {
		res, err := d.uploader.Upload(ctx, *draft.File)
		if err != nil {
			d.failSend(target, err)
			return model.Message{}, err
		}
		msg.File = &model.FileData{
			URL:          res.URL,
			PublicID:     res.PublicID,
			ResourceType: res.ResourceType,
			Name:         draft.File.Name,
			MIMEType:     draft.File.MIMEType,
			Size:         int64(len(draft.File.Data)),
		}
	}

	var err error
	switch target.Kind() {
	case identity.KindUser:
		msg.ConversationID = identity.ConversationKey(d.sender.UID, target.UserUID())
		msg.ReceiverUID = target.UserUID()
		msg.ID, err = d.sendToUser(ctx, &msg, target.UserUID())
	case identity.KindGroup:
		msg.GroupID = target.GroupID()
		msg.ID, err = d.insertMessage(ctx, model.CollMessages, &msg)
	case identity.KindAssistant:
		msg.OwnerUID = d.sender.UID
		msg.ID, err = d.insertMessage(ctx, model.CollAIMessages, &msg)
	}
	if err != nil {
		d.failSend(target, err)
		return model.Message{}, err
	}

	d.logger.Info("message sent",
		zap.String("id", msg.ID),
		zap.String("target", target.String()))
	d.bus.Emit("send.delivered", map[string]string{
		"id":     msg.ID,
		"target": target.String(),
	})
	return msg, nil
}

// sendToUser writes the message and the pair's conversation summary in
// one transaction, so the recipient's unread counter can never appear
// without its message.
func (d *Dispatcher) sendToUser(ctx context.Context, msg *model.Message, peer string) (string, error) {
	fields := msg.Fields()
	fields["timestamp"] = docstore.ServerTimestamp

	var id string
	err := d.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var err error
		if id, err = tx.Insert(model.CollMessages, fields); err != nil {
			return err
		}
		return tx.Merge(model.CollConversations, msg.ConversationID, d.metaPatch(msg, peer))
	})
	if err != nil {
		return "", apperr.Write("send message", err)
	}
	return id, nil
}

func (d *Dispatcher) insertMessage(ctx context.Context, collection string, msg *model.Message) (string, error) {
	fields := msg.Fields()
	fields["timestamp"] = docstore.ServerTimestamp
	id, err := d.store.Insert(ctx, collection, fields)
	if err != nil {
		return "", apperr.Write("send message", err)
	}
	return id, nil
}

// metaPatch is the conversation-summary merge for a message to peer.
// Only the keys present here are touched; other participants' unread
// counters survive.
func (d *Dispatcher) metaPatch(msg *model.Message, peer string) map[string]any {
	a, b := d.sender.UID, peer
	if b < a {
		a, b = b, a
	}
	preview := msg.Text
	if preview == "" && msg.File != nil {
		preview = filePreviewPrefix + msg.File.Name
	}
	return map[string]any{
		"participants":         []string{a, b},
		"lastMessage":          preview,
		"lastMessageTimestamp": docstore.ServerTimestamp,
		"unreadCount":          map[string]any{peer: 1},
	}
}

// Forward fans one existing message out to recipients as fresh
// documents in a single all-or-nothing transaction. An empty recipient
// list commits as a no-op; duplicate recipients fan out twice.
func (d *Dispatcher) Forward(ctx context.Context, msg model.Message, recipients []string) error {
	err := d.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		for _, recipient := range recipients {
			fwd := model.Message{
				Text:           msg.Text,
				File:           msg.File,
				SenderUID:      d.sender.UID,
				SenderName:     d.sender.Name,
				SenderPhoto:    photoOrUnknown(d.sender.PhotoURL),
				ConversationID: identity.ConversationKey(d.sender.UID, recipient),
				ReceiverUID:    recipient,
				Forwarded:      true,
				OriginalSender: originalSender(msg),
			}
			fields := fwd.Fields()
			fields["timestamp"] = docstore.ServerTimestamp
			if _, err := tx.Insert(model.CollMessages, fields); err != nil {
				return err
			}
			if err := tx.Merge(model.CollConversations, fwd.ConversationID, d.metaPatch(&fwd, recipient)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		wrapped := apperr.Write("forward message", err)
		d.logger.Error("forward failed", zap.Error(wrapped), zap.Int("recipients", len(recipients)))
		d.bus.Emit("forward.failed", map[string]string{"error": wrapped.Error()})
		return wrapped
	}

	d.logger.Info("message forwarded",
		zap.String("id", msg.ID),
		zap.Int("recipients", len(recipients)))
	d.bus.Emit("forward.delivered", map[string]int{"recipients": len(recipients)})
	return nil
}

// originalSender labels who a forwarded message came from: assistant
// messages forward as "AI", messages without a sender name as
// "Unknown".
func originalSender(msg model.Message) string {
	if msg.IsAI {
		return "AI"
	}
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return "Unknown"
}

// Delete hard-deletes a message. Conversation summaries keep their
// lastMessage preview; nothing cascades.
func (d *Dispatcher) Delete(ctx context.Context, id string, isAI bool) error {
	collection := model.CollMessages
	if isAI {
		collection = model.CollAIMessages
	}
	if err := d.store.Delete(ctx, collection, id); err != nil {
		return apperr.Write(fmt.Sprintf("delete message %s", id), err)
	}
	d.logger.Info("message deleted", zap.String("id", id), zap.Bool("ai", isAI))
	return nil
}

// CreateGroup writes a new group. The creator is always a member,
// whether or not the caller listed them.
func (d *Dispatcher) CreateGroup(ctx context.Context, name string, members []string) (string, error) {
	if name == "" {
		return "", apperr.Invalid("group name is required")
	}
	all := make([]string, 0, len(members)+1)
	all = append(all, d.sender.UID)
	for _, m := range members {
		if m != d.sender.UID {
			all = append(all, m)
		}
	}
	g := model.Group{Name: name, Members: all, CreatedBy: d.sender.UID}
	id, err := d.store.Insert(ctx, model.CollGroups, g.Fields())
	if err != nil {
		return "", apperr.Write("create group", err)
	}
	d.logger.Info("group created", zap.String("id", id), zap.String("name", name))
	return id, nil
}

// MarkConversationRead zeroes the session owner's unread counter for
// one conversation. Other participants' counters are untouched.
func (d *Dispatcher) MarkConversationRead(ctx context.Context, conversationID string) error {
	err := d.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Merge(model.CollConversations, conversationID, map[string]any{
			"unreadCount": map[string]any{d.sender.UID: 0},
		})
	})
	if err != nil {
		return apperr.Write("mark conversation read", err)
	}
	return nil
}

func (d *Dispatcher) failSend(target identity.Target, err error) {
	d.logger.Error("send failed", zap.Error(err), zap.String("target", target.String()))
	d.bus.Emit("send.failed", map[string]string{
		"target": target.String(),
		"error":  err.Error(),
	})
}

func photoOrUnknown(url string) string {
	if url == "" {
		return "Unknown"
	}
	return url
}
