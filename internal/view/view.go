// Package view projects reconciled chat state into rendering-ready
// lines. Everything here is pure; the surface owns the actual I/O.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/reconcile"
)

// Entry is one selectable row of the conversation list.
type Entry struct {
	Label  string
	Target identity.Target
}

// ConversationList projects the selectable conversations: every other
// registered user, every joined group, and the assistant stream.
func ConversationList(s reconcile.ChatState) []Entry {
	selfUID := ""
	if s.Me != nil {
		selfUID = s.Me.UID
	}
	unread := unreadByPeer(s, selfUID)

	entries := make([]Entry, 0, len(s.Users)+len(s.Groups)+1)
	for _, u := range s.Users {
		if u.UID == selfUID {
			continue
		}
		entries = append(entries, Entry{
			Label:  userLabel(s, u, unread[u.UID]),
			Target: identity.UserTarget(u.UID),
		})
	}
	for _, g := range s.Groups {
		entries = append(entries, Entry{
			Label:  fmt.Sprintf("# %s (%d members)", g.Name, len(g.Members)),
			Target: identity.GroupTarget(g.ID),
		})
	}
	entries = append(entries, Entry{Label: "AI Assistant", Target: identity.AssistantTarget()})
	return entries
}

// Thread projects the active conversation's messages, oldest first.
func Thread(s reconcile.ChatState) []string {
	selfUID := ""
	if s.Me != nil {
		selfUID = s.Me.UID
	}
	lines := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		lines = append(lines, messageLine(selfUID, m))
	}
	return lines
}

// Header projects the active target's title with its live presence or
// membership line.
func Header(s reconcile.ChatState) string {
	switch s.Target.Kind() {
	case identity.KindUser:
		uid := s.Target.UserUID()
		name := uid
		for _, u := range s.Users {
			if u.UID == uid {
				name = displayName(u)
				break
			}
		}
		status := "offline"
		if s.Presence.Online() {
			status = "online"
		}
		if s.Typing {
			status += ", typing..."
		}
		return fmt.Sprintf("%s (%s)", name, status)
	case identity.KindGroup:
		id := s.Target.GroupID()
		for _, g := range s.Groups {
			if g.ID == id {
				return fmt.Sprintf("%s (%d members)", g.Name, len(g.Members))
			}
		}
		return id
	case identity.KindAssistant:
		return "AI Assistant"
	default:
		return "no conversation selected"
	}
}

func userLabel(s reconcile.ChatState, u model.User, unread int) string {
	dot := "○"
	if s.Target == identity.UserTarget(u.UID) && s.Presence.Online() {
		dot = "●"
	}
	label := dot + " " + displayName(u)
	if unread > 0 {
		label += fmt.Sprintf(" (%d unread)", unread)
	}
	return label
}

// unreadByPeer maps each 1:1 peer to the session owner's unread count
// in that conversation.
func unreadByPeer(s reconcile.ChatState, selfUID string) map[string]int {
	if selfUID == "" {
		return nil
	}
	out := make(map[string]int)
	for _, meta := range s.Conversations {
		n := meta.UnreadCounts[selfUID]
		if n == 0 {
			continue
		}
		for _, p := range meta.Participants {
			if p != selfUID {
				out[p] = n
			}
		}
	}
	return out
}

func messageLine(selfUID string, m model.Message) string {
	var b strings.Builder
	b.WriteString(formatClock(m.Timestamp))
	b.WriteString(" ")

	sender := m.SenderName
	if selfUID != "" && m.SenderUID == selfUID {
		sender = "You"
	}
	if sender == "" {
		sender = "Unknown"
	}
	b.WriteString(sender)

	if m.Forwarded {
		b.WriteString(" (forwarded from ")
		b.WriteString(m.OriginalSender)
		b.WriteString(")")
	}
	if m.IsError {
		b.WriteString(" [error]")
	}
	b.WriteString(": ")

	if m.File != nil {
		b.WriteString("📎 ")
		b.WriteString(m.File.Name)
		if m.Text != "" {
			b.WriteString(" ")
			b.WriteString(m.Text)
		}
	} else {
		b.WriteString(m.Text)
	}
	return b.String()
}

// formatClock renders same-day timestamps as a clock and older ones as
// a date. Messages awaiting their store echo have no timestamp yet.
func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func displayName(u model.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.UID
}
