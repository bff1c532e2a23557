// Package model defines the chat entities and their document form.
package model

import (
	"strings"
	"time"
)

// Collection names in the document store.
const (
	CollUsers         = "users"
	CollGroups        = "groups"
	CollMessages      = "messages"
	CollAIMessages    = "ai_messages"
	CollConversations = "conversations"
)

// User is a registered account. Created externally on registration;
// read-only to this core. UID identifies the person, ID the document.
type User struct {
	ID       string
	UID      string
	Name     string
	PhotoURL string
	Email    string
}

// Group is a multi-member conversation. Membership drives subscription
// eligibility.
type Group struct {
	ID        string
	Name      string
	Members   []string
	CreatedBy string
}

// FileData describes an uploaded attachment as returned by the upload
// service, plus the original file identity.
type FileData struct {
	URL          string
	PublicID     string
	ResourceType string
	Name         string
	MIMEType     string
	Size         int64
}

// Kind classifies the attachment from its MIME type.
func (f FileData) Kind() string {
	switch {
	case strings.HasPrefix(f.MIMEType, "image/"):
		return "image"
	case strings.HasPrefix(f.MIMEType, "video/"):
		return "video"
	case strings.HasPrefix(f.MIMEType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// IsImage reports whether the attachment can go to the vision model.
func (f FileData) IsImage() bool { return f.Kind() == "image" }

// Message is one chat message document. Exactly one of ConversationID,
// GroupID or OwnerUID is set; that tag decides which stream carries it.
// Timestamp is assigned by the store, never by the client.
type Message struct {
	ID             string
	Text           string
	Timestamp      time.Time
	SenderUID      string
	SenderName     string
	SenderPhoto    string
	File           *FileData
	ConversationID string
	GroupID        string
	OwnerUID       string
	ReceiverUID    string
	IsAI           bool
	IsError        bool
	Forwarded      bool
	OriginalSender string
}

// ConversationMeta is the per-pair conversation summary. It is always
// merged on write so one participant's update cannot erase another's
// unread counter.
type ConversationMeta struct {
	ID                   string
	Participants         []string
	LastMessage          string
	LastMessageTimestamp time.Time
	UnreadCounts         map[string]int
}

// Presence values in the low-latency store.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceRecord mirrors the presence store value for one uid.
// Ephemeral, not historical.
type PresenceRecord struct {
	Status      string
	LastChanged time.Time
}

// Online reports whether the record marks the user as reachable.
func (p PresenceRecord) Online() bool { return p.Status == StatusOnline }
