package model

import (
	"time"
)

// Documents travel as map[string]any with the store's camelCase field
// names. Drivers that round-trip through JSON hand back strings for
// times and float64 for numbers; the decoders below accept both forms.

// Fields returns the document representation of m, excluding the id.
// The timestamp field is left to the writer, which normally stamps it
// with the store's server-time sentinel.
func (m *Message) Fields() map[string]any {
	f := map[string]any{
		"text":       m.Text,
		"senderUid":  m.SenderUID,
		"senderName": m.SenderName,
		"isAI":       m.IsAI,
	}
	if m.SenderPhoto != "" {
		f["senderPhoto"] = m.SenderPhoto
	}
	if !m.Timestamp.IsZero() {
		f["timestamp"] = m.Timestamp
	}
	if m.File != nil {
		f["fileData"] = m.File.fields()
	}
	if m.ConversationID != "" {
		f["conversationId"] = m.ConversationID
	}
	if m.GroupID != "" {
		f["groupId"] = m.GroupID
	}
	if m.OwnerUID != "" {
		f["userId"] = m.OwnerUID
	}
	if m.ReceiverUID != "" {
		f["receiverId"] = m.ReceiverUID
	}
	if m.IsError {
		f["isError"] = true
	}
	if m.Forwarded {
		f["forwarded"] = true
		f["originalSender"] = m.OriginalSender
	}
	return f
}

func (f *FileData) fields() map[string]any {
	return map[string]any{
		"url":          f.URL,
		"publicId":     f.PublicID,
		"resourceType": f.ResourceType,
		"name":         f.Name,
		"mimeType":     f.MIMEType,
		"size":         f.Size,
	}
}

// Fields returns the document representation of g, excluding the id.
func (g *Group) Fields() map[string]any {
	return map[string]any{
		"name":      g.Name,
		"members":   g.Members,
		"createdBy": g.CreatedBy,
	}
}

// Fields returns the document representation of u, excluding the id.
// The core never writes users; this exists for seeding and tests.
func (u *User) Fields() map[string]any {
	return map[string]any{
		"uid":      u.UID,
		"name":     u.Name,
		"photoURL": u.PhotoURL,
		"email":    u.Email,
	}
}

func UserFromDoc(id string, d map[string]any) User {
	return User{
		ID:       id,
		UID:      asString(d["uid"]),
		Name:     asString(d["name"]),
		PhotoURL: asString(d["photoURL"]),
		Email:    asString(d["email"]),
	}
}

func GroupFromDoc(id string, d map[string]any) Group {
	return Group{
		ID:        id,
		Name:      asString(d["name"]),
		Members:   asStringSlice(d["members"]),
		CreatedBy: asString(d["createdBy"]),
	}
}

func MessageFromDoc(id string, d map[string]any) Message {
	m := Message{
		ID:             id,
		Text:           asString(d["text"]),
		Timestamp:      asTime(d["timestamp"]),
		SenderUID:      asString(d["senderUid"]),
		SenderName:     asString(d["senderName"]),
		SenderPhoto:    asString(d["senderPhoto"]),
		ConversationID: asString(d["conversationId"]),
		GroupID:        asString(d["groupId"]),
		OwnerUID:       asString(d["userId"]),
		ReceiverUID:    asString(d["receiverId"]),
		IsAI:           asBool(d["isAI"]),
		IsError:        asBool(d["isError"]),
		Forwarded:      asBool(d["forwarded"]),
		OriginalSender: asString(d["originalSender"]),
	}
	if fd, ok := d["fileData"].(map[string]any); ok {
		f := fileDataFromDoc(fd)
		m.File = &f
	}
	return m
}

func fileDataFromDoc(d map[string]any) FileData {
	return FileData{
		URL:          asString(d["url"]),
		PublicID:     asString(d["publicId"]),
		ResourceType: asString(d["resourceType"]),
		Name:         asString(d["name"]),
		MIMEType:     asString(d["mimeType"]),
		Size:         asInt64(d["size"]),
	}
}

func MetaFromDoc(id string, d map[string]any) ConversationMeta {
	return ConversationMeta{
		ID:                   id,
		Participants:         asStringSlice(d["participants"]),
		LastMessage:          asString(d["lastMessage"]),
		LastMessageTimestamp: asTime(d["lastMessageTimestamp"]),
		UnreadCounts:         asIntMap(d["unreadCount"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func asIntMap(v any) map[string]int {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, e := range m {
		out[k] = int(asInt64(e))
	}
	return out
}
