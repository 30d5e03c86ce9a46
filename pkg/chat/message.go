package chat

import (
	"encoding/json"
	"fmt"
)

// Metadata keys set by adapters when the platform provides the value.
const (
	MetaDateSent = "date_sent"
	MetaEdited   = "edited"
	MetaEditedAt = "edited_at"
)

// Attachment describes a file, image or other media attached to a message.
// Either URL or FileID is set depending on how the platform exposes files.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Message is the canonical inbound message. It is a value object produced
// by an adapter's ParseMessage and never mutated by the dispatcher.
//
// ID is platform-scoped: uniqueness is only guaranteed within
// (adapter name, ID). ThreadID is the opaque encoded thread identifier
// (see ParseThreadID for the shape adapters produce).
type Message struct {
	ID        string            `json:"id"`
	ThreadID  string            `json:"thread_id"`
	Text      string            `json:"text"`
	Author    Author            `json:"author"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	IsMention bool              `json:"is_mention,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// Formatted is an optional platform-native or AST payload. It is not
	// part of the wire form and is dropped by MarshalMessage.
	Formatted any `json:"-"`
	// Raw is the original platform payload. Not part of the wire form.
	Raw any `json:"-"`
}

// Meta returns a metadata value, or "" when absent.
func (m *Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta sets a metadata value, allocating the bag on first use.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// MarshalMessage encodes the wire form of a message. Formatted and Raw are
// excluded: callers must not rely on them surviving serialization.
func MarshalMessage(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal message %s: %w", m.ID, err)
	}
	return data, nil
}

// UnmarshalMessage decodes a message from its wire form. Formatted and Raw
// are always nil on the result.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("chat: unmarshal message: %w", err)
	}
	return &m, nil
}
