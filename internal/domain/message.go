package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role constants for messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thumbs is a per-message rating.
type Thumbs string

const (
	ThumbsNone Thumbs = ""
	ThumbsUp   Thumbs = "up"
	ThumbsDown Thumbs = "down"
)

// MessageStatus tracks the lifecycle of an assistant message.
type MessageStatus string

const (
	StatusComplete  MessageStatus = "complete"
	StatusStreaming MessageStatus = "streaming"
	StatusStopped   MessageStatus = "stopped"
	StatusError     MessageStatus = "error"
)

// ErrorMarker opens the suffix appended to an assistant message whose
// session failed. Consumers may detect failed messages by looking for it.
const ErrorMarker = "[Error"

// ErrorSuffix renders the fixed-format failure suffix for an assistant message.
func ErrorSuffix(kind, message string) string {
	return "\n\n" + ErrorMarker + ": " + kind + "] " + message
}

// HasErrorMarker reports whether text carries a failure suffix.
func HasErrorMarker(text string) bool {
	return strings.Contains(text, ErrorMarker+": ")
}

// PartType distinguishes content parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"` // data: URL or remote reference
	MimeType string   `json:"mimeType,omitempty"`
}

// ToolCallRecord is a completed tool invocation attached to an assistant message.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

// Message is a single entry in a conversation.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Parts     []ContentPart    `json:"parts,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Thumbs    Thumbs           `json:"thumbs,omitempty"`
	Reactions []string         `json:"reactions,omitempty"`
	Starred   bool             `json:"starred,omitempty"`
	Status    MessageStatus    `json:"status,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	Model     string           `json:"model,omitempty"`
}

// Text returns the textual body of the message. For multi-part messages the
// text parts are joined with newlines and image parts are skipped.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImages reports whether any part references an image.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing no mutable structure with m.
func (m Message) Clone() Message {
	c := m
	if m.Parts != nil {
		c.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.Reactions != nil {
		c.Reactions = append([]string(nil), m.Reactions...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCallRecord, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = ToolCallRecord{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: append(json.RawMessage(nil), tc.Arguments...),
				Result:    append(json.RawMessage(nil), tc.Result...),
			}
		}
	}
	return c
}

// StripErrorSuffix removes a failure suffix so the text can be sent back to
// a model as history. Only the final marker counts, and only when it has the "kind] " shape.
func StripErrorSuffix(text string) string {
	if i := strings.LastIndex(text, "\n\n"+ErrorMarker+": "); i >= 0 && isErrorSuffix(text[i+2:]) {
		return text[:i]
	}
	if isErrorSuffix(text) {
		return ""
	}
	return text
}

func isErrorSuffix(s string) bool {
	rest, ok := strings.CutPrefix(s, ErrorMarker+": ")
	if !ok {
		return false
	}
	kind, _, ok := strings.Cut(rest, "] ")
	return ok && kind != "" && !strings.ContainsAny(kind, " \n")
}
