package conversation

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/soyeahso/playground/internal/domain"
)

// SessionWriter is the single write path to a conversation's in-flight
// assistant message. It holds the conversation's busy flag until Close.
type SessionWriter struct {
	store  *Store
	convID string

	mu        sync.Mutex
	msgID     string
	text      strings.Builder
	finalized bool
	closed    bool
}

// BeginSession marks the conversation busy. Only one session may be open
// per conversation; a second call fails with ErrConversationBusy until the
// first writer is closed.
func (s *Store) BeginSession(convID string) (*SessionWriter, error) {
	s.mu.Lock()
	if _, ok := s.convs[convID]; !ok {
		s.mu.Unlock()
		return nil, ErrConversationNotFound
	}
	if _, busy := s.sessions[convID]; busy {
		s.mu.Unlock()
		return nil, ErrConversationBusy
	}
	s.sessions[convID] = ""
	s.mu.Unlock()

	s.notify(Event{Type: EventSessionStarted, ConversationID: convID})
	return &SessionWriter{store: s, convID: convID}, nil
}

// ConversationID returns the conversation this writer belongs to.
func (w *SessionWriter) ConversationID() string { return w.convID }

// MessageID returns the in-flight message ID, or "" before Start.
func (w *SessionWriter) MessageID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msgID
}

// Text returns everything appended so far.
func (w *SessionWriter) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text.String()
}

// Start appends an empty assistant message in streaming state and locks it
// against other writers. Calling Start twice returns the same message.
func (w *SessionWriter) Start(model string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrConversationNotFound
	}
	if w.msgID != "" {
		return w.msgID, nil
	}

	s := w.store
	m := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Timestamp: s.now(),
		Status:    domain.StatusStreaming,
		Model:     model,
	}
	err := s.mutate(w.convID, func(c *domain.Conversation) error {
		c.Messages = append(c.Messages, m)
		s.sessions[w.convID] = m.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	w.msgID = m.ID
	s.notify(Event{Type: EventMessageAdded, ConversationID: w.convID, MessageID: m.ID})
	return m.ID, nil
}

// Append adds delta to the end of the in-flight message. Readers always
// observe a complete prefix because the store copies under its lock.
func (w *SessionWriter) Append(delta string) error {
	if delta == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writable(); err != nil {
		return err
	}
	err := w.withMessage(func(m *domain.Message) {
		m.Content += delta
	})
	if err != nil {
		return err
	}
	w.text.WriteString(delta)
	w.store.notify(Event{Type: EventMessageDelta, ConversationID: w.convID, MessageID: w.msgID, Delta: delta})
	return nil
}

// AddToolCall attaches a completed tool invocation to the in-flight message.
func (w *SessionWriter) AddToolCall(rec domain.ToolCallRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writable(); err != nil {
		return err
	}
	err := w.withMessage(func(m *domain.Message) {
		m.ToolCalls = append(m.ToolCalls, rec)
	})
	if err != nil {
		return err
	}
	w.store.notify(Event{Type: EventMessageUpdated, ConversationID: w.convID, MessageID: w.msgID})
	return nil
}

// Finalize sets the message's terminal status and appends suffix, after
// which the message accepts no more writes. The busy flag stays until Close.
func (w *SessionWriter) Finalize(status domain.MessageStatus, suffix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writable(); err != nil {
		return err
	}
	err := w.withMessage(func(m *domain.Message) {
		m.Content += suffix
		m.Status = status
	})
	if err != nil {
		return err
	}
	w.finalized = true
	w.store.mu.Lock()
	if w.store.sessions[w.convID] == w.msgID {
		w.store.sessions[w.convID] = ""
	}
	w.store.mu.Unlock()

	w.store.notify(Event{Type: EventMessageFinalized, ConversationID: w.convID, MessageID: w.msgID})
	return nil
}

// Close releases the conversation. A message that was started but never
// finalized is closed as stopped. Close is idempotent.
func (w *SessionWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	needsFinal := w.msgID != "" && !w.finalized
	w.mu.Unlock()

	if needsFinal {
		// Deleting the conversation is refused while busy, so this only
		// fails if the message itself was truncated away.
		_ = w.Finalize(domain.StatusStopped, "")
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	s := w.store
	s.mu.Lock()
	delete(s.sessions, w.convID)
	s.mu.Unlock()
	s.notify(Event{Type: EventSessionEnded, ConversationID: w.convID, MessageID: w.msgID})
}

func (w *SessionWriter) writable() error {
	if w.closed || w.finalized {
		return ErrMessageLocked
	}
	if w.msgID == "" {
		return ErrMessageNotFound
	}
	return nil
}

// withMessage mutates the in-flight message under the store lock.
func (w *SessionWriter) withMessage(fn func(m *domain.Message)) error {
	return w.store.mutate(w.convID, func(c *domain.Conversation) error {
		idx := c.IndexOf(w.msgID)
		if idx < 0 {
			return ErrMessageNotFound
		}
		fn(&c.Messages[idx])
		return nil
	})
}
