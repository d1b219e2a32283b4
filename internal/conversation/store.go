// Package conversation owns all conversation state. Every mutation goes
// through Store's operation set, and subscribers are notified after each
// one.
package conversation

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/logging"
)

// DefaultTitle is given to conversations until the first user message
// names them.
const DefaultTitle = "New conversation"

const titleRunes = 50

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationBusy     = errors.New("conversation has an active session")
	ErrMessageLocked        = errors.New("message is being written by an active session")
	ErrNoUserMessage        = errors.New("conversation has no user message")
)

// Store holds conversations in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]*domain.Conversation
	active string
	// sessions maps a busy conversation to the message its session writes.
	// The value is empty until the session creates its message.
	sessions map[string]string

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	now func() time.Time
	log *logging.Logger
}

// NewStore creates an empty store.
func NewStore(log *logging.Logger) *Store {
	return &Store{
		convs:    make(map[string]*domain.Conversation),
		sessions: make(map[string]string),
		subs:     make(map[int]func(Event)),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Sub("conversation"),
	}
}

// CreateConversation creates an empty conversation and makes it active.
func (s *Store) CreateConversation() string {
	now := s.now()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.convs[c.ID] = c
	s.active = c.ID
	s.mu.Unlock()

	s.log.Debug().Str("conversation", c.ID).Msg("conversation created")
	s.notify(Event{Type: EventConversationCreated, ConversationID: c.ID})
	s.notify(Event{Type: EventActiveChanged, ConversationID: c.ID})
	return c.ID
}

// Get returns a deep copy of the conversation.
func (s *Store) Get(id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return c.Clone(), nil
}

// List returns copies of every conversation, most recently updated first.
func (s *Store) List() []domain.Conversation {
	s.mu.RLock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the active conversation ID, or "".
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive switches the active conversation.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.active = id
	s.mu.Unlock()

	s.notify(Event{Type: EventActiveChanged, ConversationID: id})
	return nil
}

// Busy reports whether a session is running on the conversation.
func (s *Store) Busy(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, busy := s.sessions[id]
	return busy
}

// RenameConversation sets an explicit title.
func (s *Store) RenameConversation(id, title string) error {
	err := s.mutate(id, func(c *domain.Conversation) error {
		c.Title = strings.TrimSpace(title)
		if c.Title == "" {
			c.Title = DefaultTitle
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventConversationUpdated, ConversationID: id})
	return nil
}

// DeleteConversation removes a conversation. A conversation with an active
// session cannot be deleted.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if _, busy := s.sessions[id]; busy {
		s.mu.Unlock()
		return ErrConversationBusy
	}
	delete(s.convs, id)
	activeChanged := s.active == id
	if activeChanged {
		s.active = ""
	}
	s.mu.Unlock()

	s.notify(Event{Type: EventConversationDeleted, ConversationID: id})
	if activeChanged {
		s.notify(Event{Type: EventActiveChanged})
	}
	return nil
}

// AddMessage appends m and returns its new ID. ID and Timestamp are
// assigned by the store.
func (s *Store) AddMessage(convID string, m domain.Message) (string, error) {
	m = m.Clone()
	m.ID = uuid.NewString()
	m.Timestamp = s.now()

	err := s.mutate(convID, func(c *domain.Conversation) error {
		c.Messages = append(c.Messages, m)
		if m.Role == domain.RoleUser && c.Title == DefaultTitle {
			if t := titleFrom(m.Text()); t != "" {
				c.Title = t
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.notify(Event{Type: EventMessageAdded, ConversationID: convID, MessageID: m.ID})
	return m.ID, nil
}

// AddText appends a plain text message.
func (s *Store) AddText(convID, role, content string) (string, error) {
	return s.AddMessage(convID, domain.Message{Role: role, Content: content})
}

// UpdateMessage replaces a message's text. It is rejected while the
// conversation has an active session.
func (s *Store) UpdateMessage(convID, msgID, content string) error {
	err := s.mutate(convID, func(c *domain.Conversation) error {
		idx, err := s.checkWritable(c, msgID)
		if err != nil {
			return err
		}
		if _, busy := s.sessions[convID]; busy {
			return ErrConversationBusy
		}
		replaceText(&c.Messages[idx], content)
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventMessageUpdated, ConversationID: convID, MessageID: msgID})
	return nil
}

// DeleteMessagesAfter truncates every message strictly after msgID.
func (s *Store) DeleteMessagesAfter(convID, msgID string) error {
	err := s.mutate(convID, func(c *domain.Conversation) error {
		if _, busy := s.sessions[convID]; busy {
			return ErrConversationBusy
		}
		idx := c.IndexOf(msgID)
		if idx < 0 {
			return ErrMessageNotFound
		}
		c.Messages = c.Messages[:idx+1]
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventMessagesTruncated, ConversationID: convID, MessageID: msgID})
	return nil
}

// DeleteMessage removes one message. Only the message an active session
// is writing is protected.
func (s *Store) DeleteMessage(convID, msgID string) error {
	err := s.mutate(convID, func(c *domain.Conversation) error {
		idx, err := s.checkWritable(c, msgID)
		if err != nil {
			return err
		}
		c.Messages = append(c.Messages[:idx], c.Messages[idx+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventMessageDeleted, ConversationID: convID, MessageID: msgID})
	return nil
}

// SetThumbs rates a message. Always permitted.
func (s *Store) SetThumbs(convID, msgID string, t domain.Thumbs) error {
	return s.annotate(convID, msgID, func(m *domain.Message) {
		m.Thumbs = t
	})
}

// ToggleReaction adds emoji to the message's reaction set, or removes it if
// present. It reports whether the reaction is now set.
func (s *Store) ToggleReaction(convID, msgID, emoji string) (bool, error) {
	var added bool
	err := s.annotate(convID, msgID, func(m *domain.Message) {
		for i, r := range m.Reactions {
			if r == emoji {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return
			}
		}
		m.Reactions = append(m.Reactions, emoji)
		added = true
	})
	return added, err
}

// SetStarred stars or unstars a message.
func (s *Store) SetStarred(convID, msgID string, starred bool) error {
	return s.annotate(convID, msgID, func(m *domain.Message) {
		m.Starred = starred
	})
}

// Fork creates a new active conversation holding a value copy of the
// source's messages up to and including atMsgID.
func (s *Store) Fork(convID, atMsgID string) (string, error) {
	now := s.now()
	s.mu.Lock()
	src, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return "", ErrConversationNotFound
	}
	idx := src.IndexOf(atMsgID)
	if idx < 0 {
		s.mu.Unlock()
		return "", ErrMessageNotFound
	}
	if s.sessions[convID] == atMsgID {
		s.mu.Unlock()
		return "", ErrMessageLocked
	}

	fork := &domain.Conversation{
		ID:        uuid.NewString(),
		Title:     src.Title + " (fork)",
		Messages:  make([]domain.Message, idx+1),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i <= idx; i++ {
		fork.Messages[i] = src.Messages[i].Clone()
	}
	s.convs[fork.ID] = fork
	s.active = fork.ID
	s.mu.Unlock()

	s.log.Debug().Str("conversation", convID).Str("fork", fork.ID).Int("messages", idx+1).Msg("conversation forked")
	s.notify(Event{Type: EventConversationCreated, ConversationID: fork.ID})
	s.notify(Event{Type: EventActiveChanged, ConversationID: fork.ID})
	return fork.ID, nil
}

// RegenerateContext discards everything after the most recent user message
// and returns messages[0..lastUser] as the context to resend.
func (s *Store) RegenerateContext(convID string) ([]domain.Message, error) {
	var ctxMsgs []domain.Message
	var truncatedAt string
	err := s.mutate(convID, func(c *domain.Conversation) error {
		if _, busy := s.sessions[convID]; busy {
			return ErrConversationBusy
		}
		idx := c.LastUserIndex()
		if idx < 0 {
			return ErrNoUserMessage
		}
		c.Messages = c.Messages[:idx+1]
		truncatedAt = c.Messages[idx].ID
		ctxMsgs = cloneMessages(c.Messages)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(Event{Type: EventMessagesTruncated, ConversationID: convID, MessageID: truncatedAt})
	return ctxMsgs, nil
}

// EditAndRerun updates msgID, deletes everything after it, and returns the
// truncated history as the context to resend.
func (s *Store) EditAndRerun(convID, msgID, content string) ([]domain.Message, error) {
	if err := s.UpdateMessage(convID, msgID, content); err != nil {
		return nil, err
	}
	if err := s.DeleteMessagesAfter(convID, msgID); err != nil {
		return nil, err
	}
	c, err := s.Get(convID)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

// Snapshot returns copies of all conversations for persistence.
func (s *Store) Snapshot() []domain.Conversation {
	return s.List()
}

// Restore replaces the store's contents. It is refused while any session
// is active.
func (s *Store) Restore(convs []domain.Conversation, active string) error {
	s.mu.Lock()
	if len(s.sessions) > 0 {
		s.mu.Unlock()
		return ErrConversationBusy
	}
	s.convs = make(map[string]*domain.Conversation, len(convs))
	for _, c := range convs {
		cc := c.Clone()
		for i := range cc.Messages {
			// A message persisted mid-stream can never be resumed.
			if cc.Messages[i].Status == domain.StatusStreaming {
				cc.Messages[i].Status = domain.StatusStopped
			}
		}
		s.convs[cc.ID] = &cc
	}
	if _, ok := s.convs[active]; !ok {
		active = ""
	}
	s.active = active
	s.mu.Unlock()

	s.notify(Event{Type: EventRestored, ConversationID: active})
	return nil
}

// mutate runs fn on the live conversation under the write lock and bumps
// UpdatedAt when fn succeeds.
func (s *Store) mutate(convID string, fn func(c *domain.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrConversationNotFound
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	return nil
}

// annotate applies a non-destructive per-message change.
func (s *Store) annotate(convID, msgID string, fn func(m *domain.Message)) error {
	err := s.mutate(convID, func(c *domain.Conversation) error {
		idx := c.IndexOf(msgID)
		if idx < 0 {
			return ErrMessageNotFound
		}
		fn(&c.Messages[idx])
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(Event{Type: EventMessageAnnotated, ConversationID: convID, MessageID: msgID})
	return nil
}

// checkWritable finds msgID and refuses it when a session owns it. Callers
// hold s.mu.
func (s *Store) checkWritable(c *domain.Conversation, msgID string) (int, error) {
	idx := c.IndexOf(msgID)
	if idx < 0 {
		return -1, ErrMessageNotFound
	}
	if locked, busy := s.sessions[c.ID]; busy && locked == msgID {
		return -1, ErrMessageLocked
	}
	return idx, nil
}

func replaceText(m *domain.Message, content string) {
	m.Content = content
	if len(m.Parts) == 0 {
		return
	}
	parts := []domain.ContentPart{{Type: domain.PartText, Text: content}}
	for _, p := range m.Parts {
		if p.Type == domain.PartImage {
			parts = append(parts, p)
		}
	}
	m.Parts = parts
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// titleFrom derives a title from the first line-collapsed runes of text.
func titleFrom(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(t) <= titleRunes {
		return t
	}
	r := []rune(t)
	return strings.TrimSpace(string(r[:titleRunes])) + "…"
}
