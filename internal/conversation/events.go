package conversation

// EventType identifies a store notification.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventConversationDeleted EventType = "conversation_deleted"
	EventConversationUpdated EventType = "conversation_updated"
	EventActiveChanged       EventType = "active_changed"
	EventMessageAdded        EventType = "message_added"
	EventMessageUpdated      EventType = "message_updated"
	EventMessageDeleted      EventType = "message_deleted"
	EventMessageAnnotated    EventType = "message_annotated"
	EventMessagesTruncated   EventType = "messages_truncated"
	EventMessageDelta        EventType = "message_delta"
	EventMessageFinalized    EventType = "message_finalized"
	EventSessionStarted      EventType = "session_started"
	EventSessionEnded        EventType = "session_ended"
	EventRestored            EventType = "restored"
)

// Event is delivered to subscribers after a mutation has been applied.
type Event struct {
	Type           EventType
	ConversationID string
	MessageID      string
	// Delta carries the appended text for EventMessageDelta.
	Delta string
}

// Structural reports whether the event changes what would be persisted.
// Deltas are excluded; the finalized message is.
func (e Event) Structural() bool {
	switch e.Type {
	case EventMessageDelta, EventSessionStarted, EventActiveChanged:
		return false
	}
	return true
}

// Subscribe registers fn for every store event. Handlers run synchronously
// on the mutating goroutine after the store lock is released, so they may
// read from the store but should return quickly. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("subscriber panicked")
				}
			}()
			fn(ev)
		}()
	}
}
