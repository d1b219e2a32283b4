// Package engine runs streaming chat sessions: it drives a provider adapter,
// writes deltas into the conversation store, executes tool calls between
// rounds and classifies the finished reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/playground/internal/artifact"
	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/hooks"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/tools"
)

const (
	// DefaultMaxToolRounds caps provider requests per turn.
	DefaultMaxToolRounds = 5
	// DefaultStallTimeout fails a round that receives nothing for this long.
	DefaultStallTimeout = 60 * time.Second
)

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	MaxToolRounds int
	StallTimeout  time.Duration
	Classifier    *artifact.Classifier
	Hooks         *hooks.Manager
}

// Coordinator owns the active sessions. At most one session runs per
// conversation; different conversations stream independently.
//
// Store subscribers must not start sessions from inside their callback.
type Coordinator struct {
	store      *conversation.Store
	providers  *provider.Registry
	executor   *toolExecutor
	hooks      *hooks.Manager
	classifier *artifact.Classifier

	maxRounds    int
	stallTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	log      *logging.Logger
}

// NewCoordinator wires the engine. tools may be nil, in which case every
// tool call resolves to an unknown-tool result.
func NewCoordinator(store *conversation.Store, providers *provider.Registry, registry *tools.Registry, opts Options, log *logging.Logger) *Coordinator {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	if opts.Classifier == nil {
		opts.Classifier = artifact.NewClassifier(artifact.DefaultOptions())
	}
	l := log.Sub("engine")
	return &Coordinator{
		store:        store,
		providers:    providers,
		executor:     &toolExecutor{registry: registry, log: l.Sub("tools")},
		hooks:        opts.Hooks,
		classifier:   opts.Classifier,
		maxRounds:    opts.MaxToolRounds,
		stallTimeout: opts.StallTimeout,
		sessions:     make(map[string]*Session),
		log:          l,
	}
}

// Input is a new user turn.
type Input struct {
	Text   string
	Images []domain.ContentPart
}

func (in Input) message() domain.Message {
	m := domain.Message{Role: domain.RoleUser, Content: in.Text}
	if len(in.Images) > 0 {
		m.Parts = append([]domain.ContentPart{{Type: domain.PartText, Text: in.Text}}, in.Images...)
	}
	return m
}

// Send appends a user message and starts a session answering it. The
// request is validated first; an invalid request leaves the conversation
// untouched.
func (c *Coordinator) Send(ctx context.Context, convID string, in Input, settings Settings) (*Session, error) {
	return c.start(ctx, convID, settings, func(history []domain.Message) ([]domain.Message, func() error, error) {
		user := in.message()
		return append(history, user), func() error {
			_, err := c.store.AddMessage(convID, user)
			return err
		}, nil
	})
}

// Regenerate discards everything after the last user message and resends.
func (c *Coordinator) Regenerate(ctx context.Context, convID string, settings Settings) (*Session, error) {
	return c.start(ctx, convID, settings, func(history []domain.Message) ([]domain.Message, func() error, error) {
		idx := domain.Conversation{Messages: history}.LastUserIndex()
		if idx < 0 {
			return nil, nil, conversation.ErrNoUserMessage
		}
		return history[:idx+1], func() error {
			_, err := c.store.RegenerateContext(convID)
			return err
		}, nil
	})
}

// Retry resends after a failed reply. It is Regenerate under a name that
// says why; any finished conversation with a user message may be retried.
func (c *Coordinator) Retry(ctx context.Context, convID string, settings Settings) (*Session, error) {
	s, err := c.Regenerate(ctx, convID, settings)
	if errors.Is(err, conversation.ErrNoUserMessage) {
		return nil, ErrNothingToRetry
	}
	return s, err
}

// EditAndRerun replaces msgID's content, truncates after it and resends.
func (c *Coordinator) EditAndRerun(ctx context.Context, convID, msgID, content string, settings Settings) (*Session, error) {
	return c.start(ctx, convID, settings, func(history []domain.Message) ([]domain.Message, func() error, error) {
		idx := domain.Conversation{Messages: history}.IndexOf(msgID)
		if idx < 0 {
			return nil, nil, conversation.ErrMessageNotFound
		}
		next := history[:idx+1]
		edited := next[idx].Clone()
		edited.Content = content
		if len(edited.Parts) > 0 {
			parts := []domain.ContentPart{{Type: domain.PartText, Text: content}}
			for _, p := range edited.Parts {
				if p.Type == domain.PartImage {
					parts = append(parts, p)
				}
			}
			edited.Parts = parts
		}
		next[idx] = edited
		return next, func() error {
			_, err := c.store.EditAndRerun(convID, msgID, content)
			return err
		}, nil
	})
}

// Active returns the running session for a conversation, or nil.
func (c *Coordinator) Active(convID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[convID]
}

// Cancel stops the conversation's running session and reports whether
// there was one.
func (c *Coordinator) Cancel(convID string) bool {
	s := c.Active(convID)
	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

// CancelAll stops every running session and waits for them to finish.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	running := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		running = append(running, s)
	}
	c.mu.Unlock()

	for _, s := range running {
		s.Cancel()
	}
	for _, s := range running {
		<-s.Done()
	}
}

// prepareFunc derives the request history from the current conversation
// and returns the store mutation that makes it real.
type prepareFunc func(history []domain.Message) ([]domain.Message, func() error, error)

func (c *Coordinator) start(ctx context.Context, convID string, settings Settings, prepare prepareFunc) (*Session, error) {
	adapter, err := c.providers.Resolve(settings.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, settings.Provider)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.sessions[convID]; running || c.store.Busy(convID) {
		return nil, conversation.ErrConversationBusy
	}
	conv, err := c.store.Get(convID)
	if err != nil {
		return nil, err
	}
	history, commit, err := prepare(conv.Messages)
	if err != nil {
		return nil, err
	}

	req := settings.request(buildContext(history))
	if settings.ToolsEnabled && adapter.Capabilities().ToolCalling {
		req.Tools = c.executor.definitions()
	}
	if verr := provider.Validate(adapter.ID(), adapter.Capabilities(), req); verr != nil {
		return nil, verr
	}

	if err := commit(); err != nil {
		return nil, err
	}
	writer, err := c.store.BeginSession(convID)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Start(settings.Model); err != nil {
		writer.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Provider:       adapter.ID(),
		Model:          settings.Model,
		coord:          c,
		adapter:        adapter,
		writer:         writer,
		req:            req,
		ctx:            sctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		status:         StatusIdle,
	}
	s.log = c.log.With("session", s.ID).With("conversation", convID).With("provider", string(s.Provider))
	c.sessions[convID] = s

	s.log.Info().Str("model", s.Model).Int("messages", len(req.Messages)).Int("tools", len(req.Tools)).Msg("session started")
	go s.run()
	return s, nil
}

func (c *Coordinator) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.ConversationID] == s {
		delete(c.sessions, s.ConversationID)
	}
}
