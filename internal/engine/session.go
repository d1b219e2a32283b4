package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/playground/internal/artifact"
	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/hooks"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
)

// Status is a session's position in its state machine:
// idle → requesting → streaming → (tool-pending → requesting) → terminal.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRequesting  Status = "requesting"
	StatusStreaming   Status = "streaming"
	StatusToolPending Status = "tool-pending"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Result is the outcome of a finished session.
type Result struct {
	Status    Status             `json:"status"`
	MessageID string             `json:"messageId"`
	Text      string             `json:"text"`
	Rounds    int                `json:"rounds"`
	Usage     provider.Usage     `json:"usage"`
	Artifact  *artifact.Artifact `json:"artifact,omitempty"`
	Err       error              `json:"-"`
}

// Session is one streaming exchange on a conversation. It may span several
// rounds when the model calls tools.
type Session struct {
	ID             string
	ConversationID string
	Provider       provider.ID
	Model          string

	coord   *Coordinator
	adapter provider.Adapter
	writer  *conversation.SessionWriter
	req     provider.Request
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
	rounds int
	usage  provider.Usage
	result Result
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Rounds returns how many provider requests have been issued so far.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// MessageID returns the assistant message this session writes.
func (s *Session) MessageID() string { return s.writer.MessageID() }

// Text returns the text accumulated so far.
func (s *Session) Text() string { return s.writer.Text() }

// Cancel stops the session. Text already applied is kept and the message is
// finalized as stopped. Cancel on a finished session does nothing.
func (s *Session) Cancel() { s.cancel() }

// Done is closed once the session reaches a terminal state and its message
// has been finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes and returns its result.
func (s *Session) Wait() Result {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug().Str("from", string(prev)).Str("to", string(st)).Msg("session transition")
	}
}

// roundOutcome is what a single provider round ended with.
type roundOutcome struct {
	text     string
	toolCall *provider.ToolCall
	stop     string
	fail     *Failure
}

func (s *Session) run() {
	c := s.coord
	defer close(s.done)
	defer c.release(s)
	defer s.writer.Close()
	defer s.cancel()

	c.hooks.Emit(s.ctx, hooks.EventSessionStart, map[string]any{
		"conversation": s.ConversationID,
		"session":      s.ID,
		"provider":     string(s.Provider),
		"model":        s.Model,
	})

	msgs := s.req.Messages
	var outcome roundOutcome
	for round := 1; ; round++ {
		s.mu.Lock()
		s.rounds = round
		s.mu.Unlock()
		s.setStatus(StatusRequesting)
		c.hooks.Emit(s.ctx, hooks.EventRoundStart, map[string]any{
			"session": s.ID,
			"round":   round,
		})

		req := s.req
		req.Messages = msgs
		outcome = s.round(req)
		if outcome.fail != nil || outcome.toolCall == nil {
			break
		}
		if s.ctx.Err() != nil {
			break
		}

		tc := *outcome.toolCall
		if round >= c.maxRounds {
			outcome.fail = &Failure{
				Kind:    KindToolLoopExceeded,
				Message: fmt.Sprintf("model requested tools for %d consecutive rounds", round),
			}
			break
		}

		s.setStatus(StatusToolPending)
		rec := c.executor.run(s.ctx, tc)
		if err := s.writer.AddToolCall(rec); err != nil {
			s.log.Warn().Err(err).Str("tool", tc.Name).Msg("recording tool call")
		}
		c.hooks.Emit(s.ctx, hooks.EventToolCall, map[string]any{
			"session": s.ID,
			"round":   round,
			"tool":    tc.Name,
			"callId":  tc.ID,
			"result":  string(rec.Result),
		})
		if s.ctx.Err() != nil {
			break
		}

		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, Content: outcome.text, ToolCalls: []provider.ToolCall{tc}},
			provider.Message{Role: provider.RoleTool, Content: string(rec.Result), ToolCallID: tc.ID, Name: tc.Name},
		)
	}

	s.finish(outcome)
}

// round opens one provider stream and consumes it until a terminal event,
// the first completed tool call, cancellation or a stall.
func (s *Session) round(req provider.Request) roundOutcome {
	c := s.coord
	roundCtx, stop := context.WithCancel(s.ctx)
	// Stops the adapter once this round is frozen or finished.
	defer stop()

	ch, err := s.adapter.Open(roundCtx, req)
	if err != nil {
		if s.ctx.Err() != nil {
			return roundOutcome{}
		}
		return roundOutcome{fail: failureFrom(err)}
	}

	watchdog := time.NewTimer(c.stallTimeout)
	defer watchdog.Stop()

	var out roundOutcome
	first := true
	for {
		select {
		case <-s.ctx.Done():
			s.drain(ch, &out)
			return out
		case <-watchdog.C:
			out.fail = &Failure{
				Kind:    provider.KindTransient,
				Message: fmt.Sprintf("no data from %s for %s", s.Provider, c.stallTimeout),
			}
			return out
		case ev, ok := <-ch:
			if !ok {
				if s.ctx.Err() == nil && out.stop == "" {
					out.stop = "eof"
				}
				return out
			}
			watchdog.Reset(c.stallTimeout)
			if first {
				first = false
				s.setStatus(StatusStreaming)
			}

			switch ev.Type {
			case provider.EventTextDelta:
				if err := s.writer.Append(ev.Text); err != nil {
					out.fail = &Failure{Kind: provider.KindProtocol, Message: err.Error(), Cause: err}
					return out
				}
				out.text += ev.Text
			case provider.EventToolCallComplete:
				if ev.ToolCall != nil {
					tc := *ev.ToolCall
					out.toolCall = &tc
					return out
				}
			case provider.EventUsage:
				if ev.Usage != nil {
					s.mu.Lock()
					s.usage.InputTokens += ev.Usage.InputTokens
					s.usage.OutputTokens += ev.Usage.OutputTokens
					s.mu.Unlock()
				}
			case provider.EventDone:
				out.stop = ev.StopReason
				return out
			case provider.EventError:
				if ev.Err != nil {
					out.fail = failureFrom(ev.Err)
				} else {
					out.fail = &Failure{Kind: provider.KindProtocol, Message: "provider reported an error"}
				}
				return out
			}
		}
	}
}

// drain applies text already delivered to ch when the session is cancelled.
// It never blocks.
func (s *Session) drain(ch <-chan provider.Event, out *roundOutcome) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != provider.EventTextDelta {
				continue
			}
			if err := s.writer.Append(ev.Text); err != nil {
				return
			}
			out.text += ev.Text
		default:
			return
		}
	}
}

// finish finalizes the assistant message exactly once and records the result.
func (s *Session) finish(outcome roundOutcome) {
	c := s.coord
	res := Result{MessageID: s.writer.MessageID()}

	switch {
	case s.ctx.Err() != nil && outcome.fail == nil:
		res.Status = StatusCancelled
		if err := s.writer.Finalize(domain.StatusStopped, ""); err != nil {
			s.log.Warn().Err(err).Msg("finalizing stopped message")
		}
	case outcome.fail != nil:
		res.Status = StatusFailed
		res.Err = outcome.fail
		suffix := domain.ErrorSuffix(string(outcome.fail.Kind), outcome.fail.Message)
		if err := s.writer.Finalize(domain.StatusError, suffix); err != nil {
			s.log.Warn().Err(err).Msg("finalizing failed message")
		}
	default:
		res.Status = StatusCompleted
		if err := s.writer.Finalize(domain.StatusComplete, ""); err != nil {
			s.log.Warn().Err(err).Msg("finalizing message")
		}
	}

	res.Text = s.writer.Text()
	if res.Status == StatusCompleted {
		res.Artifact = c.classifier.Classify(res.Text)
	}

	s.mu.Lock()
	s.status = res.Status
	res.Rounds = s.rounds
	res.Usage = s.usage
	s.result = res
	s.mu.Unlock()

	// Hooks run on a fresh context; the session context is already done
	// when cancelled.
	hctx := context.WithoutCancel(s.ctx)
	if res.Artifact != nil {
		c.hooks.Emit(hctx, hooks.EventArtifactDetected, map[string]any{
			"session":      s.ID,
			"conversation": s.ConversationID,
			"message":      res.MessageID,
			"type":         string(res.Artifact.Type),
			"language":     res.Artifact.Language,
		})
	}

	ev := s.log.Info()
	data := map[string]any{
		"session":      s.ID,
		"conversation": s.ConversationID,
		"status":       string(res.Status),
		"rounds":       res.Rounds,
	}
	if res.Err != nil {
		ev = s.log.Warn().Err(res.Err)
		data["error"] = res.Err.Error()
	}
	ev.Str("status", string(res.Status)).
		Int("rounds", res.Rounds).
		Int("inputTokens", res.Usage.InputTokens).
		Int("outputTokens", res.Usage.OutputTokens).
		Msg("session finished")
	c.hooks.Emit(hctx, hooks.EventSessionEnd, data)
}
