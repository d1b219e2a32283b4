package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/engine"
	"github.com/soyeahso/playground/internal/hooks"
)

// streamer prints the live output of sessions on one conversation at a
// time and cancels them on Ctrl-C.
type streamer struct {
	app *app
	out *printer

	mu       sync.Mutex
	watching string
	unsub    func()
}

func newStreamer(a *app, out *printer) *streamer {
	s := &streamer{app: a, out: out}
	s.unsub = a.conv.Subscribe(func(ev conversation.Event) {
		if ev.Type != conversation.EventMessageDelta || !s.watches(ev.ConversationID) {
			return
		}
		out.delta(ev.Delta)
	})
	a.hooks.On(hooks.EventToolCall, "cli-print", func(ctx context.Context, p hooks.Payload) error {
		out.toolCall(p.String("tool"), p.String("result"))
		return nil
	})
	return s
}

func (s *streamer) watches(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convID != "" && s.watching == convID
}

func (s *streamer) watch(convID string) {
	s.mu.Lock()
	s.watching = convID
	s.mu.Unlock()
}

// run starts a session with start and blocks until it finishes. An
// interrupt cancels the session; text already received is kept.
func (s *streamer) run(convID, model string, start func() (*engine.Session, error)) (engine.Result, error) {
	s.watch(convID)
	defer s.watch("")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	s.out.assistantPrefix(model)
	sess, err := start()
	if err != nil {
		s.out.delta("\n")
		return engine.Result{}, err
	}

	for {
		select {
		case <-sig:
			sess.Cancel()
		case <-sess.Done():
			res := sess.Wait()
			s.out.result(res)
			return res, nil
		}
	}
}

func (s *streamer) Close() {
	s.unsub()
	s.app.hooks.Off(hooks.EventToolCall, "cli-print")
}
