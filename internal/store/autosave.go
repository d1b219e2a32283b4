package store

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/hooks"
	"github.com/soyeahso/playground/internal/logging"
)

// LoadInto restores the persisted snapshot into conv.
func LoadInto(ctx context.Context, p Persister, conv *conversation.Store) error {
	snap, err := p.Load(ctx)
	if err != nil {
		return err
	}
	return conv.Restore(snap.Conversations, snap.Active)
}

// Autosaver writes the conversation store to a Persister whenever a
// structural change is applied. Saves run on a single background goroutine;
// bursts of changes collapse into one save.
type Autosaver struct {
	conv  *conversation.Store
	p     Persister
	hooks *hooks.Manager
	log   *logging.Logger

	kick  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	unsub func()

	mu      sync.Mutex // serializes saves
	closed  bool
	lastErr error
}

// NewAutosaver subscribes to conv and starts saving to p. hooks may be nil.
func NewAutosaver(conv *conversation.Store, p Persister, h *hooks.Manager, log *logging.Logger) *Autosaver {
	a := &Autosaver{
		conv:  conv,
		p:     p,
		hooks: h,
		log:   log.Sub("autosave"),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	a.unsub = conv.Subscribe(func(ev conversation.Event) {
		if !ev.Structural() {
			return
		}
		select {
		case a.kick <- struct{}{}:
		default:
		}
	})
	go a.loop()
	return a
}

func (a *Autosaver) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case <-a.kick:
			if err := a.Flush(context.Background()); err != nil {
				a.log.Error().Err(err).Msg("autosave failed")
			}
		}
	}
}

// Flush saves the current state immediately.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Version:       SnapshotVersion,
		Active:        a.conv.Active(),
		Conversations: a.conv.Snapshot(),
		SavedAt:       time.Now().UTC(),
	}
	err := a.p.Save(ctx, snap)
	a.lastErr = err
	if err != nil {
		return err
	}
	a.log.Debug().Int("conversations", len(snap.Conversations)).Msg("saved")
	a.hooks.Emit(ctx, hooks.EventStoreSaved, map[string]any{
		"conversations": len(snap.Conversations),
	})
	return nil
}

// Err returns the result of the most recent save.
func (a *Autosaver) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Close stops listening and writes a final snapshot. It is safe to call more
// than once.
func (a *Autosaver) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.unsub()
	close(a.stop)
	<-a.done
	return a.Flush(ctx)
}
