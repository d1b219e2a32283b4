package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soyeahso/playground/internal/artifact"
	"github.com/soyeahso/playground/internal/config"
	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/engine"
	"github.com/soyeahso/playground/internal/hooks"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/store"
	"github.com/soyeahso/playground/internal/tools"
	"github.com/soyeahso/playground/internal/version"
)

// app holds the wired components shared by the chat commands.
type app struct {
	cfg       config.Config
	backend   store.Backend
	keys      *store.CachedKeyStore
	conv      *conversation.Store
	providers *provider.Registry
	tools     *tools.Registry
	hooks     *hooks.Manager
	coord     *engine.Coordinator
	saver     *store.Autosaver
	log       *logging.Logger
	logFile   *os.File
}

// loadConfig reads and validates the config file. A missing file yields the
// defaults.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, issue := range issues {
			msgs[i] = issue.String()
		}
		return cfg, fmt.Errorf("invalid config %s:\n  %s", paths.Config, strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

// appLogger picks the logger for a session: the --log-level flag wins over
// the config, and a configured log file takes all output.
func appLogger(cfg config.Config) (*logging.Logger, *os.File, error) {
	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	if cfg.Logging.File == "" {
		return logging.NewWithOptions(logging.Options{Level: level, Style: cfg.Logging.ConsoleStyle}), nil, nil
	}
	path := cfg.Logging.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(paths.Logs, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return logging.NewWithOptions(logging.Options{Level: level, Style: "json", Out: f}), f, nil
}

// openApp wires storage, providers, tools and the engine. prompter answers
// ask_human; nil disables it.
func openApp(ctx context.Context, prompter tools.HumanPrompter) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	l, logFile, err := appLogger(cfg)
	if err != nil {
		return nil, err
	}
	log = l

	backend, err := store.Open(cfg.Storage.Backend, paths.StoragePath(cfg.Storage), log)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	a := &app{cfg: cfg, backend: backend, log: log, logFile: logFile}
	a.keys = store.NewCachedKeyStore(backend, cfg.Storage.KeyCacheTTL(), log)
	keys := store.OverrideKeys{Overrides: configKeys(cfg), Next: a.keys}

	a.providers, err = provider.NewRegistryWithAll(endpoints(cfg), keys, httpClient(), log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tools = tools.NewBuiltinRegistry(tools.Options{Prompter: prompter})
	a.hooks = hooks.NewManager(log)

	a.conv = conversation.NewStore(log)
	if err := store.LoadInto(ctx, backend, a.conv); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	a.saver = store.NewAutosaver(a.conv, backend, a.hooks, log)

	a.coord = engine.NewCoordinator(a.conv, a.providers, a.tools, engine.Options{
		MaxToolRounds: cfg.Engine.MaxToolRounds,
		StallTimeout:  cfg.Engine.StallTimeout(),
		Classifier:    artifact.NewClassifier(classifierOptions(cfg.Artifacts)),
		Hooks:         a.hooks,
	}, log)
	return a, nil
}

// Close cancels running sessions, flushes the store and releases storage.
func (a *app) Close() error {
	if a.coord != nil {
		a.coord.CancelAll()
		a.waitIdle(2 * time.Second)
	}
	var firstErr error
	if a.saver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		firstErr = a.saver.Close(ctx)
		cancel()
	}
	if a.keys != nil {
		a.keys.Stop()
	}
	if err := a.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// waitIdle waits for cancelled sessions to finalize their messages.
func (a *app) waitIdle(limit time.Duration) {
	deadline := time.Now().Add(limit)
	for _, c := range a.conv.List() {
		s := a.coord.Active(c.ID)
		if s == nil {
			continue
		}
		select {
		case <-s.Done():
		case <-time.After(time.Until(deadline)):
			return
		}
	}
}

// currentConversation returns the active conversation, creating one when
// the store is empty.
func (a *app) currentConversation() string {
	if id := a.conv.Active(); id != "" {
		return id
	}
	return a.conv.CreateConversation()
}

// resolveSettings builds the initial session settings from config. The model
// comes from defaults.model, then the provider entry, then the provider's
// built-in default.
func resolveSettings(cfg config.Config) (engine.Settings, error) {
	id, err := provider.ParseID(cfg.Defaults.Provider)
	if err != nil {
		return engine.Settings{}, err
	}
	s := engine.Settings{
		Provider:     id,
		Model:        cfg.Defaults.Model,
		System:       cfg.Defaults.SystemPrompt,
		Temperature:  cfg.Defaults.Temperature,
		MaxTokens:    cfg.Defaults.MaxTokens,
		TopP:         cfg.Defaults.TopP,
		ToolsEnabled: cfg.Defaults.ToolsEnabled,
	}
	if s.Model == "" {
		s.Model = modelFor(cfg, id)
	}
	return s, nil
}

// modelFor returns the configured or built-in model for a provider.
func modelFor(cfg config.Config, id provider.ID) string {
	if e, ok := cfg.Providers[string(id)]; ok && e.Model != "" {
		return e.Model
	}
	spec, _ := provider.Lookup(id)
	return spec.DefaultModel
}

func endpoints(cfg config.Config) map[provider.ID]provider.Endpoint {
	out := make(map[provider.ID]provider.Endpoint, len(cfg.Providers))
	for name, e := range cfg.Providers {
		id, err := provider.ParseID(name)
		if err != nil {
			continue
		}
		out[id] = provider.Endpoint{BaseURL: e.BaseURL, RequestsPerMinute: e.RequestsPerMinute}
	}
	return out
}

func configKeys(cfg config.Config) map[provider.ID]string {
	out := make(map[provider.ID]string)
	for name, e := range cfg.Providers {
		id, err := provider.ParseID(name)
		if err != nil || e.APIKey == "" {
			continue
		}
		out[id] = e.APIKey
	}
	return out
}

func classifierOptions(c config.ArtifactConfig) artifact.Options {
	opts := artifact.DefaultOptions()
	opts.RequireJSONContainer = c.JSONContainerOnly()
	if len(c.MermaidKeywords) > 0 {
		opts.MermaidKeywords = c.MermaidKeywords
	}
	return opts
}

// httpClient has no timeout; streams are bounded by the stall watchdog and
// the session context.
func httpClient() *http.Client {
	return &http.Client{Transport: userAgent{next: http.DefaultTransport}}
}

type userAgent struct {
	next http.RoundTripper
}

// RoundTrip replaces any library default User-Agent.
func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", version.UserAgent())
	return u.next.RoundTrip(r)
}
