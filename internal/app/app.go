// Package app wires configuration, the backend client, the cache and the
// services into one runtime shared by the TUI and the CLI commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmcdole/verdad/internal/adapter"
	"github.com/mmcdole/verdad/internal/adapter/source"
	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/recording"
	"github.com/mmcdole/verdad/internal/snippet"
	"github.com/mmcdole/verdad/internal/store"
)

// Options configures optional collaborators of an App
type Options struct {
	// Notifier receives mutation failure notices. Nil discards them.
	Notifier mutation.Notifier

	// SaveSession persists refreshed or new tokens. Nil keeps them in memory.
	SaveSession func(adapter.SessionConfig) error
}

// App owns every long-lived component
type App struct {
	Config     *adapter.Config
	Backend    source.Backend
	Store      *store.SnapshotStore
	Cache      *cache.Cache
	Engine     *mutation.Engine
	Snippets   *snippet.Service
	Recordings *recording.Service
	Player     *adapter.AudioPlayer

	logger    *slog.Logger
	cancel    context.CancelFunc
	janitor   sync.WaitGroup
	closeOnce sync.Once
}

// New builds the runtime from cfg. It does no network work.
func New(cfg *adapter.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := source.NewClientFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	if opts.SaveSession != nil {
		source.PersistSession(backend, opts.SaveSession, logger)
	}

	dir := ""
	if cfg.Cache.Persist {
		dir = cfg.Cache.Dir
	}
	snapshots, err := store.NewSnapshotStore(dir, cfg.Backend.URL)
	if err != nil {
		logger.Warn("cache store unavailable, continuing in memory", "error", err)
		snapshots = store.NewMemoryStore()
	}

	c := cache.New(cache.Options{
		IdleTimeout: cfg.Cache.IdleTimeout,
		Store:       snapshots,
		Logger:      logger.With("component", "cache"),
	})
	engine := mutation.NewEngine(c, backend.Session(), opts.Notifier, logger.With("component", "mutation"))

	a := &App{
		Config:  cfg,
		Backend: backend,
		Store:   snapshots,
		Cache:   c,
		Engine:  engine,
		Snippets: snippet.NewService(backend, c, engine, snippet.Options{
			PageSize: cfg.Cache.PageSize,
			Logger:   logger,
		}),
		Recordings: recording.NewService(backend, c, engine, recording.Options{
			PageSize: cfg.Cache.PageSize,
			Logger:   logger,
		}),
		Player: adapter.NewAudioPlayer(cfg.Player, logger),
		logger: logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.janitor.Add(1)
	go func() {
		defer a.janitor.Done()
		c.Run(ctx)
	}()

	logger.Info("runtime ready", "backend", cfg.Backend.URL, "persist", cfg.Cache.Persist, "signed_in", a.SignedIn())
	return a, nil
}

// Language returns the configured content language
func (a *App) Language() domain.Language {
	return a.Config.Language()
}

// SignedIn reports whether the backend session has a user
func (a *App) SignedIn() bool {
	_, ok := a.Backend.Session().CurrentUser()
	return ok
}

// SignIn runs the interactive sign-in and stores the resulting session
func (a *App) SignIn(ctx context.Context) (domain.User, error) {
	result, err := a.Backend.Auth().Run(ctx)
	if err != nil {
		return domain.User{}, err
	}
	a.Backend.Session().Set(*result)
	// Per-user state in cached collections belongs to the previous identity
	a.Cache.Clear()
	return result.User, nil
}

// SignOut revokes the session and drops cached per-user state
func (a *App) SignOut(ctx context.Context) error {
	err := a.Backend.Auth().SignOut(ctx, a.Backend.Session())
	a.Cache.Clear()
	return err
}

// ClearCache drops every cached collection and entity, in memory and on disk
func (a *App) ClearCache() {
	a.Cache.Clear()
}

// Close stops background work and releases the store
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Snippets.Close()
		a.Recordings.Close()
		a.cancel()
		a.janitor.Wait()
		if a.Store != nil {
			err = a.Store.Close()
		}
	})
	return err
}
