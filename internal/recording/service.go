// Package recording browses full radio recordings, paged by cursor.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/query"
)

const (
	procList = "get_recordings"
	procStar = "toggle_star_recording"
)

// Options configures a Service
type Options struct {
	PageSize   int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Service orchestrates recording reads and mutations
type Service struct {
	caller  domain.Caller
	engine  *mutation.Engine
	fetcher *fetch.Fetcher[domain.Recording]
	logger  *slog.Logger
}

// NewService creates a new recording service
func NewService(caller domain.Caller, c *cache.Cache, engine *mutation.Engine, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		caller: caller,
		engine: engine,
		fetcher: fetch.New[domain.Recording](c, source{caller: caller}, fetch.Options{
			PageSize:   opts.PageSize,
			RetryDelay: opts.RetryDelay,
			Logger:     opts.Logger,
		}),
		logger: opts.Logger.With("service", "recording"),
	}
}

// Close cancels in-flight fetches
func (s *Service) Close() {
	s.fetcher.Close()
}

// Key returns the query key for recordings matching state
func (s *Service) Key(state filter.State, lang domain.Language) query.Key {
	return query.NewKey(domain.KindRecording, state, lang)
}

// Browse returns a view that follows one key at a time
func (s *Service) Browse() *fetch.View[domain.Recording] {
	return s.fetcher.View()
}

// List loads at least pages pages of recordings matching state. A stale
// cached collection is refetched first.
func (s *Service) List(ctx context.Context, state filter.State, lang domain.Language, pages int) (fetch.Collection[domain.Recording], error) {
	key := s.Key(state, lang)
	c, err := s.fetcher.Fresh(ctx, key)
	for err == nil && c.HasMore && c.Pages < pages {
		before := c.Pages
		c, err = s.fetcher.FetchNext(ctx, key)
		if c.Pages == before {
			break
		}
	}
	if err != nil {
		return c, err
	}
	s.logger.Debug("listed recordings", "key", key.Hash(), "pages", c.Pages, "count", len(c.Items))
	return c, nil
}

// More appends the next page of key
func (s *Service) More(ctx context.Context, key query.Key) (fetch.Collection[domain.Recording], error) {
	return s.fetcher.FetchNext(ctx, key)
}

// Collection returns the cached recordings for key
func (s *Service) Collection(key query.Key) fetch.Collection[domain.Recording] {
	return s.fetcher.Snapshot(key)
}

// ToggleStar flips the user's star on a recording
func (s *Service) ToggleStar(ctx context.Context, id string) (*mutation.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: recording id is required", domain.ErrValidation)
	}
	return s.engine.Perform(ctx, mutation.Mutation{
		Name:   "star recording",
		Target: domain.Ref{Kind: domain.KindRecording, ID: id},
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			if cur == nil {
				return nil, nil
			}
			return mutation.StarPatch(cur), nil
		},
		Remote: func(ctx context.Context) (mutation.Patch, error) {
			raw, err := s.caller.Call(ctx, procStar, map[string]any{"recording_id": id})
			if err != nil {
				return nil, err
			}
			return decodeStarred(raw)
		},
		Affects: []filter.Dimension{filter.DimStarredBy},
	})
}
