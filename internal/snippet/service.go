// Package snippet browses and acts on snippets: paginated lists keyed by the
// filter state, detail reads, and the optimistic user actions.
package snippet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/query"
)

const (
	prefetchLimit     = 4
	defaultRetryDelay = 500 * time.Millisecond

	// Placeholder id for a label the server has not created yet
	pendingLabelPrefix = "pending:"
)

// Options configures a Service
type Options struct {
	PageSize   int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Service orchestrates snippet reads and mutations over the cache
type Service struct {
	caller     domain.Caller
	cache      *cache.Cache
	engine     *mutation.Engine
	fetcher    *fetch.Fetcher[domain.Snippet]
	retryDelay time.Duration
	logger     *slog.Logger

	details singleflight.Group
}

// NewService creates a new snippet service
func NewService(caller domain.Caller, c *cache.Cache, engine *mutation.Engine, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Service{
		caller: caller,
		cache:  c,
		engine: engine,
		fetcher: fetch.New[domain.Snippet](c, source{caller: caller}, fetch.Options{
			PageSize:   opts.PageSize,
			RetryDelay: opts.RetryDelay,
			Logger:     opts.Logger,
		}),
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger.With("service", "snippet"),
	}
}

// Close cancels in-flight fetches
func (s *Service) Close() {
	s.fetcher.Close()
}

// Key returns the query key for viewing state in lang
func (s *Service) Key(state filter.State, lang domain.Language) query.Key {
	return query.NewKey(domain.KindSnippet, state, lang)
}

// Browse returns a view that follows one key at a time, for list screens
func (s *Service) Browse() *fetch.View[domain.Snippet] {
	return s.fetcher.View()
}

// PageSize returns the number of snippets per page
func (s *Service) PageSize() int {
	return s.fetcher.PageSize()
}

// List loads at least pages pages of the collection for state, or all of
// them if there are fewer. A collection restored from the store is refetched
// first.
func (s *Service) List(ctx context.Context, state filter.State, lang domain.Language, pages int) (fetch.Collection[domain.Snippet], error) {
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
	s.logger.Debug("listed snippets", "key", key.Hash(), "pages", c.Pages, "count", len(c.Items))
	return c, nil
}

// More appends the next page of key
func (s *Service) More(ctx context.Context, key query.Key) (fetch.Collection[domain.Snippet], error) {
	return s.fetcher.FetchNext(ctx, key)
}

// Refresh reloads every loaded page of key
func (s *Service) Refresh(ctx context.Context, key query.Key) (fetch.Collection[domain.Snippet], error) {
	return s.fetcher.Refetch(ctx, key)
}

// Get returns the snippet detail, from the cache when present. A detail
// restored from a previous run is reloaded first; it is only returned as is
// when the backend is unreachable.
func (s *Service) Get(ctx context.Context, id string, lang domain.Language) (domain.Snippet, error) {
	if id == "" {
		return domain.Snippet{}, fmt.Errorf("%w: snippet id is required", domain.ErrValidation)
	}
	e, _ := s.cache.Entity(ref(id), lang)
	cached, ok := e.(domain.Snippet)
	if !ok {
		return s.Reload(ctx, id, lang)
	}
	if !s.cache.EntityStale(ref(id), lang) {
		return cached, nil
	}

	sn, err := s.Reload(ctx, id, lang)
	if err != nil && domain.IsRetryable(err) {
		s.logger.Warn("serving stored snippet, backend unreachable", "id", id, "error", err)
		return cached, nil
	}
	return sn, err
}

// Reload fetches the snippet detail from the backend. Concurrent reloads of
// the same snippet share one request; a caller giving up does not cancel it.
func (s *Service) Reload(ctx context.Context, id string, lang domain.Language) (domain.Snippet, error) {
	name := string(lang) + "|" + id
	ch := s.details.DoChan(name, func() (any, error) {
		return s.fetchDetail(context.WithoutCancel(ctx), id, lang)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Snippet{}, res.Err
		}
		return res.Val.(domain.Snippet), nil
	case <-ctx.Done():
		return domain.Snippet{}, ctx.Err()
	}
}

func (s *Service) fetchDetail(ctx context.Context, id string, lang domain.Language) (domain.Snippet, error) {
	params := map[string]any{"snippet_id": id, "p_language": string(lang)}

	raw, err := s.caller.Call(ctx, procGet, params)
	if err != nil && domain.IsRetryable(err) {
		s.logger.Debug("retrying snippet detail", "id", id, "error", err)
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return domain.Snippet{}, ctx.Err()
		}
		raw, err = s.caller.Call(ctx, procGet, params)
	}
	if err != nil {
		s.logger.Warn("failed to fetch snippet", "id", id, "error", err)
		return domain.Snippet{}, err
	}

	sn, err := decodeSnippet(raw)
	if err != nil {
		return domain.Snippet{}, err
	}
	s.cache.PutEntity(lang, sn)

	// The overlay may have layered a pending mutation on top
	if e, ok := s.cache.Entity(ref(id), lang); ok {
		if cur, ok := e.(domain.Snippet); ok {
			return cur, nil
		}
	}
	return sn, nil
}

func decodeSnippet(raw json.RawMessage) (domain.Snippet, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []domain.Snippet
		if err := json.Unmarshal(raw, &list); err != nil {
			return domain.Snippet{}, malformed(procGet, err)
		}
		if len(list) == 0 {
			return domain.Snippet{}, domain.ErrNotFound
		}
		return list[0], nil
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.Snippet{}, domain.ErrNotFound
	}
	var sn domain.Snippet
	if err := json.Unmarshal(raw, &sn); err != nil {
		return domain.Snippet{}, malformed(procGet, err)
	}
	if sn.ID == "" {
		return domain.Snippet{}, domain.ErrNotFound
	}
	return sn, nil
}

// PrefetchDetails warms the detail cache for ids, a few at a time
func (s *Service) PrefetchDetails(ctx context.Context, ids []string, lang domain.Language) error {
	var g errgroup.Group
	g.SetLimit(prefetchLimit)
	for _, id := range ids {
		if _, ok := s.cache.Entity(ref(id), lang); ok {
			continue
		}
		id := id
		g.Go(func() error {
			_, err := s.Reload(ctx, id, lang)
			return err
		})
	}
	return g.Wait()
}

// Invalidate marks every snippet collection stale
func (s *Service) Invalidate() {
	s.cache.Invalidate(domain.KindSnippet)
}

// ToggleStar flips the user's star on a snippet
func (s *Service) ToggleStar(ctx context.Context, id string) (*mutation.Record, error) {
	return s.perform(ctx, mutation.Mutation{
		Name:   "star snippet",
		Target: ref(id),
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			if cur == nil {
				return nil, nil
			}
			return mutation.StarPatch(cur), nil
		},
		Remote:  s.remote(procStar, map[string]any{"snippet_id": id}, bareStarred),
		Affects: []filter.Dimension{filter.DimStarredBy},
	})
}

// Like votes on a snippet. Voting the same way twice clears the vote.
func (s *Service) Like(ctx context.Context, id string, requested domain.LikeStatus) (*mutation.Record, error) {
	if requested != domain.Like && requested != domain.Dislike {
		return nil, fmt.Errorf("%w: vote must be like or dislike", domain.ErrValidation)
	}

	// The backend takes the resulting vote, so it is computed from the
	// cached value when there is one
	value := requested
	return s.perform(ctx, mutation.Mutation{
		Name:   "like snippet",
		Target: ref(id),
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			sn, ok := cur.(domain.Snippet)
			if !ok {
				return nil, nil
			}
			p := mutation.LikePatch(sn, requested)
			value = *p.UserLikeStatus.Value
			return p, nil
		},
		Remote: func(ctx context.Context) (mutation.Patch, error) {
			raw, err := s.caller.Call(ctx, procLike, map[string]any{"snippet_id": id, "value": int(value)})
			if err != nil {
				return nil, err
			}
			return decodeResult(procLike, raw, bareVote)
		},
	})
}

// Hide hides a snippet for everyone
func (s *Service) Hide(ctx context.Context, id string) (*mutation.Record, error) {
	return s.setHidden(ctx, id, true)
}

// Unhide reverses Hide
func (s *Service) Unhide(ctx context.Context, id string) (*mutation.Record, error) {
	return s.setHidden(ctx, id, false)
}

func (s *Service) setHidden(ctx context.Context, id string, hidden bool) (*mutation.Record, error) {
	name, proc := "hide snippet", procHide
	if !hidden {
		name, proc = "unhide snippet", procUnhide
	}
	return s.perform(ctx, mutation.Mutation{
		Name:   name,
		Target: ref(id),
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			return mutation.SnippetPatch{Hidden: mutation.Set(hidden)}, nil
		},
		Remote: s.remote(proc, map[string]any{"snippet_id": id}, bareHidden),
		Verify: func(_, server mutation.Patch) error {
			sp, ok := server.(mutation.SnippetPatch)
			if ok && sp.Hidden.Set && sp.Hidden.Value != hidden {
				return domain.Conflict(proc, "snippet visibility differs on the server")
			}
			return nil
		},
	})
}

// AddLabel applies a label to a snippet, creating it if needed, and upvotes it
func (s *Service) AddLabel(ctx context.Context, id, text string) (*mutation.Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: label text is required", domain.ErrValidation)
	}

	var optimistic []domain.Label
	return s.perform(ctx, mutation.Mutation{
		Name:   "add label",
		Target: ref(id),
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			sn, ok := cur.(domain.Snippet)
			if !ok {
				return nil, nil
			}
			for _, l := range sn.Labels {
				if strings.EqualFold(l.Text, text) {
					return nil, nil
				}
			}
			optimistic = append(append([]domain.Label(nil), sn.Labels...), domain.Label{
				ID:          pendingLabelPrefix + text,
				Text:        text,
				UpvoteCount: 1,
				UpvotedByMe: true,
			})
			return mutation.SnippetPatch{Labels: mutation.Set(optimistic)}, nil
		},
		Remote: func(ctx context.Context) (mutation.Patch, error) {
			raw, err := s.caller.Call(ctx, procAddLabel, map[string]any{"snippet_id": id, "label_text": text})
			if err != nil {
				return nil, err
			}
			l, ok, err := decodeLabel(procAddLabel, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				return settleLabel(optimistic, l), nil
			}
			return decodeResult(procAddLabel, raw, bareLabels)
		},
		Invalidate: []domain.Kind{domain.KindSnippet, domain.KindLabel},
	})
}

// settleLabel replaces the placeholder with the server's label
func settleLabel(optimistic []domain.Label, server domain.Label) mutation.Patch {
	if optimistic == nil {
		return nil
	}
	labels := make([]domain.Label, len(optimistic))
	copy(labels, optimistic)
	for i, l := range labels {
		if strings.HasPrefix(l.ID, pendingLabelPrefix) && strings.EqualFold(l.Text, server.Text) {
			labels[i] = server
		}
	}
	return mutation.SnippetPatch{Labels: mutation.Set(labels)}
}

// ToggleLabelUpvote flips the user's upvote on one of a snippet's labels
func (s *Service) ToggleLabelUpvote(ctx context.Context, id, labelID string) (*mutation.Record, error) {
	if labelID == "" {
		return nil, fmt.Errorf("%w: label id is required", domain.ErrValidation)
	}
	return s.perform(ctx, mutation.Mutation{
		Name:   "upvote label",
		Target: ref(id),
		Optimistic: func(cur domain.Entity) (mutation.Patch, error) {
			sn, ok := cur.(domain.Snippet)
			if !ok {
				return nil, nil
			}
			if p, ok := mutation.LabelUpvotePatch(sn, labelID); ok {
				return p, nil
			}
			return nil, nil
		},
		Remote:  s.remote(procUpvoteLabel, map[string]any{"snippet_id": id, "label_id": labelID}, bareLabels),
		Affects: []filter.Dimension{filter.DimLabeledBy},
	})
}

func (s *Service) perform(ctx context.Context, m mutation.Mutation) (*mutation.Record, error) {
	if m.Target.ID == "" {
		return nil, fmt.Errorf("%w: snippet id is required", domain.ErrValidation)
	}
	return s.engine.Perform(ctx, m)
}

func (s *Service) remote(proc string, params map[string]any, bare bareFunc) func(context.Context) (mutation.Patch, error) {
	return func(ctx context.Context) (mutation.Patch, error) {
		raw, err := s.caller.Call(ctx, proc, params)
		if err != nil {
			return nil, err
		}
		return decodeResult(proc, raw, bare)
	}
}

func ref(id string) domain.Ref {
	return domain.Ref{Kind: domain.KindSnippet, ID: id}
}
