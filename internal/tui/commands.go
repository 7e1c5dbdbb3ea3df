package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/snippet"
)

// Command factories for async operations

// Player launches audio playback for a snippet's file path
type Player interface {
	Play(path string) error
}

// LoadCollectionCmd loads the first page of the view's key
func LoadCollectionCmd(view *fetch.View[domain.Snippet]) tea.Cmd {
	return pageCmd(view, view.Load)
}

// FetchNextCmd appends the next page of the view's key
func FetchNextCmd(view *fetch.View[domain.Snippet]) tea.Cmd {
	return pageCmd(view, view.FetchNext)
}

// RefetchCmd reloads every page of the view's key
func RefetchCmd(view *fetch.View[domain.Snippet]) tea.Cmd {
	return pageCmd(view, view.Refetch)
}

func pageCmd(view *fetch.View[domain.Snippet], fn func(context.Context) (fetch.Collection[domain.Snippet], error)) tea.Cmd {
	key := view.Key()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		_, err := fn(ctx)
		if errors.Is(err, fetch.ErrSuperseded) {
			// The newer key's own load reports for it
			return nil
		}
		return CollectionLoadedMsg{Key: key, Err: err}
	}
}

// LoadDetailCmd fetches the full record for a snippet
func LoadDetailCmd(svc *snippet.Service, id string, lang domain.Language) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := svc.Get(ctx, id, lang)
		if err != nil {
			return ErrMsg{Err: err, Context: "loading snippet"}
		}
		return DetailLoadedMsg{Snippet: s}
	}
}

// MutateCmd runs one user action. Failures are reported through the
// engine's notifier, so the returned message only carries the outcome.
func MutateCmd(name string, fn func(ctx context.Context) (*mutation.Record, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rec, err := fn(ctx)
		return MutationDoneMsg{Name: name, Record: rec, Err: err}
	}
}

// PlayCmd starts audio playback for a snippet
func PlayCmd(player Player, s domain.Snippet) tea.Cmd {
	return func() tea.Msg {
		if err := player.Play(s.AudioFile); err != nil {
			return ErrMsg{Err: err, Context: "starting playback"}
		}
		return PlaybackStartedMsg{Title: s.Title}
	}
}

// WatchCacheCmd waits for the next cache change. It returns nil once done
// is closed.
func WatchCacheCmd(changes <-chan struct{}, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-changes:
			return CacheChangedMsg{}
		case <-done:
			return nil
		}
	}
}

// WaitNoticeCmd waits for the next mutation failure notice
func WaitNoticeCmd(notices <-chan mutation.Notice, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case n := <-notices:
			return NoticeMsg{Notice: n}
		case <-done:
			return nil
		}
	}
}

// TickCmd returns a command that sends a tick after a delay
func TickCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(t time.Time) tea.Msg {
		return TickMsg{}
	})
}

// ClearStatusCmd returns a command that clears status after a delay
func ClearStatusCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(t time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}
