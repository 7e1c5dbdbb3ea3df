package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/search"
	"github.com/mmcdole/verdad/internal/snippet"
	"github.com/mmcdole/verdad/internal/tui/components"
)

// ApplicationState represents the current state of the application
type ApplicationState int

const (
	StateBrowsing ApplicationState = iota
	StateFiltering
	StateEditingFilter
	StateAddingLabel
	StateHelp
)

const (
	// Header, filter line and footer
	ChromeHeight = 3

	// Rows from the end of the loaded list that trigger the next page
	fetchAhead = 5

	// Width share of the list when the detail pane is open
	ListPercent = 55

	statusTimeout = 4 * time.Second
	tickInterval  = 100 * time.Millisecond
)

// Options configures a Model
type Options struct {
	Snippets *snippet.Service
	Player   Player                 // nil disables playback
	Notices  <-chan mutation.Notice // nil when failures are not surfaced
	Filter   filter.State
	Language domain.Language
}

// Model is the main Bubble Tea model for the application
type Model struct {
	// Application state
	State ApplicationState
	Ready bool

	// Services
	Snippets *snippet.Service
	Player   Player

	queries   *snippet.Queries
	view      *fetch.View[domain.Snippet]
	changes   <-chan struct{}
	stopWatch func()
	notices   <-chan mutation.Notice
	done      chan struct{}
	closeOnce *sync.Once

	// What is being viewed
	Filter   filter.State
	Language domain.Language

	// Data
	Collection fetch.Collection[domain.Snippet]
	LocalQuery string
	Results    []search.Result // Local filter matches; nil when no local filter

	// UI Components
	InputModal  components.InputModal
	labelTarget string

	// Dimensions
	Width  int
	Height int

	// UI state
	Cursor       int
	Offset       int
	ShowDetail   bool
	StatusMsg    string
	StatusIsErr  bool
	SpinnerFrame int
}

// NewModel creates a new application model
func NewModel(opts Options) Model {
	if opts.Language == "" {
		opts.Language = domain.DefaultLanguage
	}
	queries := opts.Snippets.Queries()
	changes, stop := queries.Watch()

	m := Model{
		State:      StateBrowsing,
		Snippets:   opts.Snippets,
		Player:     opts.Player,
		queries:    queries,
		view:       opts.Snippets.Browse(),
		changes:    changes,
		stopWatch:  stop,
		notices:    opts.Notices,
		done:       make(chan struct{}),
		closeOnce:  &sync.Once{},
		Filter:     opts.Filter.Normalize(),
		Language:   opts.Language,
		InputModal: components.NewInputModal(),
	}
	m.view.SetKey(m.Snippets.Key(m.Filter, m.Language))
	m.refresh()
	return m
}

// Close stops background listeners and releases the view
func (m Model) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.stopWatch()
		m.view.Close()
	})
}

// Init initializes the application
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		LoadCollectionCmd(m.view),
		WatchCacheCmd(m.changes, m.done),
		TickCmd(tickInterval),
	}
	if m.notices != nil {
		cmds = append(cmds, WaitNoticeCmd(m.notices, m.done))
	}
	return tea.Batch(cmds...)
}

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case TickMsg:
		m.SpinnerFrame++
		return m, TickCmd(tickInterval)

	case CacheChangedMsg:
		m.refresh()
		return m, tea.Batch(WatchCacheCmd(m.changes, m.done), m.maybeFetchNext())

	case CollectionLoadedMsg:
		m.refresh()
		if msg.Err != nil && msg.Key.Equal(m.view.Key()) {
			return m, m.setStatus(describeLoad(msg.Err), true)
		}
		return m, m.maybeFetchNext()

	case NoticeMsg:
		return m, tea.Batch(
			WaitNoticeCmd(m.notices, m.done),
			m.setStatus(msg.Notice.Message, true),
		)

	case MutationDoneMsg:
		if msg.Err != nil {
			return m, m.setStatus(mutation.Describe(msg.Err), true)
		}
		return m, nil

	case DetailLoadedMsg:
		m.refresh()
		return m, nil

	case PlaybackStartedMsg:
		return m, m.setStatus("Playing "+msg.Title, false)

	case ErrMsg:
		return m, m.setStatus(msg.Context+": "+describeLoad(msg.Err), true)

	case StatusMsg:
		return m, m.setStatus(msg.Message, msg.IsError)

	case ClearStatusMsg:
		m.StatusMsg = ""
		m.StatusIsErr = false
		return m, nil
	}

	return m, nil
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.StatusMsg = text
	m.StatusIsErr = isErr
	return ClearStatusCmd(statusTimeout)
}

// handleKeyMsg handles keyboard input
func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.InputModal.IsVisible() {
		return m.handleInput(msg)
	}

	if m.State == StateHelp {
		m.State = StateBrowsing
		return m, nil
	}

	switch {
	case key.Matches(msg, Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, Keys.Help):
		m.State = StateHelp
		return m, nil

	case key.Matches(msg, Keys.Escape):
		if m.ShowDetail {
			m.ShowDetail = false
		} else if m.LocalQuery != "" {
			m.LocalQuery = ""
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, Keys.Up):
		m.move(-1)
		return m, nil
	case key.Matches(msg, Keys.Down):
		m.move(1)
		return m, m.maybeFetchNext()
	case key.Matches(msg, Keys.PageUp):
		m.move(-m.listHeight())
		return m, nil
	case key.Matches(msg, Keys.PageDown):
		m.move(m.listHeight())
		return m, m.maybeFetchNext()
	case key.Matches(msg, Keys.Home):
		m.move(-len(m.rows()))
		return m, nil
	case key.Matches(msg, Keys.End):
		m.move(len(m.rows()))
		return m, m.maybeFetchNext()

	case key.Matches(msg, Keys.Enter):
		m.ShowDetail = !m.ShowDetail
		if s, ok := m.Selected(); ok && m.ShowDetail {
			return m, LoadDetailCmd(m.Snippets, s.ID, m.Language)
		}
		return m, nil

	case key.Matches(msg, Keys.Filter):
		m.State = StateFiltering
		m.InputModal.Show("Filter loaded snippets", m.LocalQuery, "title words", nil)
		return m, nil

	case key.Matches(msg, Keys.EditFilter):
		m.State = StateEditingFilter
		m.InputModal.Show("Filters (query string)", filter.Encode(m.Filter), "languages=spanish&labeledBy=by_me", nil)
		return m, nil

	case key.Matches(msg, Keys.ClearFilters):
		return m, m.setFilter(m.Filter.ClearAll())

	case key.Matches(msg, Keys.Sort):
		next := m.Filter
		next.Sort = next.Sort.Next()
		return m, tea.Batch(m.setFilter(next), m.setStatus("Sort: "+string(next.Sort), false))

	case key.Matches(msg, Keys.Language):
		if m.Language == domain.LanguageEnglish {
			m.Language = domain.LanguageSpanish
		} else {
			m.Language = domain.LanguageEnglish
		}
		return m, m.setKey()

	case key.Matches(msg, Keys.Refresh):
		return m, RefetchCmd(m.view)
	}

	s, ok := m.Selected()
	if !ok {
		return m, nil
	}
	svc := m.Snippets

	switch {
	case key.Matches(msg, Keys.Star):
		return m, MutateCmd("star", func(ctx context.Context) (*mutation.Record, error) {
			return svc.ToggleStar(ctx, s.ID)
		})

	case key.Matches(msg, Keys.Like):
		return m, MutateCmd("like", func(ctx context.Context) (*mutation.Record, error) {
			return svc.Like(ctx, s.ID, domain.Like)
		})

	case key.Matches(msg, Keys.Dislike):
		return m, MutateCmd("dislike", func(ctx context.Context) (*mutation.Record, error) {
			return svc.Like(ctx, s.ID, domain.Dislike)
		})

	case key.Matches(msg, Keys.Hide):
		if s.Hidden {
			return m, MutateCmd("unhide", func(ctx context.Context) (*mutation.Record, error) {
				return svc.Unhide(ctx, s.ID)
			})
		}
		return m, MutateCmd("hide", func(ctx context.Context) (*mutation.Record, error) {
			return svc.Hide(ctx, s.ID)
		})

	case key.Matches(msg, Keys.AddLabel):
		known := search.KnownLabels(m.Collection.Items)
		m.State = StateAddingLabel
		m.labelTarget = s.ID
		m.InputModal.Show("Add label to "+s.Title, "", "label text", func(input string) []string {
			return search.SuggestLabels(input, known)
		})
		return m, nil

	case key.Matches(msg, Keys.UpvoteLabel):
		label, ok := topLabel(s)
		if !ok {
			return m, m.setStatus("No labels to upvote", false)
		}
		return m, MutateCmd("upvote label", func(ctx context.Context) (*mutation.Record, error) {
			return svc.ToggleLabelUpvote(ctx, s.ID, label.ID)
		})

	case key.Matches(msg, Keys.Play):
		if m.Player == nil {
			return m, m.setStatus("No audio player configured", true)
		}
		return m, PlayCmd(m.Player, s)
	}

	return m, nil
}

// handleInput routes keys to the visible input modal
func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var submitted bool
	m.InputModal, cmd, submitted = m.InputModal.Update(msg)

	if !m.InputModal.IsVisible() {
		// Dismissed
		if m.State == StateFiltering {
			m.LocalQuery = ""
			m.refresh()
		}
		m.State = StateBrowsing
		return m, cmd
	}

	value := strings.TrimSpace(m.InputModal.Value())
	if !submitted {
		if m.State == StateFiltering {
			m.LocalQuery = value
			m.refresh()
		}
		return m, cmd
	}

	m.InputModal.Hide()
	state := m.State
	m.State = StateBrowsing

	switch state {
	case StateFiltering:
		m.LocalQuery = value
		m.refresh()
	case StateEditingFilter:
		next := filter.Decode(strings.TrimPrefix(value, "?"))
		if next.Sort == "" {
			next.Sort = m.Filter.Sort
		}
		return m, m.setFilter(next)
	case StateAddingLabel:
		if value == "" {
			return m, nil
		}
		id, svc := m.labelTarget, m.Snippets
		m.labelTarget = ""
		return m, MutateCmd("add label", func(ctx context.Context) (*mutation.Record, error) {
			return svc.AddLabel(ctx, id, value)
		})
	}
	return m, cmd
}

// setFilter switches the view to f
func (m *Model) setFilter(f filter.State) tea.Cmd {
	m.Filter = f.Normalize()
	return m.setKey()
}

// setKey points the view at the current filter and language
func (m *Model) setKey() tea.Cmd {
	if !m.view.SetKey(m.Snippets.Key(m.Filter, m.Language)) {
		return nil
	}
	m.Cursor, m.Offset = 0, 0
	m.ShowDetail = false
	m.refresh()
	return LoadCollectionCmd(m.view)
}

// refresh re-reads the view's collection from the cache
func (m *Model) refresh() {
	m.Collection = m.view.Current()
	if m.LocalQuery != "" {
		m.Results = search.FilterLoaded(m.LocalQuery, m.Collection.Items)
	} else {
		m.Results = nil
	}
	m.clampCursor()
}

// rows returns what the list shows: local filter matches, or every loaded snippet
func (m Model) rows() []search.Result {
	if m.Results != nil {
		return m.Results
	}
	rows := make([]search.Result, len(m.Collection.Items))
	for i, s := range m.Collection.Items {
		rows[i] = search.Result{Snippet: s, Index: i}
	}
	return rows
}

// Selected returns the snippet under the cursor, with its cached detail when loaded
func (m Model) Selected() (domain.Snippet, bool) {
	rows := m.rows()
	if m.Cursor < 0 || m.Cursor >= len(rows) {
		return domain.Snippet{}, false
	}
	s := rows[m.Cursor].Snippet
	if detail, ok := m.queries.Find(m.view.Key(), s.ID); ok {
		return detail, true
	}
	return s, true
}

func (m *Model) move(delta int) {
	m.Cursor += delta
	m.clampCursor()
}

func (m *Model) clampCursor() {
	n := len(m.rows())
	if m.Cursor >= n {
		m.Cursor = n - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}

	visible := m.listHeight()
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if visible > 0 && m.Cursor >= m.Offset+visible {
		m.Offset = m.Cursor - visible + 1
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func (m Model) listHeight() int {
	h := m.Height - ChromeHeight
	if h < 1 {
		return 1
	}
	return h
}

// maybeFetchNext requests the next page once the cursor nears the end of
// the loaded list
func (m Model) maybeFetchNext() tea.Cmd {
	c := m.Collection
	if m.LocalQuery != "" || !c.HasMore || c.Loading || c.FetchingNext {
		return nil
	}
	if m.Cursor < len(c.Items)-fetchAhead {
		return nil
	}
	return FetchNextCmd(m.view)
}

// topLabel returns the snippet's most upvoted label
func topLabel(s domain.Snippet) (domain.Label, bool) {
	if len(s.Labels) == 0 {
		return domain.Label{}, false
	}
	best := s.Labels[0]
	for _, l := range s.Labels[1:] {
		if l.UpvoteCount > best.UpvoteCount {
			best = l
		}
	}
	return best, true
}

// describeLoad turns a read error into a short status line
func describeLoad(err error) string {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "sign in required"
	case errors.Is(err, domain.ErrNetwork):
		return "server unreachable"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.As(err, &remote) && remote.Message != "":
		return remote.Message
	default:
		return err.Error()
	}
}
