package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the application
type KeyMap struct {
	// Navigation
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding
	Enter    key.Binding

	// Snippet actions
	Star        key.Binding
	Like        key.Binding
	Dislike     key.Binding
	Hide        key.Binding
	AddLabel    key.Binding
	UpvoteLabel key.Binding
	Play        key.Binding

	// View
	Filter       key.Binding
	EditFilter   key.Binding
	ClearFilters key.Binding
	Sort         key.Binding
	Language     key.Binding
	Refresh      key.Binding

	Quit   key.Binding
	Help   key.Binding
	Escape key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		// Navigation
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("PgUp", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("PgDn", "page down"),
		),
		Home: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "go to top"),
		),
		End: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "go to bottom"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "details"),
		),

		// Snippet actions
		Star: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "star"),
		),
		Like: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "like"),
		),
		Dislike: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "dislike"),
		),
		Hide: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "hide/unhide"),
		),
		AddLabel: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add label"),
		),
		UpvoteLabel: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "upvote top label"),
		),
		Play: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "play audio"),
		),

		// View
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter loaded"),
		),
		EditFilter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "edit filters"),
		),
		ClearFilters: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear filters"),
		),
		Sort: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "cycle sort"),
		),
		Language: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "toggle language"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),

		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel/clear"),
		),
	}
}

// Keys is the global key bindings instance
var Keys = DefaultKeyMap()
