package tui

import (
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/query"
)

// Message types for the TUI

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

// Error implements the error interface
func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// CollectionLoadedMsg signals that a page request for key settled
type CollectionLoadedMsg struct {
	Key query.Key
	Err error
}

// CacheChangedMsg signals that cached data changed and the view should redraw
type CacheChangedMsg struct{}

// NoticeMsg carries a mutation failure notice
type NoticeMsg struct {
	Notice mutation.Notice
}

// MutationDoneMsg signals that a user action settled
type MutationDoneMsg struct {
	Name   string
	Record *mutation.Record
	Err    error
}

// DetailLoadedMsg signals that a snippet's full record has been fetched
type DetailLoadedMsg struct {
	Snippet domain.Snippet
}

// PlaybackStartedMsg signals that the audio player was launched
type PlaybackStartedMsg struct {
	Title string
}

// TickMsg is a general tick message for animations
type TickMsg struct{}

// ClearStatusMsg clears the status bar message
type ClearStatusMsg struct{}

// StatusMsg sets a temporary status message
type StatusMsg struct {
	Message string
	IsError bool
}
