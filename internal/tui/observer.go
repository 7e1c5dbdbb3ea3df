package tui

import "github.com/mmcdole/verdad/internal/mutation"

// ChannelNotifier adapts mutation.Notifier to a channel for Bubble Tea.
type ChannelNotifier struct {
	ch chan mutation.Notice
}

// NewChannelNotifier creates a notifier buffering up to size notices.
func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan mutation.Notice, size)}
}

// Notify sends the notice to the channel (non-blocking if full).
func (n *ChannelNotifier) Notify(notice mutation.Notice) {
	select {
	case n.ch <- notice:
	default: // Drop; the UI already has unread notices
	}
}

// Notices returns the receiving side of the channel.
func (n *ChannelNotifier) Notices() <-chan mutation.Notice {
	return n.ch
}
