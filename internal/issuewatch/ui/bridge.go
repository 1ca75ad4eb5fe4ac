package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/petr-muller/ugs/internal/issuewatch/dispatch"
)

// postedMsg carries a callback posted from a background goroutine to the program loop
type postedMsg struct {
	fn func()
}

// Bridge delivers callbacks from monitors onto the bubbletea program loop. Posting never
// blocks; callbacks queue up until the program reads them.
type Bridge struct {
	queue *dispatch.Queue
	// send is only used from the Run goroutine
	send func(tea.Msg)
}

// NewBridge creates a bridge. Callbacks are held until Run is called.
func NewBridge() *Bridge {
	return &Bridge{queue: dispatch.NewQueue()}
}

// Post implements dispatch.PostFunc
func (b *Bridge) Post(fn func()) {
	b.queue.Post(func() {
		b.send(postedMsg{fn: fn})
	})
}

// Run forwards posted callbacks to send, usually (*tea.Program).Send, until ctx is done
func (b *Bridge) Run(ctx context.Context, send func(tea.Msg)) {
	b.send = send
	b.queue.Run(ctx)
}
