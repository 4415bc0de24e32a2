package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudzz-dev/cldzchat/internal/client/socket"
)

type changedMsg struct{}

type toast struct {
	seq   int
	text  string
	isErr bool
}

// Bridge carries store changes, connection status and notifications from
// other goroutines into the bubbletea loop. Signals are coalesced: the model
// re-reads everything on each wake-up.
type Bridge struct {
	changed chan struct{}

	mu        sync.Mutex
	connected bool
	toast     toast
}

func NewBridge() *Bridge {
	return &Bridge{changed: make(chan struct{}, 1)}
}

// Changed wakes the model. Safe to call from store subscriptions.
func (b *Bridge) Changed() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *Bridge) Status(st socket.Status) {
	b.mu.Lock()
	b.connected = st.Connected
	b.mu.Unlock()
	b.Changed()
}

func (b *Bridge) Success(msg string) { b.notify(msg, false) }
func (b *Bridge) Error(msg string)   { b.notify(msg, true) }

func (b *Bridge) notify(text string, isErr bool) {
	b.mu.Lock()
	b.toast = toast{seq: b.toast.seq + 1, text: text, isErr: isErr}
	b.mu.Unlock()
	b.Changed()
}

func (b *Bridge) read() (connected bool, t toast) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected, b.toast
}

func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		<-b.changed
		return changedMsg{}
	}
}
