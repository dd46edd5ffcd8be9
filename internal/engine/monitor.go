package engine

import (
	"sync"

	"github.com/roach88/offsync/internal/ir"
)

// Transition is a discrete change of network state.
type Transition int

const (
	// WentOffline fires when online flips to false.
	WentOffline Transition = iota + 1
	// WentOnline fires when online flips to true.
	WentOnline
	// BecameReady fires once, when startup completes.
	BecameReady
)

func (t Transition) String() string {
	switch t {
	case WentOffline:
		return "went_offline"
	case WentOnline:
		return "went_online"
	case BecameReady:
		return "became_ready"
	default:
		return "unknown"
	}
}

// Monitor holds the connectivity state and emits transitions.
//
// The state starts as online and not ready. Connectivity is pushed in by a
// host signal adapter; a host that cannot report connectivity leaves the
// monitor online.
//
// Safe for concurrent use. Listeners run synchronously on the caller's
// goroutine, outside the monitor lock; they should only enqueue work.
type Monitor struct {
	mu        sync.Mutex
	state     ir.NetworkState
	nextID    int
	listeners map[int]func(Transition)
}

// NewMonitor creates a monitor in the {online: true, ready: false} state.
func NewMonitor() *Monitor {
	return &Monitor{
		state:     ir.NetworkState{Online: true},
		listeners: make(map[int]func(Transition)),
	}
}

// State returns the current network state.
func (m *Monitor) State() ir.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports the current connectivity.
func (m *Monitor) Online() bool {
	return m.State().Online
}

// Ready reports whether startup has completed.
func (m *Monitor) Ready() bool {
	return m.State().Ready
}

// SetOnline records connectivity. Emits WentOnline or WentOffline only when
// the value changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return
	}
	m.state.Online = online
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	tr := WentOffline
	if online {
		tr = WentOnline
	}
	notify(listeners, tr)
}

// MarkReady records that startup completed. Only the first call emits
// BecameReady.
func (m *Monitor) MarkReady() {
	m.mu.Lock()
	if m.state.Ready {
		m.mu.Unlock()
		return
	}
	m.state.Ready = true
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, BecameReady)
}

// Subscribe registers fn for transitions and returns a function that
// removes it.
func (m *Monitor) Subscribe(fn func(Transition)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// snapshotListeners copies listeners in registration order. Caller holds mu.
func (m *Monitor) snapshotListeners() []func(Transition) {
	out := make([]func(Transition), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(Transition), tr Transition) {
	for _, fn := range listeners {
		fn(tr)
	}
}
