// Package connectivity tracks whether the remote system of record is
// reachable and tells interested components when that changes.
package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// State is the process-wide connectivity state. It is never persisted.
type State struct {
	Online        bool      `json:"online"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// Listener receives every real transition. Listeners run synchronously on
// the goroutine that reported the transition and must not block; the sync
// scheduler's listener only signals a channel.
type Listener func(State)

// Monitor owns the connectivity state.
//
// Thread-safety: all methods are safe for concurrent use. Transitions are
// serialized, so listeners observe them one at a time and in order.
type Monitor struct {
	// setMu serializes transitions including listener notification.
	setMu sync.Mutex

	mu        sync.Mutex
	state     State
	listeners []subscription
	nextID    int

	now    func() time.Time
	logger *slog.Logger
}

type subscription struct {
	id int
	fn Listener
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock overrides the wall clock used for LastChangedAt.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initialOnline bool, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connectivity")
	m.state = State{Online: initialOnline, LastChangedAt: m.now().UTC()}
	return m
}

// Current returns the latest state.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online is shorthand for Current().Online.
func (m *Monitor) Online() bool {
	return m.Current().Online
}

// Subscribe registers fn for future transitions and returns a function that
// removes it. Unsubscribing twice is harmless.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.listeners {
				if s.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Set reports a connectivity signal. A signal equal to the current state is
// ignored. Returns true if the state changed.
func (m *Monitor) Set(online bool) bool {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return false
	}
	m.state = State{Online: online, LastChangedAt: m.now().UTC()}
	state := m.state
	listeners := make([]subscription, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online)
	for _, s := range listeners {
		s.fn(state)
	}
	return true
}
