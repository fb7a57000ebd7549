package runner

import (
	"sync"
)

// Manager owns the single ownership token. At most one Timer created by a
// Manager can be running at any instant; contenders are rejected, never queued.
type Manager struct {
	mu     sync.Mutex
	owner  *Timer
	timers map[string]*Timer
	opts   []Option
}

// NewManager returns a Manager whose timers all get opts applied before their
// own options.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		timers: make(map[string]*Timer),
		opts:   opts,
	}
}

func (m *Manager) NewTimer(opts ...Option) *Timer {
	all := make([]Option, 0, len(m.opts)+len(opts))
	all = append(all, m.opts...)
	all = append(all, opts...)

	t := newTimer(m, all...)

	m.mu.Lock()
	m.timers[t.id] = t
	m.mu.Unlock()

	return t
}

// Remove stops t and forgets it.
func (m *Manager) Remove(t *Timer) {
	t.Stop()

	m.mu.Lock()
	delete(m.timers, t.id)
	m.mu.Unlock()
}

func (m *Manager) Timer(id string) (*Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	return t, ok
}

// Owner returns the running Timer, if any.
func (m *Manager) Owner() *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

func (m *Manager) Busy() bool {
	return m.Owner() != nil
}

// StopAll cancels every timer. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	timers := make([]*Timer, 0, len(m.timers))
	for _, t := range m.timers {
		timers = append(timers, t)
	}
	m.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

func (m *Manager) acquire(t *Timer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner != nil && m.owner != t {
		return false
	}
	m.owner = t
	return true
}

func (m *Manager) release(t *Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owner == t {
		m.owner = nil
	}
}
