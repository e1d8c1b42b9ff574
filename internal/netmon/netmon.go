// Package netmon owns the process-wide connectivity state. The state has a
// single writer (whatever feeds Set: the CLI, the HTTP API, or an embedding
// runtime's connectivity events) and any number of readers. Subscribers are
// notified edge-triggered: only on an actual transition, never on a repeated
// report of the same state.
package netmon

import "sync"

type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)

	// Persist, when set, is called with the new state before subscribers run
	// so the value survives a restart.
	Persist func(online bool) error
}

// New returns a Monitor initialized to the given state without notifying
// anyone.
func New(online bool) *Monitor {
	return &Monitor{online: online, subs: make(map[int]func(bool))}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set updates the state. Subscribers fire synchronously, after the state (and
// its persisted copy) have been updated, and only if the value changed.
func (m *Monitor) Set(online bool) error {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return nil
	}
	m.online = online
	persist := m.Persist
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if persist != nil {
		if err := persist(online); err != nil {
			// A failed persist means the transition did not happen. Restore
			// the previous state so a retried Set is a real transition and
			// still fires subscribers.
			m.mu.Lock()
			m.online = !online
			m.mu.Unlock()
			return err
		}
	}
	for _, fn := range subs {
		fn(online)
	}
	return nil
}

// Subscribe registers fn for transition notifications and returns a cancel
// function.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
