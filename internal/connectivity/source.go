// Package connectivity tracks whether the upstream is reachable.
package connectivity

import "sync"

// Source reports the platform connectivity signal.
type Source interface {
	Online() bool
	// Subscribe registers fn for transitions and returns an unsubscribe func.
	Subscribe(fn func(online bool)) func()
}

// Manual is a Source driven by explicit Set calls. Listeners are only
// notified when the state changes.
type Manual struct {
	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners map[uint64]func(bool)
}

func NewManual(online bool) *Manual {
	return &Manual{online: online, listeners: make(map[uint64]func(bool))}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and notifies listeners on change.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
}

func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}
