package connectivity

import (
	"sync"
	"sync/atomic"

	"resilient/internal/events"
	"resilient/internal/logging"

	"github.com/rs/zerolog"
)

// Monitor owns the online flag. It is initialized from the source and
// changed only by source transitions, which it republishes on the bus as
// events.EventOnline and events.EventOffline.
type Monitor struct {
	bus         *events.EventBus
	logger      zerolog.Logger
	online      atomic.Bool
	mu          sync.Mutex
	unsubscribe func()
}

func NewMonitor(src Source, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	if bus == nil {
		bus = events.NewEventBus()
	}
	m := &Monitor{
		bus:    bus,
		logger: logging.Component(logger, "connectivity"),
	}
	m.online.Store(src.Online())
	m.unsubscribe = src.Subscribe(m.handle)

	state := "offline"
	if m.online.Load() {
		state = "online"
	}
	m.logger.Info().Str("state", state).Msg("connectivity monitor initialized")
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) handle(online bool) {
	m.mu.Lock()
	changed := m.online.Load() != online
	if changed {
		m.online.Store(online)
	}
	m.mu.Unlock()
	if !changed {
		return
	}

	// Subscribers run outside the lock so they may call Close.
	if online {
		m.logger.Info().Msg("connection restored")
		m.bus.Publish(&events.Event{Type: events.EventOnline})
		return
	}
	m.logger.Warn().Msg("connection lost")
	m.bus.Publish(&events.Event{Type: events.EventOffline})
}

// OnOnline registers fn for offline to online transitions.
func (m *Monitor) OnOnline(fn func()) func() {
	return m.bus.Subscribe(events.EventOnline, func(*events.Event) error {
		fn()
		return nil
	})
}

// OnOffline registers fn for online to offline transitions.
func (m *Monitor) OnOffline(fn func()) func() {
	return m.bus.Subscribe(events.EventOffline, func(*events.Event) error {
		fn()
		return nil
	})
}

// Close detaches from the source. The flag keeps its last value.
func (m *Monitor) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
