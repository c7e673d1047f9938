package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"resilient/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualNotifiesOnChangeOnly(t *testing.T) {
	src := NewManual(true)
	var calls []bool
	unsubscribe := src.Subscribe(func(online bool) { calls = append(calls, online) })

	src.Set(true)
	src.Set(false)
	src.Set(false)
	src.Set(true)
	unsubscribe()
	src.Set(false)

	assert.Equal(t, []bool{false, true}, calls)
	assert.False(t, src.Online())
}

func TestMonitorTransitions(t *testing.T) {
	src := NewManual(false)
	bus := events.NewEventBus()
	m := NewMonitor(src, bus, nil)
	assert.False(t, m.Online())

	var online, offline int
	unOnline := m.OnOnline(func() { online++ })
	m.OnOffline(func() { offline++ })

	src.Set(true)
	assert.True(t, m.Online())
	src.Set(false)
	assert.False(t, m.Online())

	unOnline()
	src.Set(true)

	assert.Equal(t, 1, online)
	assert.Equal(t, 1, offline)
}

func TestMonitorSeesStateBeforeHandlers(t *testing.T) {
	src := NewManual(false)
	m := NewMonitor(src, nil, nil)

	var seen bool
	m.OnOnline(func() { seen = m.Online() })
	src.Set(true)
	assert.True(t, seen)
}

func TestMonitorClose(t *testing.T) {
	src := NewManual(true)
	m := NewMonitor(src, nil, nil)
	m.Close()
	m.Close()

	src.Set(false)
	assert.True(t, m.Online())
}

func TestMonitorCloseFromHandler(t *testing.T) {
	src := NewManual(true)
	m := NewMonitor(src, nil, nil)
	m.OnOffline(m.Close)

	done := make(chan struct{})
	go func() {
		src.Set(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set did not return")
	}
	assert.False(t, m.Online())

	src.Set(true)
	assert.False(t, m.Online())
}

func TestProberProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(ts.Close)

	p := NewProber(ts.URL, time.Hour, time.Second, false, nil)
	ctx := context.Background()
	assert.True(t, p.Probe(ctx))

	status.Store(http.StatusNotFound)
	assert.True(t, p.Probe(ctx))

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Probe(ctx))
}

func TestProberRunDrivesMonitor(t *testing.T) {
	var healthy atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	p := NewProber(ts.URL, 10*time.Millisecond, time.Second, true, nil)
	m := NewMonitor(p, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 5*time.Millisecond)
	healthy.Store(true)
	require.Eventually(t, m.Online, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prober did not stop")
	}
}

func TestProberUnreachable(t *testing.T) {
	p := NewProber("http://127.0.0.1:1/health", time.Hour, 100*time.Millisecond, true, nil)
	assert.False(t, p.Probe(context.Background()))
}
