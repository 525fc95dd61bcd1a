package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ontosync/eventbus"
	"github.com/c360studio/ontosync/metric"
)

func TestObserve_Debounce(t *testing.T) {
	bus := eventbus.New[Event]()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })

	m := New("http://store", nil, bus)
	assert.Equal(t, Unknown, m.State())

	probes := []bool{true, true, false, false, true}
	var positions []int
	for i, reachable := range probes {
		if _, ok := m.Observe(reachable); ok {
			positions = append(positions, i+1)
		}
	}

	assert.Equal(t, []int{1, 3, 5}, positions)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Endpoint: "http://store", From: Unknown, To: Connected, At: events[0].At}, events[0])
	assert.Equal(t, Connected, events[1].From)
	assert.Equal(t, Disconnected, events[1].To)
	assert.Equal(t, Disconnected, events[2].From)
	assert.Equal(t, Connected, events[2].To)
	assert.Equal(t, Connected, m.State())
}

func TestObserve_FirstProbeUnreachable(t *testing.T) {
	m := New("e", nil, nil)

	e, ok := m.Observe(false)
	require.True(t, ok)
	assert.Equal(t, Unknown, e.From)
	assert.Equal(t, Disconnected, e.To)

	_, ok = m.Observe(false)
	assert.False(t, ok)
}

// scriptedProber returns queued results, then keeps returning the last one.
type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	return p.results[i]
}

func TestProbeOnce_ErrorsCountAsDisconnected(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	prober := &scriptedProber{results: []error{nil, boom, nil}}
	metrics := metric.NewMetrics()

	bus := eventbus.New[Event]()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })

	m := New("http://store", prober, bus, WithMetrics(metrics))
	ctx := context.Background()

	assert.Equal(t, Connected, m.ProbeOnce(ctx))
	assert.Equal(t, Disconnected, m.ProbeOnce(ctx))
	assert.Equal(t, Connected, m.ProbeOnce(ctx))

	require.Len(t, events, 3)
	assert.ErrorIs(t, events[1].Err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConnectionState.WithLabelValues("http://store")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("http://store", "connected")))
	assert.False(t, m.LastProbe().IsZero())
}

func TestStartStop(t *testing.T) {
	prober := &scriptedProber{results: []error{nil}}
	bus := eventbus.New[Event]()
	got := make(chan Event, 4)
	bus.Subscribe(func(e Event) { got <- e })

	m := New("http://store", prober, bus, WithInterval(10*time.Millisecond))
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	select {
	case e := <-got:
		assert.Equal(t, Connected, e.To)
	case <-time.After(2 * time.Second):
		t.Fatal("no state change published")
	}

	m.Stop()
	m.Stop()
	assert.Equal(t, Connected, m.State())
}

func TestStart_RequiresProber(t *testing.T) {
	m := New("e", nil, nil)
	assert.Error(t, m.Start(context.Background()))
}

func TestProbeOnce_CancelledContextKeepsState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New("e", ProberFunc(func(context.Context) error {
		cancel()
		return context.Canceled
	}), nil)

	assert.Equal(t, Unknown, m.ProbeOnce(ctx))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnected", Disconnected.String())
}
