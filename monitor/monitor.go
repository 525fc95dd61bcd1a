// Package monitor probes triple store reachability on a fixed interval and
// publishes debounced connection state changes on an event bus.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/ontosync/eventbus"
	"github.com/c360studio/ontosync/metric"
)

// State is the connection state of one endpoint.
type State int

const (
	// Unknown is held until the first probe completes. It is never re-entered.
	Unknown State = iota
	Connected
	Disconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is published when the probed state differs from the held state.
type Event struct {
	Endpoint string
	From     State
	To       State
	At       time.Time
	// Err is the probe error that caused a transition to Disconnected.
	Err error
}

// Prober checks reachability. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// DefaultInterval is the probe period used when none is configured.
const DefaultInterval = 5 * time.Second

// Monitor holds the connection state of one endpoint.
type Monitor struct {
	endpoint string
	prober   Prober
	bus      *eventbus.Bus[Event]
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics
	now      func() time.Time

	stateMu   sync.RWMutex
	state     State
	lastProbe time.Time

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	probes      atomic.Int64
	transitions atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds a single probe. Zero leaves the prober's own
// timeout in charge.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMetrics records state and transitions.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a monitor for endpoint. bus may be nil when only State is
// needed.
func New(endpoint string, prober Prober, bus *eventbus.Bus[Event], opts ...Option) *Monitor {
	m := &Monitor{
		endpoint: endpoint,
		prober:   prober,
		bus:      bus,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Endpoint returns the monitored endpoint.
func (m *Monitor) Endpoint() string { return m.endpoint }

// State returns the held state.
func (m *Monitor) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// LastProbe returns the time of the most recent probe.
func (m *Monitor) LastProbe() time.Time {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.lastProbe
}

// Start probes immediately and then on every interval until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}
	if m.prober == nil {
		return fmt.Errorf("monitor for %s has no prober", m.endpoint)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.probeLoop(loopCtx, m.done)

	m.logger.Info("Availability monitor started",
		"endpoint", m.endpoint,
		"interval", m.interval)
	return nil
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Availability monitor stopped",
		"endpoint", m.endpoint,
		"probes", m.probes.Load(),
		"transitions", m.transitions.Load())
}

func (m *Monitor) probeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs one probe and applies its outcome. Probe errors count as
// Disconnected.
func (m *Monitor) ProbeOnce(ctx context.Context) State {
	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		// Shutdown, not an outage
		return m.State()
	}
	m.probes.Add(1)
	if err != nil {
		m.logger.Debug("Probe failed", "endpoint", m.endpoint, "error", err)
	}
	m.apply(err == nil, err)
	return m.State()
}

// Observe applies a probe outcome and reports the published event, if any.
// Only a result that differs from the held state produces an event.
func (m *Monitor) Observe(reachable bool) (Event, bool) {
	return m.apply(reachable, nil)
}

func (m *Monitor) apply(reachable bool, probeErr error) (Event, bool) {
	next := Disconnected
	if reachable {
		next = Connected
	}

	m.stateMu.Lock()
	now := m.now()
	m.lastProbe = now
	prev := m.state
	if prev == next {
		m.stateMu.Unlock()
		return Event{}, false
	}
	m.state = next
	m.stateMu.Unlock()

	m.transitions.Add(1)
	event := Event{Endpoint: m.endpoint, From: prev, To: next, At: now, Err: probeErr}

	if m.metrics != nil {
		m.metrics.ConnectionState.WithLabelValues(m.endpoint).Set(float64(next))
		m.metrics.Transitions.WithLabelValues(m.endpoint, next.String()).Inc()
	}

	if next == Disconnected {
		m.logger.Warn("Triple store unreachable",
			"endpoint", m.endpoint,
			"from", prev.String(),
			"error", probeErr)
	} else {
		m.logger.Info("Triple store reachable",
			"endpoint", m.endpoint,
			"from", prev.String())
	}

	if m.bus != nil {
		if err := m.bus.Publish(event); err != nil {
			m.logger.Debug("State change not published", "endpoint", m.endpoint, "error", err)
		}
	}
	return event, true
}
