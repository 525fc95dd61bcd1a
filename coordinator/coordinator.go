// Package coordinator drives synchronization: it compiles registry events
// into update transactions, dispatches them to the triple store, buffers
// what cannot be delivered and replays the buffer when the store becomes
// reachable again.
//
// Ordering: while the buffer holds a backlog, or before the schema
// bootstrap has finished, new transactions are appended behind the backlog
// instead of being sent, so that updates to one unit are never reordered.
// The backlog is replayed on every reconnect, on bootstrap completion and,
// while the store stays reachable, on a retry ticker.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/ontosync/buffer"
	"github.com/c360studio/ontosync/delta"
	"github.com/c360studio/ontosync/eventbus"
	"github.com/c360studio/ontosync/metric"
	"github.com/c360studio/ontosync/monitor"
	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/sparql"
)

const defaultRetryInterval = 5 * time.Second

// Dispatcher sends one update expression to the store. Any error is a
// delivery failure.
type Dispatcher interface {
	Update(ctx context.Context, payload string) error
}

// Outcome is what happened to one submitted change set.
type Outcome int

const (
	// Delivered means the store accepted the update.
	Delivered Outcome = iota
	// Queued means the update was appended behind a backlog without a
	// delivery attempt.
	Queued
	// Failed means delivery failed and the update waits in the buffer.
	Failed
	// Dropped means the change could not be compiled, rendered or buffered.
	Dropped
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Failed:
		return "failed"
	default:
		return "dropped"
	}
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	compiler   *delta.Compiler
	builder    *sparql.Builder
	dispatcher Dispatcher
	buffer     *buffer.Buffer
	logger     *slog.Logger
	metrics    *metric.Metrics
	monitorBus *eventbus.Bus[monitor.Event]

	// sendMu makes the backlog check, the dispatch and the fallback append
	// one step.
	sendMu  sync.Mutex
	ready   atomic.Bool
	offline atomic.Bool

	run runCounters

	retryInterval time.Duration

	// Lifecycle
	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()
	stopRetry   context.CancelFunc
	retries     sync.WaitGroup
	drains      sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithMonitorEvents subscribes the coordinator to connection state changes
// when it starts.
func WithMonitorEvents(bus *eventbus.Bus[monitor.Event]) Option {
	return func(c *Coordinator) {
		c.monitorBus = bus
	}
}

// WithReady marks the schema as already present, e.g. when bootstrap is
// disabled.
func WithReady(ready bool) Option {
	return func(c *Coordinator) {
		c.ready.Store(ready)
	}
}

// WithRetryInterval sets how often a backlog is replayed while the store is
// considered reachable. Zero or negative disables the ticker; the backlog is
// then replayed only on reconnect and bootstrap completion.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.retryInterval = d
	}
}

// New creates a coordinator.
func New(compiler *delta.Compiler, builder *sparql.Builder, dispatcher Dispatcher, buf *buffer.Buffer, opts ...Option) *Coordinator {
	c := &Coordinator{
		compiler:   compiler,
		builder:    builder,
		dispatcher: dispatcher,
		buffer:     buf,
		logger:     slog.Default(),
		metrics:    metric.NewMetrics(),

		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.run.logger = c.logger
	return c
}

// Start subscribes to monitor events and starts the retry ticker. Drains
// triggered by those events run under ctx.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return fmt.Errorf("coordinator already started")
	}
	c.ctx = ctx
	if c.monitorBus != nil {
		c.unsubscribe = c.monitorBus.Subscribe(c.onConnectionChange)
	}
	if c.retryInterval > 0 {
		retryCtx, cancel := context.WithCancel(ctx)
		c.stopRetry = cancel
		c.retries.Add(1)
		go c.retryLoop(retryCtx)
	}
	c.refreshDepth(ctx)
	c.logger.Info("Coordinator started",
		"ready", c.ready.Load(),
		"retry_interval", c.retryInterval)
	return nil
}

// Stop unsubscribes, stops the retry ticker and waits for running drains.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}
	c.mu.Unlock()
	c.retries.Wait()
	c.drains.Wait()
}

func (c *Coordinator) retryLoop(ctx context.Context) {
	defer c.retries.Done()

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retryBacklog(ctx)
		}
	}
}

// retryBacklog replays a backlog left behind by a failed dispatch. It skips
// while the monitor reports the store offline; the reconnect drains then.
func (c *Coordinator) retryBacklog(ctx context.Context) {
	if !c.ready.Load() || c.offline.Load() {
		return
	}
	n, err := c.buffer.Len(ctx)
	if err != nil || n == 0 {
		return
	}
	if _, err := c.Drain(ctx); err != nil {
		c.logger.Debug("Backlog retry incomplete", "pending", n, "error", err)
	}
}

// Ready reports whether schema bootstrap has completed.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// MarkReady records bootstrap completion and replays the backlog.
func (c *Coordinator) MarkReady(ctx context.Context) {
	if c.ready.Swap(true) {
		return
	}
	c.logger.Info("Schema present, incremental synchronization enabled")
	if _, err := c.Drain(ctx); err != nil {
		c.logger.Debug("Drain after bootstrap incomplete", "error", err)
	}
}

// onConnectionChange runs on the monitor's goroutine; drains are moved off
// it.
func (c *Coordinator) onConnectionChange(e monitor.Event) {
	switch e.To {
	case monitor.Disconnected:
		c.offline.Store(true)
	case monitor.Connected:
		c.offline.Store(false)

		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		c.drains.Add(1)
		go func() {
			defer c.drains.Done()
			if _, err := c.Drain(ctx); err != nil {
				c.logger.Debug("Drain after reconnect incomplete", "error", err)
			}
		}()
	}
}

// Handler adapts HandleEvent to a registry source callback.
func (c *Coordinator) Handler() registry.Handler {
	return func(ctx context.Context, event registry.Event) {
		_ = c.HandleEvent(ctx, event)
	}
}

// HandleEvent compiles, renders and submits one registry event. Delivery
// failures are buffered and not returned; only dropped events yield an
// error.
func (c *Coordinator) HandleEvent(ctx context.Context, event registry.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", delta.ErrInvalidInput)
	}
	c.metrics.Events.WithLabelValues(string(event.Kind())).Inc()

	cs, err := c.compiler.Compile(event)
	if err != nil {
		c.reportCompileError(event.UnitID(), err)
		if cs.IsEmpty() {
			c.metrics.Dropped.WithLabelValues("compile").Inc()
			return err
		}
	}
	if cs.IsEmpty() {
		return nil
	}

	_, err = c.submit(ctx, cs, event.UnitID())
	return err
}

func (c *Coordinator) reportCompileError(unitID string, err error) {
	if errors.Is(err, delta.ErrUnmappedServiceType) || errors.Is(err, delta.ErrUnmappedValue) {
		c.metrics.Unmapped.Inc()
	}
	c.logger.Warn("Delta dropped", "unit_id", unitID, "error", err)
}

// submit renders cs and delivers or buffers it.
func (c *Coordinator) submit(ctx context.Context, cs rdf.ChangeSet, unitID string) (Outcome, error) {
	payload, err := c.builder.Render(cs)
	if err != nil {
		c.metrics.Dropped.WithLabelValues("render").Inc()
		c.logger.Error("Update could not be rendered", "unit_id", unitID, "error", err)
		return Dropped, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if reason := c.holdReason(ctx); reason != "" {
		return c.enqueue(ctx, payload, unitID, reason)
	}

	if err := c.dispatch(ctx, payload); err != nil {
		if sparql.IsFatal(err) {
			c.logger.Error("Store rejected update, buffered for replay",
				"unit_id", unitID,
				"error", err)
		} else {
			c.logger.Warn("Dispatch failed", "unit_id", unitID, "error", err)
		}
		if outcome, err := c.enqueue(ctx, payload, unitID, "dispatch failed"); err != nil {
			return outcome, err
		}
		return Failed, nil
	}
	return Delivered, nil
}

// holdReason returns why a new transaction must queue, or "" to send it.
func (c *Coordinator) holdReason(ctx context.Context) string {
	if !c.ready.Load() {
		return "schema not ready"
	}
	if c.offline.Load() {
		return "store offline"
	}
	n, err := c.buffer.Len(ctx)
	if err != nil {
		c.logger.Warn("Buffer length unavailable", "error", err)
		return "buffer state unknown"
	}
	if n > 0 {
		return "backlog"
	}
	return ""
}

func (c *Coordinator) enqueue(ctx context.Context, payload, unitID, reason string) (Outcome, error) {
	tx, err := c.buffer.Append(ctx, payload)
	if err != nil {
		c.metrics.Dropped.WithLabelValues("buffer").Inc()
		c.logger.Error("Update lost: buffer append failed",
			"unit_id", unitID,
			"bytes", len(payload),
			"error", err)
		return Dropped, err
	}
	c.metrics.Buffered.Inc()
	c.refreshDepth(ctx)
	c.logger.Debug("Update buffered", "unit_id", unitID, "tx", tx.ID, "reason", reason)
	return Queued, nil
}

func (c *Coordinator) dispatch(ctx context.Context, payload string) error {
	start := time.Now()
	err := c.dispatcher.Update(ctx, payload)
	c.metrics.DispatchTime.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.DispatchFailed.WithLabelValues(failureClass(err)).Inc()
		return err
	}
	c.metrics.Dispatched.Inc()
	return nil
}

func failureClass(err error) string {
	switch {
	case sparql.IsTransient(err):
		return "transient"
	case sparql.IsFatal(err):
		return "fatal"
	default:
		return "other"
	}
}

// Drain replays the buffer in order until it is empty or a replay fails.
// It does nothing before the schema is ready. A drain already in progress
// is not an error.
func (c *Coordinator) Drain(ctx context.Context) (buffer.DrainResult, error) {
	if !c.ready.Load() {
		return buffer.DrainResult{}, nil
	}

	res, err := c.buffer.Drain(ctx, func(ctx context.Context, tx buffer.Transaction) error {
		if err := c.dispatch(ctx, tx.Payload); err != nil {
			return err
		}
		c.metrics.Replayed.Inc()
		return nil
	})
	c.refreshDepth(ctx)

	switch {
	case errors.Is(err, buffer.ErrDrainInProgress):
		return res, nil
	case err != nil:
		c.logger.Warn("Drain stopped",
			"replayed", res.Replayed,
			"remaining", res.Remaining,
			"error", err)
		return res, err
	case res.Replayed > 0:
		c.logger.Info("Buffer drained", "replayed", res.Replayed)
	}
	return res, nil
}

func (c *Coordinator) refreshDepth(ctx context.Context) {
	if n, err := c.buffer.Len(ctx); err == nil {
		c.metrics.BufferDepth.Set(float64(n))
	}
}

// Resync pushes the full registry: each unit's identity and relations are
// replaced and its known states re-asserted. Run counters are reset first
// and a summary is logged once every unit has been processed.
func (c *Coordinator) Resync(ctx context.Context, units []registry.Unit) RunStats {
	gen := c.run.reset(len(units))
	c.logger.Info("Full resynchronization started", "units", len(units))

	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		c.run.record(gen, c.resyncUnit(ctx, unit))
	}
	return c.run.snapshot()
}

func (c *Coordinator) resyncUnit(ctx context.Context, unit registry.Unit) Outcome {
	cs, err := c.compiler.CompileReplace(unit)
	if err != nil {
		c.reportCompileError(unit.ID, err)
		c.metrics.Dropped.WithLabelValues("compile").Inc()
		return Dropped
	}

	// History mode keeps observations; re-asserting would duplicate them
	if !c.compiler.RetainsHistory() {
		if states := unit.ServiceStates(time.Now()); len(states) > 0 {
			stateCS, err := c.compiler.CompileStates(unit.ID, states)
			if err != nil {
				c.reportCompileError(unit.ID, err)
			}
			cs = cs.Merge(stateCS)
		}
	}

	outcome, _ := c.submit(ctx, cs, unit.ID)
	return outcome
}

// Stats returns the counters of the current or last resynchronization.
func (c *Coordinator) Stats() RunStats {
	return c.run.snapshot()
}
