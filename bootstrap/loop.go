// Package bootstrap makes sure the ontology schema is present in the triple
// store before incremental synchronization starts. A Loop checks every
// target dataset on a fixed interval, uploads the schema files when any of
// them lacks it, and terminates once all of them report it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/ontosync/metric"
	"github.com/c360studio/ontosync/sparql"
)

// DefaultInterval is the check period used when none is configured.
const DefaultInterval = 10 * time.Second

// SchemaStore is one dataset the schema must reach.
// *sparql.Dataset satisfies it.
type SchemaStore interface {
	Ask(ctx context.Context, query string) (bool, error)
	Upload(ctx context.Context, turtle []byte) error
}

// Target names a SchemaStore for logs and metrics.
type Target struct {
	Name  string
	Store SchemaStore
}

// Loader produces the schema document. *SchemaSource satisfies it.
type Loader interface {
	Load() ([]byte, error)
}

// Phase is the loop state.
type Phase int

const (
	Checking Phase = iota
	SchemaMissing
	Terminated
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Checking:
		return "checking"
	case SchemaMissing:
		return "schema_missing"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Loop runs the check/upload cycle until the schema is present everywhere.
type Loop struct {
	targets    []Target
	loader     Loader
	query      string
	interval   time.Duration
	logger     *slog.Logger
	metrics    *metric.Metrics
	onComplete func(ctx context.Context)

	mu       sync.Mutex
	phase    Phase
	cycles   int
	running  bool
	cancel   context.CancelFunc
	stopped  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the check period.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMetrics records checks, uploads and completion.
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// OnComplete registers a callback invoked once, after termination.
func OnComplete(fn func(ctx context.Context)) Option {
	return func(l *Loop) {
		l.onComplete = fn
	}
}

// New creates a loop over targets. The presence check asks for any
// owl:Class in each dataset.
func New(loader Loader, targets []Target, opts ...Option) *Loop {
	l := &Loop{
		targets:  targets,
		loader:   loader,
		query:    sparql.NewBuilder().Ask("?c a owl:Class"),
		interval: DefaultInterval,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Phase returns the current phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// UploadCycles returns how many times the schema was uploaded.
func (l *Loop) UploadCycles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}

// Done is closed when the loop terminates with the schema present.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Start runs the loop in the background.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("bootstrap loop already running")
	}
	if l.phase == Terminated {
		return nil
	}
	if len(l.targets) == 0 {
		return fmt.Errorf("bootstrap loop has no target datasets")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.stopped = make(chan struct{})

	go func(stopped chan struct{}) {
		defer close(stopped)
		_ = l.Run(loopCtx)
	}(l.stopped)

	l.logger.Info("Schema bootstrap started",
		"targets", len(l.targets),
		"interval", l.interval)
	return nil
}

// Stop cancels a running loop and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	stopped := l.stopped
	l.mu.Unlock()

	<-stopped
}

// Run checks immediately and then on every interval until the schema is
// present on every target or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if l.Step(ctx) == Terminated {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step runs one check and, when the schema is missing, one upload cycle.
// It returns the phase reached.
func (l *Loop) Step(ctx context.Context) Phase {
	if l.Phase() == Terminated {
		return Terminated
	}

	l.setPhase(Checking)
	present, err := l.check(ctx)
	if err != nil {
		l.logger.Warn("Schema check failed, retrying", "interval", l.interval, "error", err)
		return Checking
	}
	if present {
		l.terminate(ctx)
		return Terminated
	}

	l.setPhase(SchemaMissing)
	l.upload(ctx)
	l.setPhase(Checking)
	return Checking
}

// check reports whether every target holds the schema.
func (l *Loop) check(ctx context.Context) (bool, error) {
	if l.metrics != nil {
		l.metrics.BootstrapChecks.Inc()
	}
	all := true
	for _, t := range l.targets {
		ok, err := t.Store.Ask(ctx, l.query)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", t.Name, err)
		}
		l.logger.Debug("Schema check", "dataset", t.Name, "present", ok)
		if !ok {
			all = false
		}
	}
	return all, nil
}

func (l *Loop) upload(ctx context.Context) {
	schema, err := l.loader.Load()
	if err != nil {
		l.logger.Error("Schema files unavailable", "error", err)
		return
	}

	l.mu.Lock()
	l.cycles++
	l.mu.Unlock()

	for _, t := range l.targets {
		status := "ok"
		if err := t.Store.Upload(ctx, schema); err != nil {
			status = "error"
			l.logger.Warn("Schema upload failed", "dataset", t.Name, "error", err)
		} else {
			l.logger.Info("Schema uploaded", "dataset", t.Name, "bytes", len(schema))
		}
		if l.metrics != nil {
			l.metrics.BootstrapUploads.WithLabelValues(t.Name, status).Inc()
		}
	}
}

func (l *Loop) terminate(ctx context.Context) {
	l.setPhase(Terminated)
	if l.metrics != nil {
		l.metrics.BootstrapComplete.Set(1)
	}
	l.doneOnce.Do(func() {
		l.logger.Info("Schema present on all datasets, bootstrap finished",
			"upload_cycles", l.UploadCycles())
		close(l.done)
		if l.onComplete != nil {
			l.onComplete(ctx)
		}
	})
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}
