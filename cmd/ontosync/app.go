package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ontosync/bootstrap"
	"github.com/c360studio/ontosync/buffer"
	"github.com/c360studio/ontosync/config"
	"github.com/c360studio/ontosync/coordinator"
	"github.com/c360studio/ontosync/delta"
	"github.com/c360studio/ontosync/eventbus"
	"github.com/c360studio/ontosync/health"
	"github.com/c360studio/ontosync/metric"
	"github.com/c360studio/ontosync/monitor"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/registry/filesource"
	"github.com/c360studio/ontosync/registry/natssource"
	"github.com/c360studio/ontosync/sparql"
)

// App wires the synchronizer components together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	natsConn *nats.Conn
	js       jetstream.JetStream

	// Store
	client *sparql.Client
	abox   *sparql.Dataset
	tbox   *sparql.Dataset

	// Observability
	metrics *metric.Registry
	server  *metric.Server

	buffer      *buffer.Buffer
	monitorBus  *eventbus.Bus[monitor.Event]
	monitor     *monitor.Monitor
	coordinator *coordinator.Coordinator
	bootstrap   *bootstrap.Loop
	source      registry.Source
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Build connects to external systems and constructs every component.
func (a *App) Build(ctx context.Context) error {
	metrics, err := metric.NewRegistry()
	if err != nil {
		return err
	}
	a.metrics = metrics
	m := a.metrics.Metrics()

	if a.cfg.NeedsNATS() {
		if err := a.connectNATS(); err != nil {
			return err
		}
	}

	a.client = newStoreClient(a.cfg, a.logger)
	a.abox = a.client.Dataset(a.cfg.Server.ABoxDataset)
	a.tbox = a.client.Dataset(a.cfg.Server.TBoxDataset)

	buf, err := openBuffer(ctx, a.cfg, a.js, a.logger)
	if err != nil {
		return err
	}
	a.buffer = buf

	a.monitorBus = eventbus.New[monitor.Event]()
	a.monitor = monitor.New(a.cfg.Server.BaseURL, a.client, a.monitorBus,
		monitor.WithInterval(a.cfg.Monitor.Interval),
		monitor.WithProbeTimeout(a.cfg.Monitor.ProbeTimeout),
		monitor.WithLogger(a.logger),
		monitor.WithMetrics(m))

	compiler := delta.NewCompiler(delta.WithRetainHistory(a.cfg.Sync.RetainHistory))
	a.coordinator = coordinator.New(compiler, sparql.NewBuilder(), a.abox, a.buffer,
		coordinator.WithLogger(a.logger),
		coordinator.WithMetrics(m),
		coordinator.WithMonitorEvents(a.monitorBus),
		coordinator.WithRetryInterval(a.cfg.Sync.RetryInterval),
		coordinator.WithReady(a.cfg.Bootstrap.Disabled))

	if !a.cfg.Bootstrap.Disabled {
		a.bootstrap = newBootstrapLoop(a.cfg, a.tbox, a.abox, a.logger,
			bootstrap.WithMetrics(m),
			bootstrap.OnComplete(a.coordinator.MarkReady))
	}

	a.source = a.newSource()

	if a.cfg.Metrics.Addr != "" {
		a.server = metric.NewServer(a.cfg.Metrics.Addr, a.metrics, a.logger)
		a.server.Handle("/healthz", health.Handler(appName, a.metrics.Core(), a.healthChecks()...))
	}
	return nil
}

func (a *App) healthChecks() []health.Check {
	checks := []health.Check{
		health.StoreCheck(a.monitor),
		health.BufferCheck(a.buffer),
	}
	if a.bootstrap != nil {
		checks = append(checks, health.BootstrapCheck(a.bootstrap))
	}
	return checks
}

// Run starts every component, pushes a full snapshot and then follows
// registry changes until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}
	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	if a.bootstrap != nil {
		if err := a.bootstrap.Start(ctx); err != nil {
			return err
		}
	}

	// Subscribe first so changes made while the snapshot is applied are
	// queued rather than missed.
	gate := registry.NewGate(a.coordinator.Handler())
	if err := a.source.Start(ctx, gate.Handle); err != nil {
		return fmt.Errorf("start registry source: %w", err)
	}
	a.resync(ctx)
	if n := gate.Open(); n > 0 {
		a.logger.Info("Delivered registry changes queued during resynchronization", "events", n)
	}

	<-ctx.Done()
	return nil
}

// resync pushes the full registry. A failed snapshot is not fatal:
// incremental changes still flow.
func (a *App) resync(ctx context.Context) {
	units, err := a.source.Snapshot(ctx)
	if err != nil {
		a.logger.Warn("Registry snapshot unavailable, skipping full resynchronization", "error", err)
		return
	}
	a.coordinator.Resync(ctx, units)
}

// Shutdown stops components in reverse start order.
func (a *App) Shutdown(timeout time.Duration) {
	if a.source != nil {
		if err := a.source.Stop(); err != nil {
			a.logger.Warn("Registry source stop failed", "error", err)
		}
	}
	if a.bootstrap != nil {
		a.bootstrap.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.coordinator != nil {
		a.coordinator.Stop()
	}
	if a.monitorBus != nil {
		a.monitorBus.Close()
	}
	if a.buffer != nil {
		if err := a.buffer.Close(); err != nil {
			a.logger.Warn("Buffer close failed", "error", err)
		}
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}
}

func (a *App) connectNATS() error {
	url := a.cfg.Registry.NATSURL
	a.logger.Info("Connecting to NATS", "url", url)

	core := a.metrics.Core()
	conn, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			core.RecordNATSStatus(false)
			if err != nil {
				a.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			core.RecordNATSReconnect()
			core.RecordNATSStatus(true)
			a.logger.Info("NATS reconnected", "url", url)
		}))
	if err != nil {
		return wrapNATSError(err, url)
	}
	a.natsConn = conn
	core.RecordNATSStatus(true)

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	a.logger.Info("Connected to NATS", "url", url)
	return nil
}

func (a *App) newSource() registry.Source {
	if a.cfg.Registry.Source == config.RegistryNATS {
		return natssource.New(a.natsConn,
			natssource.WithScope(a.cfg.Registry.Scope),
			natssource.WithLogger(a.logger))
	}
	return filesource.New(filesource.Config{
		Patterns: a.cfg.Registry.FilePatterns,
		Logger:   a.logger,
	})
}

func newStoreClient(cfg *config.Config, logger *slog.Logger) *sparql.Client {
	return sparql.NewClient(cfg.Server.BaseURL,
		sparql.WithTimeout(cfg.Server.Timeout),
		sparql.WithPingPath(cfg.Server.PingPath),
		sparql.WithLogger(logger))
}

func newBootstrapLoop(cfg *config.Config, tbox, abox *sparql.Dataset, logger *slog.Logger, opts ...bootstrap.Option) *bootstrap.Loop {
	targets := []bootstrap.Target{{Name: tbox.Name(), Store: tbox}}
	if abox.URL() != tbox.URL() {
		targets = append(targets, bootstrap.Target{Name: abox.Name(), Store: abox})
	}
	opts = append([]bootstrap.Option{
		bootstrap.WithInterval(cfg.Bootstrap.Interval),
		bootstrap.WithLogger(logger),
	}, opts...)
	return bootstrap.New(bootstrap.NewSchemaSource("", cfg.Bootstrap.SchemaPatterns...), targets, opts...)
}

// openBuffer opens the configured buffer backend. js is required for kv.
func openBuffer(ctx context.Context, cfg *config.Config, js jetstream.JetStream, logger *slog.Logger) (*buffer.Buffer, error) {
	var store buffer.Store
	switch cfg.Buffer.Backend {
	case config.BufferMemory:
		store = buffer.NewMemoryStore()
	case config.BufferSQLite:
		s, err := buffer.OpenSQLiteStore(cfg.Buffer.Path)
		if err != nil {
			return nil, fmt.Errorf("open buffer: %w", err)
		}
		store = s
	case config.BufferKV:
		if js == nil {
			return nil, fmt.Errorf("open buffer: kv backend needs a NATS connection")
		}
		s, err := buffer.NewKVStore(ctx, js, cfg.Buffer.Bucket)
		if err != nil {
			return nil, fmt.Errorf("open buffer: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown buffer backend %q", cfg.Buffer.Backend)
	}

	return buffer.New(store,
		buffer.WithLogger(logger),
		buffer.WithReplayRate(cfg.Sync.ReplayRate)), nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS with JetStream:
  nats-server -js

Or set ONTOSYNC_NATS_URL to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
