package metric

import (
	"fmt"

	ssmetric "github.com/c360studio/semstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace   = "ontosync"
	serviceName = "ontosync"
)

// Metrics contains the synchronizer's Prometheus collectors.
type Metrics struct {
	// Delivery
	Dispatched     prometheus.Counter
	DispatchFailed *prometheus.CounterVec
	Buffered       prometheus.Counter
	Replayed       prometheus.Counter
	DispatchTime   prometheus.Histogram

	// Compilation
	Events   *prometheus.CounterVec
	Unmapped prometheus.Counter
	Dropped  *prometheus.CounterVec

	// Buffer
	BufferDepth prometheus.Gauge

	// Connectivity
	ConnectionState *prometheus.GaugeVec
	Transitions     *prometheus.CounterVec

	// Bootstrap
	BootstrapChecks   prometheus.Counter
	BootstrapUploads  *prometheus.CounterVec
	BootstrapComplete prometheus.Gauge
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dispatched_total",
			Help:      "Update transactions accepted by the triple store",
		}),
		DispatchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dispatch_failures_total",
			Help:      "Update transactions rejected or not delivered",
		}, []string{"class"}),
		Buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "buffered_total",
			Help:      "Update transactions appended to the retry buffer",
		}),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "replayed_total",
			Help:      "Buffered transactions delivered during a drain",
		}),
		DispatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of update requests",
			Buckets:   prometheus.DefBuckets,
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Registry change events received",
		}, []string{"kind"}),
		Unmapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "unmapped_total",
			Help:      "State observations with no service mapping",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "dropped_total",
			Help:      "Deltas dropped before dispatch",
		}, []string{"reason"}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "depth",
			Help:      "Transactions waiting in the retry buffer",
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "connection_state",
			Help:      "Connection state per endpoint (0=unknown, 1=connected, 2=disconnected)",
		}, []string{"endpoint"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transitions_total",
			Help:      "Connection state changes per endpoint",
		}, []string{"endpoint", "to"}),
		BootstrapChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "checks_total",
			Help:      "Schema presence checks performed",
		}),
		BootstrapUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "uploads_total",
			Help:      "Schema uploads per dataset and outcome",
		}, []string{"dataset", "status"}),
		BootstrapComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "complete",
			Help:      "1 once the schema is present on every dataset",
		}),
	}
}

// Register adds every collector to reg under the synchronizer's service
// name.
func (m *Metrics) Register(reg ssmetric.MetricsRegistrar) error {
	steps := []func() error{
		func() error { return reg.RegisterCounter(serviceName, "dispatched", m.Dispatched) },
		func() error { return reg.RegisterCounterVec(serviceName, "dispatch_failures", m.DispatchFailed) },
		func() error { return reg.RegisterCounter(serviceName, "buffered", m.Buffered) },
		func() error { return reg.RegisterCounter(serviceName, "replayed", m.Replayed) },
		func() error { return reg.RegisterHistogram(serviceName, "dispatch_duration", m.DispatchTime) },
		func() error { return reg.RegisterCounterVec(serviceName, "events", m.Events) },
		func() error { return reg.RegisterCounter(serviceName, "unmapped", m.Unmapped) },
		func() error { return reg.RegisterCounterVec(serviceName, "dropped", m.Dropped) },
		func() error { return reg.RegisterGauge(serviceName, "buffer_depth", m.BufferDepth) },
		func() error { return reg.RegisterGaugeVec(serviceName, "connection_state", m.ConnectionState) },
		func() error { return reg.RegisterCounterVec(serviceName, "transitions", m.Transitions) },
		func() error { return reg.RegisterCounter(serviceName, "bootstrap_checks", m.BootstrapChecks) },
		func() error { return reg.RegisterCounterVec(serviceName, "bootstrap_uploads", m.BootstrapUploads) },
		func() error { return reg.RegisterGauge(serviceName, "bootstrap_complete", m.BootstrapComplete) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}
