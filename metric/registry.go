// Package metric defines the synchronizer's Prometheus collectors, registers
// them on the platform metrics registry and serves them over HTTP.
package metric

import (
	ssmetric "github.com/c360studio/semstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry pairs the platform registry, which carries the Go runtime and
// NATS collectors, with the synchronizer collectors.
type Registry struct {
	platform *ssmetric.MetricsRegistry
	metrics  *Metrics
}

// NewRegistry creates a platform registry and registers the synchronizer
// collectors on it.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		platform: ssmetric.NewMetricsRegistry(),
		metrics:  NewMetrics(),
	}
	if err := r.metrics.Register(r.platform); err != nil {
		return nil, err
	}
	return r, nil
}

// Platform returns the underlying platform registry.
func (r *Registry) Platform() *ssmetric.MetricsRegistry {
	return r.platform
}

// PrometheusRegistry returns the Prometheus registry to gather from.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.platform.PrometheusRegistry()
}

// Metrics returns the synchronizer collectors.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// Core returns the platform collectors (NATS connectivity, health checks).
func (r *Registry) Core() *ssmetric.Metrics {
	return r.platform.CoreMetrics()
}
