// Package health reports the synchronizer's health: store reachability,
// buffer backlog and schema bootstrap progress.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	sshealth "github.com/c360studio/semstreams/health"

	"github.com/c360studio/ontosync/bootstrap"
	"github.com/c360studio/ontosync/monitor"
)

// Check produces one component status.
type Check func(ctx context.Context) sshealth.Status

// StateSource reports a monitored endpoint. *monitor.Monitor satisfies it.
type StateSource interface {
	Endpoint() string
	State() monitor.State
	LastProbe() time.Time
}

// StoreCheck reports triple store reachability. An unreachable store
// degrades the process: updates are buffered, not lost.
func StoreCheck(src StateSource) Check {
	return func(context.Context) sshealth.Status {
		var s sshealth.Status
		switch src.State() {
		case monitor.Connected:
			s = sshealth.NewHealthy("store", fmt.Sprintf("Triple store reachable at %s", src.Endpoint()))
		case monitor.Disconnected:
			s = sshealth.NewDegraded("store", fmt.Sprintf("Triple store unreachable at %s, updates are buffered", src.Endpoint()))
		default:
			s = sshealth.NewDegraded("store", fmt.Sprintf("No probe of %s completed yet", src.Endpoint()))
		}
		if last := src.LastProbe(); !last.IsZero() {
			s = s.WithMetrics(&sshealth.Metrics{LastActivity: last})
		}
		return s
	}
}

// Lengther reports a buffer depth. *buffer.Buffer satisfies it.
type Lengther interface {
	Len(ctx context.Context) (int, error)
}

// BufferCheck reports the buffered backlog. A backlog is degraded; an
// unreadable buffer is unhealthy.
func BufferCheck(buf Lengther) Check {
	return func(ctx context.Context) sshealth.Status {
		n, err := buf.Len(ctx)
		if err != nil {
			return sshealth.NewUnhealthy("buffer", fmt.Sprintf("Buffer unreadable: %v", err))
		}
		if n > 0 {
			return sshealth.NewDegraded("buffer", fmt.Sprintf("%d transactions awaiting replay", n))
		}
		return sshealth.NewHealthy("buffer", "Buffer empty")
	}
}

// PhaseSource reports bootstrap progress. *bootstrap.Loop satisfies it.
type PhaseSource interface {
	Phase() bootstrap.Phase
	UploadCycles() int
}

// BootstrapCheck reports whether the schema is in place.
func BootstrapCheck(src PhaseSource) Check {
	return func(context.Context) sshealth.Status {
		if src.Phase() == bootstrap.Terminated {
			return sshealth.NewHealthy("bootstrap",
				fmt.Sprintf("Schema present after %d upload cycle(s)", src.UploadCycles()))
		}
		return sshealth.NewDegraded("bootstrap",
			fmt.Sprintf("Schema bootstrap in phase %s, updates are buffered", src.Phase()))
	}
}

// Recorder receives one health sample per check. The platform core metrics
// satisfy it.
type Recorder interface {
	RecordHealthStatus(service string, healthy bool)
}

// Run evaluates every check and aggregates the results.
func Run(ctx context.Context, component string, checks ...Check) sshealth.Status {
	statuses := make([]sshealth.Status, 0, len(checks))
	for _, check := range checks {
		statuses = append(statuses, check(ctx))
	}
	return sshealth.Aggregate(component, statuses)
}

// Handler serves the aggregated status as JSON. Unhealthy answers 503. When
// rec is non-nil every sub-status is also recorded on it.
func Handler(component string, rec Recorder, checks ...Check) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := Run(r.Context(), component, checks...)
		if rec != nil {
			for _, sub := range status.SubStatuses {
				rec.RecordHealthStatus(sub.Component, sub.IsHealthy())
			}
		}

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
