package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestRegistry_RegistersCollectors(t *testing.T) {
	r := newRegistry(t)
	m := r.Metrics()

	m.Dispatched.Inc()
	m.DispatchFailed.WithLabelValues("transient").Add(2)
	m.ConnectionState.WithLabelValues("http://store").Set(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatched))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchFailed.WithLabelValues("transient")))

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ontosync_sync_dispatched_total"])
	assert.True(t, names["ontosync_monitor_connection_state"])
	assert.True(t, names["go_goroutines"])
}

func TestRegistry_RejectsDuplicateRegistration(t *testing.T) {
	r := newRegistry(t)
	assert.Error(t, r.Metrics().Register(r.Platform()))
}

func TestRegistry_CoreMetrics(t *testing.T) {
	r := newRegistry(t)
	require.NotNil(t, r.Core())
	r.Core().RecordNATSStatus(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Core().NATSConnected))
}

func TestServer_ServesMetrics(t *testing.T) {
	r := newRegistry(t)
	r.Metrics().Buffered.Inc()

	s := NewServer("127.0.0.1:0", r, nil)
	s.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("extra"))
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ontosync_sync_buffered_total 1")

	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop(context.Background())) }()
	assert.Error(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/extra")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "extra", string(body))
}
