package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RezaEskandarii/gofire/internal/health"
	"github.com/RezaEskandarii/gofire/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScheduler struct{ state scheduler.State }

func (s *stubScheduler) Name() string           { return "*" }
func (s *stubScheduler) State() scheduler.State { return s.state }
func (s *stubScheduler) Stats() scheduler.Stats { return scheduler.Stats{Succeeded: 7} }

type stubNotifier struct{ up bool }

func (n *stubNotifier) Connected() bool { return n.up }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Probes(t *testing.T) {
	registry := health.NewRegistry()
	router := NewRouteHandler(registry, prometheus.NewRegistry(), ":0", nil).Router()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/status/started").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/status/connected").Code)

	s := &stubScheduler{state: scheduler.StateRunning}
	registry.RegisterScheduler(s)
	assert.Equal(t, http.StatusOK, get(t, router, "/status/started").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/status/connected").Code)

	registry.RegisterNotifier(&stubNotifier{up: true})
	rec := get(t, router, "/status/connected")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRouter_Status(t *testing.T) {
	registry := health.NewRegistry()
	registry.RegisterScheduler(&stubScheduler{state: scheduler.StateRunning})
	registry.RegisterNotifier(&stubNotifier{up: true})
	router := NewRouteHandler(registry, prometheus.NewRegistry(), ":0", nil).Router()

	rec := get(t, router, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Started)
	require.Len(t, snap.Schedulers, 1)
	assert.Equal(t, "running", snap.Schedulers[0].State)
	assert.Equal(t, int64(7), snap.Schedulers[0].Stats.Succeeded)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	polls := prometheus.NewCounter(prometheus.CounterOpts{Name: "gofire_test_polls_total", Help: "test"})
	reg.MustRegister(polls)
	polls.Inc()
	router := NewRouteHandler(health.NewRegistry(), reg, ":0", nil).Router()

	rec := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gofire_test_polls_total 1")
}
