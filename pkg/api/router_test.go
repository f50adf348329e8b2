package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

func TestRouter_MetricsAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	locks := lock.NewManager(lock.DefaultConfig(), lock.WithMetrics(lock.NewMetrics(reg)))
	caches := ccache.NewCollection(locks)
	_, err := caches.Create("API:alice", "alice@EXAMPLE.COM")
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(Deps{Locks: locks, Caches: caches, Gatherer: reg}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status/caches")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no server view")
}

func TestRouter_NoGatherer(t *testing.T) {
	w := httptest.NewRecorder()
	NewRouter(Deps{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIConfig_Defaults(t *testing.T) {
	var cfg APIConfig
	assert.True(t, cfg.IsEnabled())
	cfg.ApplyDefaults()
	assert.Equal(t, 9464, cfg.Port)

	off := false
	cfg.Enabled = &off
	assert.False(t, cfg.IsEnabled())
}
