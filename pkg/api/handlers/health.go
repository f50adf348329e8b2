package handlers

import (
	"net/http"
)

// ServerView is the part of the credential cache server the probes read.
type ServerView interface {
	Addr() string
	Clients() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	server ServerView
}

// NewHealthHandler creates a health handler. server may be nil, in which case
// readiness always fails.
func NewHealthHandler(server ServerView) *HealthHandler {
	return &HealthHandler{server: server}
}

// Liveness handles GET /health. It succeeds as long as the HTTP server
// responds.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "ccsd",
	}))
}

// Readiness handles GET /health/ready. The server is ready once its socket
// is listening.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.server == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("server not initialized"))
		return
	}

	addr := h.server.Addr()
	if addr == "" {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("socket not listening"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"socket":  addr,
		"clients": h.server.Clients(),
	}))
}
