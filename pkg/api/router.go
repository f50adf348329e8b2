package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/pkg/api/handlers"
)

// Deps are the views the HTTP endpoints read from. Any of them may be nil;
// the matching endpoints then report the component as unavailable.
type Deps struct {
	Server   handlers.ServerView
	Locks    handlers.LockView
	Caches   handlers.CacheView
	Gatherer prometheus.Gatherer
}

// NewRouter creates the chi router with middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (socket listening)
//   - GET /status/locks - Lock counts and every lock object
//   - GET /status/locks/{object} - Locks on one object, holders first
//   - GET /status/caches - Credential caches
//   - GET /metrics - Prometheus scrape endpoint
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(deps.Server)
	status := handlers.NewStatusHandler(deps.Locks, deps.Caches)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	r.Route("/status", func(r chi.Router) {
		r.Get("/locks", status.Locks)
		r.Get("/locks/{object}", status.LockObject)
		r.Get("/caches", status.Caches)
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request completed",
			"http_request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyRemote, r.RemoteAddr,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
