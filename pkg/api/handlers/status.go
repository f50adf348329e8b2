package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

// LockView is the read side of the lock manager.
type LockView interface {
	Stats() lock.ManagerStats
	Objects() []string
	Snapshot(object string) []lock.Info
}

// CacheView is the read side of the cache collection.
type CacheView interface {
	List() []ccache.Info
}

// LockJSON describes one lock.
type LockJSON struct {
	ID      string    `json:"id"`
	Mode    string    `json:"mode"`
	Pending bool      `json:"pending"`
	Client  string    `json:"client"`
	Since   time.Time `json:"since"`
}

// ObjectJSON describes the locks on one object.
type ObjectJSON struct {
	Object string     `json:"object"`
	Locks  []LockJSON `json:"locks"`
}

// LocksResponse is the body of GET /status/locks.
type LocksResponse struct {
	Held    int          `json:"held"`
	Waiting int          `json:"waiting"`
	Objects []ObjectJSON `json:"objects"`
}

// CacheJSON describes one credential cache.
type CacheJSON struct {
	Name        string    `json:"name"`
	Principal   string    `json:"principal"`
	Credentials int       `json:"credentials"`
	Default     bool      `json:"default"`
	LockObject  string    `json:"lock_object"`
	ChangedAt   time.Time `json:"changed_at"`
}

// StatusHandler serves read-only views of locks and caches.
type StatusHandler struct {
	locks  LockView
	caches CacheView
}

// NewStatusHandler creates a status handler. Nil views answer 503.
func NewStatusHandler(locks LockView, caches CacheView) *StatusHandler {
	return &StatusHandler{locks: locks, caches: caches}
}

// Locks handles GET /status/locks.
func (h *StatusHandler) Locks(w http.ResponseWriter, r *http.Request) {
	if h.locks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("lock manager not initialized"))
		return
	}

	stats := h.locks.Stats()
	resp := LocksResponse{
		Held:    stats.Held,
		Waiting: stats.Waiting,
		Objects: make([]ObjectJSON, 0, stats.Objects),
	}
	for _, object := range h.locks.Objects() {
		resp.Objects = append(resp.Objects, objectJSON(object, h.locks.Snapshot(object)))
	}
	writeJSON(w, http.StatusOK, okResponse(resp))
}

// LockObject handles GET /status/locks/{object}.
func (h *StatusHandler) LockObject(w http.ResponseWriter, r *http.Request) {
	if h.locks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("lock manager not initialized"))
		return
	}

	object := chi.URLParam(r, "object")
	infos := h.locks.Snapshot(object)
	if len(infos) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse("no locks on "+object))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(objectJSON(object, infos)))
}

// Caches handles GET /status/caches.
func (h *StatusHandler) Caches(w http.ResponseWriter, r *http.Request) {
	if h.caches == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("cache collection not initialized"))
		return
	}

	infos := h.caches.List()
	out := make([]CacheJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, CacheJSON{
			Name:        info.Name,
			Principal:   info.Principal,
			Credentials: info.Credentials,
			Default:     info.Default,
			LockObject:  info.Object,
			ChangedAt:   info.ChangedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

func objectJSON(object string, infos []lock.Info) ObjectJSON {
	o := ObjectJSON{Object: object, Locks: make([]LockJSON, 0, len(infos))}
	for _, info := range infos {
		o.Locks = append(o.Locks, LockJSON{
			ID:      info.ID,
			Mode:    info.Mode.String(),
			Pending: info.Pending,
			Client:  info.Client,
			Since:   info.Since.UTC(),
		})
	}
	return o
}
