package lock

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// ManagerStats contains statistics about the lock manager state.
type ManagerStats struct {
	// Objects is the number of objects with at least one lock.
	Objects int

	// Held is the number of granted locks across all objects.
	Held int

	// Waiting is the number of queued requests across all objects.
	Waiting int
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents registers lock state callbacks shared by every table.
func WithEvents(events *Events) Option {
	return func(m *Manager) {
		m.events = events
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager keeps one Table per protected object. Tables are created on the
// first request for an object and dropped once they hold no locks or the
// object is invalidated.
type Manager struct {
	mu     sync.Mutex
	tables map[string]*Table

	cfg     Config
	events  *Events
	metrics *Metrics
}

// NewManager creates a lock manager with the given limits.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		tables: make(map[string]*Table),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request asks for a lock on object. See Table.Request.
func (m *Manager) Request(object string, mode Mode, invalidObjectErr ccerrors.ErrorCode, client, reply Channel) (*Lock, error) {
	if object == "" {
		return nil, ccerrors.NewBadParamError("empty object id")
	}

	var q eventQueue
	defer q.fire()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxTotalLocks > 0 && mode != ModeDowngrade && m.totalLocked() >= m.cfg.MaxTotalLocks {
		m.metrics.RecordRequest(mode, ccerrors.ErrNoMem.String())
		m.metrics.RecordLimitHit("total_locks")
		logger.Warn("Lock limit reached",
			logger.KeyObject, object, "limit", m.cfg.MaxTotalLocks)
		return nil, ccerrors.NewNoMemError(fmt.Sprintf("lock limit %d reached", m.cfg.MaxTotalLocks))
	}

	t, ok := m.tables[object]
	if !ok {
		t = NewTable(object, TableOptions{Config: m.cfg, Events: m.events, Metrics: m.metrics})
	}

	l, err := t.request(&q, mode, invalidObjectErr, client, reply)
	if !ok && l != nil {
		m.tables[object] = t
	}
	m.dropIfEmpty(t)
	return l, err
}

// Unlock releases client's locks on object. See Table.Unlock.
func (m *Manager) Unlock(object string, client Channel) error {
	var q eventQueue
	defer q.fire()
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[object]
	if !ok {
		if !validChannel(client) {
			return ccerrors.NewBadParamError("invalid client channel")
		}
		return ccerrors.NewNeverLockedError(object)
	}

	err := t.unlock(&q, client)
	m.dropIfEmpty(t)
	return err
}

// Invalidate tears down all locks on object, sending each waiting request
// its invalid object error. A later request starts a fresh table.
func (m *Manager) Invalidate(object string) error {
	var q eventQueue
	defer q.fire()
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[object]
	if !ok {
		return nil
	}
	delete(m.tables, object)
	return t.invalidate(&q)
}

// ReleaseClient drops every lock client holds or waits for, across all
// objects. It is called when a client disconnects.
func (m *Manager) ReleaseClient(client Channel) (int, error) {
	if !validChannel(client) {
		return 0, ccerrors.NewBadParamError("invalid client channel")
	}

	var q eventQueue
	defer q.fire()
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		total  int
		result *multierror.Error
	)
	for _, object := range m.objectsLocked() {
		t := m.tables[object]
		n, err := t.releaseClient(&q, client, reasonDisconnect)
		total += n
		if err != nil {
			result = multierror.Append(result, err)
		}
		m.dropIfEmpty(t)
	}

	if total > 0 {
		logger.Debug("Released locks of disconnected client",
			logger.KeyClientID, channelName(client), "count", total)
	}
	return total, flatten(result)
}

// Stats returns current lock counts.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{Objects: len(m.tables)}
	for _, t := range m.tables {
		held, waiting := t.Counts()
		stats.Held += held
		stats.Waiting += waiting
	}
	return stats
}

// Snapshot lists the locks on object, held first then queued.
func (m *Manager) Snapshot(object string) []Info {
	m.mu.Lock()
	t, ok := m.tables[object]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return t.Snapshot()
}

// Objects returns the ids of all objects with locks, sorted.
func (m *Manager) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objectsLocked()
}

func (m *Manager) objectsLocked() []string {
	out := make([]string, 0, len(m.tables))
	for object := range m.tables {
		out = append(out, object)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) totalLocked() int {
	n := 0
	for _, t := range m.tables {
		held, waiting := t.Counts()
		n += held + waiting
	}
	return n
}

// dropIfEmpty forgets t once it has no live locks. Locks released through
// their own handle are pruned first; with nothing live left in the queue no
// grant is attempted.
func (m *Manager) dropIfEmpty(t *Table) {
	t.mu.Lock()
	empty := t.empty()
	if empty && len(t.held)+len(t.waiting) > 0 {
		if err := t.pruneReleased(); err != nil {
			logger.Debug("Pruning released locks", logger.KeyObject, t.object, logger.Err(err))
		}
	}
	t.mu.Unlock()
	if empty {
		delete(m.tables, t.object)
	}
}
