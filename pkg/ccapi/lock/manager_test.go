package lock

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

func mrequest(t *testing.T, m *Manager, object string, c *client, mode Mode) *Lock {
	t.Helper()
	l, err := m.Request(object, mode, ccerrors.ErrInvalidCCache, c.id.handle(), c.reply.handle())
	require.NoError(t, err)
	return l
}

func TestManager_TablesPerObject(t *testing.T) {
	t.Parallel()

	m := NewManager(DefaultConfig())
	a, b := newClient("a"), newClient("b")

	mrequest(t, m, "API:one", a, ModeWrite)
	mrequest(t, m, "API:two", b, ModeWrite)
	assert.Equal(t, 1, granted(b), "different objects do not conflict")
	assert.Equal(t, []string{"API:one", "API:two"}, m.Objects())

	require.NoError(t, m.Unlock("API:one", a.id.handle()))
	assert.Equal(t, []string{"API:two"}, m.Objects(), "empty tables are dropped")

	err := m.Unlock("API:one", a.id.handle())
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrNeverLocked))
}

func TestManager_FailedFirstRequestLeavesNoTable(t *testing.T) {
	t.Parallel()

	m := NewManager(DefaultConfig())
	a := newClient("a")

	_, err := m.Request("API:x", ModeUpgrade, ccerrors.ErrInvalidCCache, a.id.handle(), a.reply.handle())
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrNeverLocked))
	assert.Empty(t, m.Objects())

	_, err = m.Request("", ModeRead, ccerrors.ErrInvalidCCache, a.id.handle(), a.reply.handle())
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadParam))
}

func TestManager_Invalidate(t *testing.T) {
	t.Parallel()

	m := NewManager(DefaultConfig())
	a, b := newClient("a"), newClient("b")

	mrequest(t, m, "API:gone", a, ModeWrite)
	mrequest(t, m, "API:gone", b, ModeRead)

	require.NoError(t, m.Invalidate("API:gone"))
	assert.Equal(t, []ccerrors.ErrorCode{ccerrors.ErrInvalidCCache}, b.reply.codes())
	assert.Empty(t, m.Objects())
	assert.Nil(t, m.Snapshot("API:gone"))

	// A recreated object starts with a fresh table.
	mrequest(t, m, "API:gone", b, ModeRead)
	assert.Equal(t, 1, granted(b))

	require.NoError(t, m.Invalidate("API:never"))
}

func TestManager_ReleaseClient(t *testing.T) {
	t.Parallel()

	m := NewManager(DefaultConfig())
	a, b := newClient("a"), newClient("b")

	mrequest(t, m, "API:one", a, ModeWrite)
	mrequest(t, m, "API:two", a, ModeRead)
	mrequest(t, m, "API:one", b, ModeRead)

	n, err := m.ReleaseClient(a.id.handle())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, granted(b))
	assert.Equal(t, []string{"API:one"}, m.Objects())

	stats := m.Stats()
	assert.Equal(t, ManagerStats{Objects: 1, Held: 1, Waiting: 0}, stats)
}

func TestManager_TotalLimit(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{MaxTotalLocks: 2})
	a, b, c := newClient("a"), newClient("b"), newClient("c")

	mrequest(t, m, "API:one", a, ModeWrite)
	mrequest(t, m, "API:two", b, ModeWrite)

	_, err := m.Request("API:three", ModeRead, ccerrors.ErrInvalidCCache, c.id.handle(), c.reply.handle())
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrNoMem))

	// Downgrades convert an existing lock and are never refused.
	mrequest(t, m, "API:one", a, ModeDowngrade)
	assert.Equal(t, 2, granted(a))
}

func TestManager_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := NewManager(DefaultConfig(), WithMetrics(metrics))
	a, b := newClient("a"), newClient("b")

	mrequest(t, m, "API:m", a, ModeWrite)
	mrequest(t, m, "API:m", b, ModeWrite)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("write", "granted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("write", "queued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.heldGauge.WithLabelValues("write")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.waitingGauge))

	require.NoError(t, m.Unlock("API:m", a.id.handle()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.heldGauge.WithLabelValues("write")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.waitingGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.releasesTotal.WithLabelValues(reasonUnlock)))

	require.NoError(t, m.Invalidate("API:m"))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.heldGauge.WithLabelValues("write")))

	count, err := testutil.GatherAndCount(reg, "ccsd_locks_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordRequest(ModeRead, "granted")
	m.RecordGrant(0)
	m.RecordRelease(ModeRead, reasonUnlock, 0)
	m.AddHeld(ModeRead, 1)
	m.AddWaiting(1)
	m.RecordNotifyFailure("grant")
	m.RecordLimitHit("total_locks")
}

func TestManager_EventsMayQueryManager(t *testing.T) {
	t.Parallel()

	var (
		m       *Manager
		objects [][]string
	)
	m = NewManager(DefaultConfig(), WithEvents(&Events{
		OnGranted: func(_ string, _ *Lock, _ time.Duration) {
			objects = append(objects, m.Objects())
			_ = m.Stats()
		},
	}))
	a := newClient("a")

	mrequest(t, m, "API:events", a, ModeWrite)
	require.NoError(t, m.Unlock("API:events", a.id.handle()))

	assert.Equal(t, [][]string{{"API:events"}}, objects)
}

func TestManager_ReleasedLockDoesNotBlockObject(t *testing.T) {
	t.Parallel()

	m := NewManager(DefaultConfig())
	a, b := newClient("a"), newClient("b")

	l := mrequest(t, m, "API:stale", a, ModeWrite)
	require.NoError(t, l.Release())

	mrequest(t, m, "API:stale", b, ModeWrite)
	assert.Equal(t, 1, granted(b))

	n, err := m.ReleaseClient(a.id.handle())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.ReleaseClient(b.id.handle())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, m.Objects())
}
