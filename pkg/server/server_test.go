package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ccsd/internal/ipc"
	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

type testServer struct {
	srv     *Server
	path    string
	locks   *lock.Manager
	caches  *ccache.Collection
	metrics *Metrics
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ccsd.sock")
	locks := lock.NewManager(lock.DefaultConfig())
	caches := ccache.NewCollection(locks)
	metrics := NewMetrics(prometheus.NewRegistry())
	srv := New(DefaultConfig(path), locks, caches, WithMetrics(metrics))

	ln, err := ipc.Listen(path, 0o600)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ServeListener(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		_ = srv.Stop(context.Background())
		<-errc
	})
	return &testServer{srv: srv, path: path, locks: locks, caches: caches, metrics: metrics}
}

func (ts *testServer) dial(t *testing.T) *ipc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := ipc.Dial(ctx, ts.path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *ipc.Client, req *ipc.Request) (*ipc.Reply, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Call(ctx, req)
}

func mustCall(t *testing.T, c *ipc.Client, req *ipc.Request) *ipc.Reply {
	t.Helper()
	reply, err := call(t, c, req)
	require.NoError(t, err)
	return reply
}

// lockAsync issues a lock request whose reply arrives later.
func lockAsync(t *testing.T, c *ipc.Client, cache string, mode lock.Mode) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := call(t, c, &ipc.Request{Op: uint32(ipc.OpLock), Cache: cache, LockMode: uint32(mode)})
		done <- err
	}()
	return done
}

func (ts *testServer) waitForLocks(t *testing.T, cache string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		object, err := ts.caches.LockObject(cache)
		if err != nil {
			return false
		}
		return len(ts.locks.Snapshot(object)) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_CacheLifecycle(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpPing)})

	reply := mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:alice", Principal: "alice@EXAMPLE.COM"})
	var created ipc.CacheEntry
	require.NoError(t, ipc.Decode(reply.Payload, &created))
	assert.Equal(t, "alice@EXAMPLE.COM", created.Principal)
	assert.True(t, created.Default)

	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:bob", Principal: "bob@EXAMPLE.COM"})
	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpSetDefault), Cache: "API:bob"})

	_, err := call(t, c, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:bob", Principal: "bob@EXAMPLE.COM"})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheExists))

	reply = mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheList)})
	var list ipc.CacheList
	require.NoError(t, ipc.Decode(reply.Payload, &list))
	require.Len(t, list.Caches, 2)
	assert.Equal(t, "API:alice", list.Caches[0].Name)
	assert.False(t, list.Caches[0].Default)
	assert.True(t, list.Caches[1].Default)

	reply = mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCredentials)})
	var creds ipc.CredentialList
	require.NoError(t, ipc.Decode(reply.Payload, &creds))
	assert.Empty(t, creds.Credentials)

	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheDestroy), Cache: "API:alice"})
	_, err = call(t, c, &ipc.Request{Op: uint32(ipc.OpCacheDestroy), Cache: "API:alice"})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheNotFound))

	_, err = call(t, c, &ipc.Request{Op: 99})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadParam))
}

func TestServer_ImportNeedsCacheData(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	_, err := call(t, c, &ipc.Request{Op: uint32(ipc.OpCacheImport), Cache: "API:imported"})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadParam))

	// A file name sent as data is parsed as cache bytes, never opened.
	_, err = call(t, c, &ipc.Request{Op: uint32(ipc.OpCacheImport), Cache: "API:imported", Data: []byte("/etc/hosts")})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "/etc/hosts")

	reply := mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheList)})
	var list ipc.CacheList
	require.NoError(t, ipc.Decode(reply.Payload, &list))
	assert.Empty(t, list.Caches)
}

func TestServer_WriterWaitsForUnlock(t *testing.T) {
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:x", Principal: "x@EXAMPLE.COM"})
	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeWrite)})

	done := lockAsync(t, b, "API:x", lock.ModeRead)
	ts.waitForLocks(t, "API:x", 2)

	select {
	case err := <-done:
		t.Fatalf("read lock granted while write lock held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	reply := mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLockStatus), Cache: "API:x"})
	var status ipc.LockStatus
	require.NoError(t, ipc.Decode(reply.Payload, &status))
	require.Len(t, status.Locks, 2)
	assert.False(t, status.Locks[0].Pending)
	assert.True(t, status.Locks[1].Pending)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpUnlock), Cache: "API:x"})
	require.NoError(t, <-done)

	_, err := call(t, a, &ipc.Request{Op: uint32(ipc.OpUnlock), Cache: "API:x"})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrNeverLocked))
}

func TestServer_DisconnectReleasesLocks(t *testing.T) {
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:x", Principal: "x@EXAMPLE.COM"})
	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeWrite)})

	done := lockAsync(t, b, "API:x", lock.ModeWrite)
	ts.waitForLocks(t, "API:x", 2)

	require.NoError(t, a.Close())
	require.NoError(t, <-done)
	ts.waitForLocks(t, "API:x", 1)

	require.Eventually(t, func() bool { return ts.srv.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.connectionsActive))
}

func TestServer_DestroyCancelsWaiters(t *testing.T) {
	ts := startServer(t)
	a, b, c := ts.dial(t), ts.dial(t), ts.dial(t)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:x", Principal: "x@EXAMPLE.COM"})
	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeWrite)})

	done := lockAsync(t, b, "API:x", lock.ModeRead)
	ts.waitForLocks(t, "API:x", 2)

	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheDestroy), Cache: "API:x"})

	err := <-done
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrInvalidCCache))
	assert.Empty(t, ts.locks.Objects())

	_, err = call(t, a, &ipc.Request{Op: uint32(ipc.OpUnlock), Cache: "API:x"})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheNotFound))
}

func TestServer_UpgradeAndDowngrade(t *testing.T) {
	ts := startServer(t)
	a, d := ts.dial(t), ts.dial(t)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:x", Principal: "x@EXAMPLE.COM"})
	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeRead)})
	mustCall(t, d, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeRead)})

	done := lockAsync(t, a, "API:x", lock.ModeUpgrade)
	ts.waitForLocks(t, "API:x", 3)

	mustCall(t, d, &ipc.Request{Op: uint32(ipc.OpUnlock), Cache: "API:x"})
	require.NoError(t, <-done)
	ts.waitForLocks(t, "API:x", 1)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeDowngrade)})
	mustCall(t, d, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeRead)})
}

func TestServer_LockErrors(t *testing.T) {
	ts := startServer(t)
	c := ts.dial(t)

	_, err := call(t, c, &ipc.Request{Op: uint32(ipc.OpLock), LockMode: uint32(lock.ModeRead)})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheNotFound), "no default cache")

	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpCacheCreate), Cache: "API:x", Principal: "x@EXAMPLE.COM"})

	_, err = call(t, c, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: 9})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadLockType))

	// Empty cache name means the default cache.
	mustCall(t, c, &ipc.Request{Op: uint32(ipc.OpLock), LockMode: uint32(lock.ModeRead)})
	_, err = call(t, c, &ipc.Request{Op: uint32(ipc.OpLock), Cache: "API:x", LockMode: uint32(lock.ModeRead)})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrAlreadyLocked))
}

func TestServer_StopCancelsContextWaiters(t *testing.T) {
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)

	mustCall(t, a, &ipc.Request{Op: uint32(ipc.OpContextLock), LockMode: uint32(lock.ModeWrite)})

	done := make(chan error, 1)
	go func() {
		_, err := call(t, b, &ipc.Request{Op: uint32(ipc.OpContextLock), LockMode: uint32(lock.ModeWrite)})
		done <- err
	}()
	require.Eventually(t, func() bool {
		return len(ts.locks.Snapshot(ccache.CollectionObject)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ts.srv.Stop(context.Background()))

	err := <-done
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrInvalidContext))
}
