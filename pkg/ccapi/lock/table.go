package lock

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// Release reasons used for metrics and events.
const (
	reasonUnlock     = "unlock"
	reasonDisconnect = "disconnect"
	reasonInvalidate = "invalidate"
	reasonConvert    = "convert"
	reasonStale      = "released"
)

// NotifyError is returned when the requested operation took effect but
// sending or releasing a channel for some other lock failed along the way.
// The table is consistent; the affected locks have been dropped.
type NotifyError struct {
	Object string
	Err    error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("lock notification failed on %s: %v", e.Object, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// IsNotifyError reports whether err only reports notification failures.
func IsNotifyError(err error) bool {
	var ne *NotifyError
	return errors.As(err, &ne)
}

// TableOptions configures a Table.
type TableOptions struct {
	Config  Config
	Events  *Events
	Metrics *Metrics
}

// Table arbitrates the locks of one protected object. All methods are safe
// for concurrent use; each call runs as one serialized step.
type Table struct {
	mu      sync.Mutex
	object  string
	held    []*Lock
	waiting []*Lock // FIFO, arrival order
	invalid bool
	queue   eventQueue

	cfg     Config
	events  *Events
	metrics *Metrics
}

// NewTable creates an empty lock table for object.
func NewTable(object string, opts TableOptions) *Table {
	return &Table{
		object:  object,
		cfg:     opts.Config,
		events:  opts.Events,
		metrics: opts.Metrics,
	}
}

// Object returns the id of the protected object.
func (t *Table) Object() string {
	return t.object
}

// Request asks for a lock of the given mode on behalf of client.
//
// A lock that can be granted at once is granted before Request returns;
// otherwise it is queued and granted later by whichever call makes it
// compatible. Either way the outcome is delivered over reply exactly once.
// The returned Lock is owned by the table.
//
// Read and Write fail with AlreadyLocked when the client already holds or
// waits for a lock on the object. Upgrade needs a held Read or Downgrade
// lock and Downgrade a held Write or Upgrade lock, otherwise NeverLocked.
// A second client asking to upgrade while another upgrade waits gets
// Deadlock. A full queue yields NoMem.
//
// A *NotifyError means the request succeeded but another lock could not be
// notified.
func (t *Table) Request(mode Mode, invalidObjectErr ccerrors.ErrorCode, client, reply Channel) (*Lock, error) {
	var q eventQueue
	defer q.fire()
	return t.request(&q, mode, invalidObjectErr, client, reply)
}

func (t *Table) request(q *eventQueue, mode Mode, invalidObjectErr ccerrors.ErrorCode, client, reply Channel) (*Lock, error) {
	if !mode.Valid() {
		return nil, ccerrors.NewBadLockTypeError(uint32(mode))
	}
	if !validChannel(client) || !validChannel(reply) {
		return nil, ccerrors.NewBadParamError("invalid channel")
	}

	defer t.lock(q)()

	if t.invalid {
		t.metrics.RecordRequest(mode, invalidObjectErr.String())
		return nil, ccerrors.New(invalidObjectErr, fmt.Sprintf("%s is no longer valid", t.object))
	}

	var result *multierror.Error
	if err := t.pruneReleased(); err != nil {
		result = multierror.Append(result, err)
	}

	ownHeld, err := findLock(t.held, client)
	if err != nil {
		return nil, err
	}
	ownWaiting, err := findLock(t.waiting, client)
	if err != nil {
		return nil, err
	}

	replaces, err := t.checkRequest(mode, client, ownHeld, ownWaiting)
	if err != nil {
		t.metrics.RecordRequest(mode, ccerrors.CodeOf(err).String())
		return nil, err
	}

	candidate := &Lock{mode: mode, replaces: replaces}
	grantable := t.compatible(candidate) && (mode == ModeUpgrade || mode == ModeDowngrade || len(t.waiting) == 0)
	if !grantable && t.cfg.MaxWaitersPerObject > 0 && len(t.waiting) >= t.cfg.MaxWaitersPerObject {
		t.metrics.RecordRequest(mode, ccerrors.ErrNoMem.String())
		t.metrics.RecordLimitHit("waiters_per_object")
		return nil, ccerrors.NewNoMemError(fmt.Sprintf("too many waiters on %s", t.object))
	}

	l, err := NewLock(mode, invalidObjectErr, client, reply)
	if err != nil {
		t.metrics.RecordRequest(mode, ccerrors.CodeOf(err).String())
		return nil, err
	}
	l.object = t.object
	l.events = t.events
	l.replaces = replaces

	if !grantable {
		pos := t.enqueue(l)
		t.metrics.RecordRequest(mode, "queued")
		t.emit(func() { t.events.doQueued(t.object, l, pos) })
		logger.Debug("Lock queued",
			logger.KeyObject, t.object, logger.KeyLockID, l.id,
			logger.KeyMode, mode.String(), "position", pos,
			logger.KeyClientID, channelName(client))
		return l, t.notifyErr(result)
	}

	if err := l.Grant(); err != nil {
		if l.pending {
			// Nothing was granted; state is unchanged.
			if derr := l.discard(); derr != nil {
				err = multierror.Append(err, derr)
			}
			t.metrics.RecordRequest(mode, "notify_failed")
			t.metrics.RecordNotifyFailure("grant")
			t.emit(func() { t.events.doNotifyFailed(t.object, l, err) })
			return nil, err
		}
		// Granted; only releasing the reply handle failed.
		result = multierror.Append(result, err)
	}

	t.metrics.RecordRequest(mode, "granted")
	if err := t.installGranted(l); err != nil {
		result = multierror.Append(result, err)
	}
	if mode == ModeDowngrade {
		if err := t.schedule(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return l, t.notifyErr(result)
}

// checkRequest applies the per-client rules and returns the client's lock
// that the request converts, if any.
func (t *Table) checkRequest(mode Mode, client Channel, ownHeld, ownWaiting *Lock) (*Lock, error) {
	switch mode {
	case ModeRead, ModeWrite:
		if ownHeld != nil || ownWaiting != nil {
			return nil, ccerrors.NewAlreadyLockedError(t.object)
		}
		return nil, nil

	case ModeUpgrade:
		if ownHeld == nil || !ownHeld.mode.IsRead() {
			return nil, ccerrors.NewNeverLockedError(t.object)
		}
		if ownWaiting != nil {
			return nil, ccerrors.NewAlreadyLockedError(t.object)
		}
		for _, w := range t.waiting {
			if w.mode == ModeUpgrade {
				return nil, ccerrors.NewDeadlockError(t.object)
			}
		}
		return ownHeld, nil

	case ModeDowngrade:
		if ownHeld == nil || !ownHeld.mode.IsWrite() {
			return nil, ccerrors.NewNeverLockedError(t.object)
		}
		return ownHeld, nil
	}
	return nil, ccerrors.NewBadLockTypeError(uint32(mode))
}

// compatible tests l against the whole held set, ignoring the lock l
// converts.
func (t *Table) compatible(l *Lock) bool {
	switch l.mode {
	case ModeRead, ModeDowngrade:
		for _, h := range t.held {
			if h != l.replaces && h.mode.IsWrite() {
				return false
			}
		}
		return true
	case ModeWrite:
		return len(t.held) == 0
	case ModeUpgrade:
		if l.replaces == nil {
			// The read lock it converts is gone.
			return len(t.held) == 0
		}
		return len(t.held) == 1 && t.held[0] == l.replaces
	}
	return false
}

// pruneReleased drops locks that were released through their own handle
// while still in the table, then grants whatever that unblocks.
func (t *Table) pruneReleased() error {
	stale := 0
	t.held = slices.DeleteFunc(t.held, func(l *Lock) bool {
		if !l.released {
			return false
		}
		stale++
		t.metrics.AddHeld(l.mode, -1)
		t.metrics.RecordRelease(l.mode, reasonStale, time.Since(l.grantedAt))
		return true
	})
	t.waiting = slices.DeleteFunc(t.waiting, func(l *Lock) bool {
		if !l.released {
			return false
		}
		stale++
		t.metrics.AddWaiting(-1)
		t.metrics.RecordRelease(l.mode, reasonStale, 0)
		return true
	})
	if stale == 0 {
		return nil
	}
	for _, w := range t.waiting {
		if w.replaces != nil && w.replaces.released {
			w.replaces = nil
		}
	}

	logger.Warn("Dropped locks released outside their table",
		logger.KeyObject, t.object, "count", stale)
	return t.schedule()
}

// enqueue appends l to the queue and returns its zero-based position. An
// upgrade goes to the front: its requester already holds a read lock, so
// any writer queued ahead of it could never be granted first.
func (t *Table) enqueue(l *Lock) int {
	t.metrics.AddWaiting(1)
	if l.mode == ModeUpgrade {
		t.waiting = slices.Insert(t.waiting, 0, l)
		return 0
	}
	t.waiting = append(t.waiting, l)
	return len(t.waiting) - 1
}

// installGranted moves a freshly granted lock into the held set and drops
// the lock it converts.
func (t *Table) installGranted(l *Lock) error {
	t.held = append(t.held, l)
	t.metrics.AddHeld(l.mode, 1)

	waited := l.grantedAt.Sub(l.requestedAt)
	t.metrics.RecordGrant(waited)
	t.emit(func() { t.events.doGranted(t.object, l, waited) })
	logger.Debug("Lock granted",
		logger.KeyObject, t.object, logger.KeyLockID, l.id,
		logger.KeyMode, l.mode.String(),
		logger.KeyClientID, channelName(l.client))

	old := l.replaces
	l.replaces = nil
	if old == nil {
		return nil
	}
	t.removeHeld(old)
	return t.releaseHeld(old, reasonConvert)
}

func (t *Table) removeHeld(l *Lock) bool {
	i := slices.Index(t.held, l)
	if i < 0 {
		return false
	}
	t.held = slices.Delete(t.held, i, i+1)
	t.metrics.AddHeld(l.mode, -1)
	return true
}

func (t *Table) removeWaiting(l *Lock) bool {
	i := slices.Index(t.waiting, l)
	if i < 0 {
		return false
	}
	t.waiting = slices.Delete(t.waiting, i, i+1)
	t.metrics.AddWaiting(-1)
	return true
}

// releaseHeld releases a lock already removed from the held set.
func (t *Table) releaseHeld(l *Lock, reason string) error {
	held := time.Since(l.grantedAt)
	err := l.Release()
	t.metrics.RecordRelease(l.mode, reason, held)
	t.emit(func() { t.events.doReleased(t.object, l, held) })
	return err
}

// cancelWaiting releases a lock already removed from the queue, sending its
// invalid object error.
func (t *Table) cancelWaiting(l *Lock, reason string) error {
	code := l.invalidObjectErr
	err := l.Release()
	t.metrics.RecordRelease(l.mode, reason, 0)
	t.emit(func() { t.events.doCancelled(t.object, l, code) })
	if err != nil {
		t.metrics.RecordNotifyFailure("cancel")
		t.emit(func() { t.events.doNotifyFailed(t.object, l, err) })
	}
	return err
}

// schedule grants queued locks in arrival order until the head of the queue
// conflicts with the held set. A lock whose grant cannot be delivered is
// dropped and scanning continues.
func (t *Table) schedule() error {
	var result *multierror.Error
	for len(t.waiting) > 0 {
		head := t.waiting[0]
		if !t.compatible(head) {
			break
		}
		t.removeWaiting(head)

		if err := head.Grant(); err != nil {
			if head.pending {
				result = multierror.Append(result, err)
				if derr := head.discard(); derr != nil {
					result = multierror.Append(result, derr)
				}
				t.metrics.RecordNotifyFailure("grant")
				t.emit(func() { t.events.doNotifyFailed(t.object, head, err) })
				logger.Warn("Failed to deliver lock grant",
					logger.KeyObject, t.object, logger.KeyLockID, head.id,
					logger.KeyMode, head.mode.String(), logger.Err(err))
				continue
			}
			result = multierror.Append(result, err)
		}
		if err := t.installGranted(head); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return flatten(result)
}

// Unlock releases every lock client holds or waits for on the object and
// grants whatever becomes compatible. It fails with NeverLocked when the
// client has no lock here.
func (t *Table) Unlock(client Channel) error {
	var q eventQueue
	defer q.fire()
	return t.unlock(&q, client)
}

func (t *Table) unlock(q *eventQueue, client Channel) error {
	n, err := t.releaseClient(q, client, reasonUnlock)
	if err != nil && !IsNotifyError(err) {
		return err
	}
	if n == 0 {
		return ccerrors.NewNeverLockedError(t.object)
	}
	return err
}

// ReleaseClient drops all locks of a client that went away and returns how
// many there were.
func (t *Table) ReleaseClient(client Channel) (int, error) {
	var q eventQueue
	defer q.fire()
	return t.releaseClient(&q, client, reasonDisconnect)
}

func (t *Table) releaseClient(q *eventQueue, client Channel, reason string) (int, error) {
	if !validChannel(client) {
		return 0, ccerrors.NewBadParamError("invalid client channel")
	}

	defer t.lock(q)()

	var result *multierror.Error
	if err := t.pruneReleased(); err != nil {
		result = multierror.Append(result, err)
	}

	var own, ownWaiting []*Lock
	for _, h := range t.held {
		ok, err := h.IsForClient(client)
		if err != nil {
			return 0, err
		}
		if ok {
			own = append(own, h)
		}
	}
	for _, w := range t.waiting {
		ok, err := w.IsForClient(client)
		if err != nil {
			return 0, err
		}
		if ok {
			ownWaiting = append(ownWaiting, w)
		}
	}
	if len(own)+len(ownWaiting) == 0 {
		return 0, t.notifyErr(result)
	}

	for _, w := range ownWaiting {
		t.removeWaiting(w)
		if err := t.cancelWaiting(w, reason); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, h := range own {
		t.removeHeld(h)
		if err := t.releaseHeld(h, reason); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := t.schedule(); err != nil {
		result = multierror.Append(result, err)
	}

	logger.Debug("Client locks released",
		logger.KeyObject, t.object,
		logger.KeyClientID, channelName(client),
		logger.KeyHeld, len(own), logger.KeyWaiting, len(ownWaiting),
		"reason", reason)

	return len(own) + len(ownWaiting), t.notifyErr(result)
}

// Invalidate tears down every lock on the object. Each waiting lock is sent
// its invalid object error; held locks are dropped silently. Later requests
// fail with the caller's invalid object error.
func (t *Table) Invalidate() error {
	var q eventQueue
	defer q.fire()
	return t.invalidate(&q)
}

func (t *Table) invalidate(q *eventQueue) error {
	defer t.lock(q)()

	if t.invalid {
		return nil
	}
	t.invalid = true

	waiting, held := t.waiting, t.held
	t.waiting, t.held = nil, nil
	t.metrics.AddWaiting(-len(waiting))

	var result *multierror.Error
	for _, w := range waiting {
		if w.released {
			continue
		}
		if err := t.cancelWaiting(w, reasonInvalidate); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, h := range held {
		t.metrics.AddHeld(h.mode, -1)
		if h.released {
			continue
		}
		if err := t.releaseHeld(h, reasonInvalidate); err != nil {
			result = multierror.Append(result, err)
		}
	}

	logger.Debug("Lock table invalidated",
		logger.KeyObject, t.object,
		logger.KeyHeld, len(held), logger.KeyWaiting, len(waiting))

	return t.notifyErr(result)
}

// Snapshot lists held locks followed by waiting locks in queue order.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, len(t.held)+len(t.waiting))
	for _, h := range t.held {
		if !h.released {
			out = append(out, h.info())
		}
	}
	for _, w := range t.waiting {
		if !w.released {
			out = append(out, w.info())
		}
	}
	return out
}

// Counts returns the number of held and waiting locks.
func (t *Table) Counts() (held, waiting int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts()
}

func (t *Table) counts() (held, waiting int) {
	return liveCount(t.held), liveCount(t.waiting)
}

// Invalid reports whether the table has been invalidated.
func (t *Table) Invalid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalid
}

func (t *Table) empty() bool {
	held, waiting := t.counts()
	return held == 0 && waiting == 0
}

// lock acquires the table mutex. The returned func releases it and moves
// the events raised meanwhile onto q.
func (t *Table) lock(q *eventQueue) func() {
	t.mu.Lock()
	return func() {
		*q = append(*q, t.queue...)
		t.queue = nil
		t.mu.Unlock()
	}
}

// emit queues an event callback; it runs once the current call has
// unlocked the table.
func (t *Table) emit(f func()) {
	if t.events != nil {
		t.queue.add(f)
	}
}

func (t *Table) notifyErr(result *multierror.Error) error {
	if err := flatten(result); err != nil {
		return &NotifyError{Object: t.object, Err: err}
	}
	return nil
}

func liveCount(locks []*Lock) int {
	n := 0
	for _, l := range locks {
		if !l.released {
			n++
		}
	}
	return n
}

// findLock returns the lock in locks owned by client, if any.
func findLock(locks []*Lock, client Channel) (*Lock, error) {
	for _, l := range locks {
		ok, err := l.IsForClient(client)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
	}
	return nil, nil
}
