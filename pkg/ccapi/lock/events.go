package lock

import (
	"time"

	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// Events lets the owner of a Table or Manager observe lock state changes.
// Every callback is optional. Callbacks raised by a Table or Manager call run
// in order once that call has released its locks, so they may query the
// table or manager.
type Events struct {
	// OnQueued fires when a request cannot be granted and joins the queue.
	OnQueued func(object string, l *Lock, position int)

	// OnGranted fires after the grant notification was delivered.
	OnGranted func(object string, l *Lock, waited time.Duration)

	// OnCancelled fires when a pending lock is torn down and its requester
	// is sent code instead of a grant.
	OnCancelled func(object string, l *Lock, code ccerrors.ErrorCode)

	// OnReleased fires when a granted lock is released.
	OnReleased func(object string, l *Lock, held time.Duration)

	// OnNotifyFailed fires when a grant or cancellation could not be sent.
	OnNotifyFailed func(object string, l *Lock, err error)

	// OnMisuse fires for protocol anomalies that are not errors, such as
	// granting a lock that is not pending.
	OnMisuse func(l *Lock, reason string)
}

func (e *Events) doQueued(object string, l *Lock, position int) {
	if e != nil && e.OnQueued != nil {
		e.OnQueued(object, l, position)
	}
}

func (e *Events) doGranted(object string, l *Lock, waited time.Duration) {
	if e != nil && e.OnGranted != nil {
		e.OnGranted(object, l, waited)
	}
}

func (e *Events) doCancelled(object string, l *Lock, code ccerrors.ErrorCode) {
	if e != nil && e.OnCancelled != nil {
		e.OnCancelled(object, l, code)
	}
}

func (e *Events) doReleased(object string, l *Lock, held time.Duration) {
	if e != nil && e.OnReleased != nil {
		e.OnReleased(object, l, held)
	}
}

func (e *Events) doNotifyFailed(object string, l *Lock, err error) {
	if e != nil && e.OnNotifyFailed != nil {
		e.OnNotifyFailed(object, l, err)
	}
}

func (e *Events) doMisuse(l *Lock, reason string) {
	if e != nil && e.OnMisuse != nil {
		e.OnMisuse(l, reason)
	}
}

// eventQueue collects callbacks raised under a lock so they can be fired
// after it is released.
type eventQueue []func()

func (q *eventQueue) add(f func()) {
	*q = append(*q, f)
}

func (q *eventQueue) fire() {
	fs := *q
	*q = nil
	for _, f := range fs {
		f()
	}
}
