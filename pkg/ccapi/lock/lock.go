package lock

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// Lock is one lock request on a protected object.
//
// A Lock owns a copy of the requesting client's channel for its whole life
// and a copy of the reply channel while it is pending. Exactly one message is
// sent over the reply channel: a success code when the lock is granted or
// the invalid object error when a pending lock is released.
type Lock struct {
	id               string
	mode             Mode
	pending          bool
	invalidObjectErr ccerrors.ErrorCode

	client Channel
	reply  Channel // nil once granted or released

	object      string
	requestedAt time.Time
	grantedAt   time.Time
	released    bool

	// replaces is the caller's own lock that this upgrade or downgrade
	// converts; it is dropped when this lock is granted.
	replaces *Lock

	events *Events
}

// newLock returns a Lock with every field set to its starting value.
func newLock(mode Mode, invalidObjectErr ccerrors.ErrorCode) *Lock {
	return &Lock{
		id:               uuid.NewString(),
		mode:             mode,
		pending:          true,
		invalidObjectErr: invalidObjectErr,
		requestedAt:      time.Now(),
	}
}

// NewLock creates a pending lock of the given mode.
//
// The lock takes its own copies of client and reply; the caller keeps
// ownership of the handles it passed in. If a copy fails, every copy
// acquired so far is released before the error is returned.
func NewLock(mode Mode, invalidObjectErr ccerrors.ErrorCode, client, reply Channel) (*Lock, error) {
	if !mode.Valid() {
		return nil, ccerrors.NewBadLockTypeError(uint32(mode))
	}
	if !validChannel(client) {
		return nil, ccerrors.NewBadParamError("invalid client channel")
	}
	if !validChannel(reply) {
		return nil, ccerrors.NewBadParamError("invalid reply channel")
	}

	l := newLock(mode, invalidObjectErr)

	c, err := client.Copy()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ccerrors.NewNoMemError("client channel copy")
	}

	r, err := reply.Copy()
	if err == nil && r == nil {
		err = ccerrors.NewNoMemError("reply channel copy")
	}
	if err != nil {
		if rerr := c.Release(); rerr != nil {
			err = multierror.Append(err, rerr)
		}
		return nil, err
	}

	l.client = c
	l.reply = r
	return l, nil
}

// Release tears the lock down. A pending lock first sends its invalid
// object error over the reply channel. Every owned channel is released even
// when the send fails; all failures are returned together. Releasing an
// already released lock does nothing.
func (l *Lock) Release() error {
	if l == nil {
		return ccerrors.NewBadParamError("nil lock")
	}
	if l.released {
		return nil
	}
	l.released = true

	var result *multierror.Error
	if l.pending {
		if l.reply != nil {
			if err := l.reply.Send(l.invalidObjectErr, nil); err != nil {
				result = multierror.Append(result, err)
			}
			if err := l.reply.Release(); err != nil {
				result = multierror.Append(result, err)
			}
			l.reply = nil
		}
		l.pending = false
	}
	if l.client != nil {
		if err := l.client.Release(); err != nil {
			result = multierror.Append(result, err)
		}
		l.client = nil
	}
	return flatten(result)
}

// discard releases the owned channels without notifying anyone. Used after a
// failed grant, where one send was already attempted.
func (l *Lock) discard() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	l.pending = false

	var result *multierror.Error
	if l.reply != nil {
		if err := l.reply.Release(); err != nil {
			result = multierror.Append(result, err)
		}
		l.reply = nil
	}
	if l.client != nil {
		if err := l.client.Release(); err != nil {
			result = multierror.Append(result, err)
		}
		l.client = nil
	}
	return flatten(result)
}

// Grant notifies the requester that the lock is now held.
//
// On a pending lock it sends a success code and then releases the reply
// channel. If the send fails the error is returned and the lock stays
// pending. Granting a lock that is not pending is reported as misuse and
// otherwise ignored.
func (l *Lock) Grant() error {
	if l == nil {
		return ccerrors.NewBadParamError("nil lock")
	}
	if !l.pending || l.released || l.reply == nil {
		l.events.doMisuse(l, "grant on lock that is not pending")
		logger.Warn("Grant called on lock that is not pending",
			logger.KeyLockID, l.id,
			logger.KeyObject, l.object,
			logger.KeyMode, l.mode.String())
		return nil
	}

	if err := l.reply.Send(ccerrors.Success, nil); err != nil {
		return err
	}

	l.pending = false
	l.grantedAt = time.Now()
	err := l.reply.Release()
	l.reply = nil
	return err
}

// IsPending reports whether the lock is still waiting to be granted.
func (l *Lock) IsPending() (bool, error) {
	if l == nil {
		return false, ccerrors.NewBadParamError("nil lock")
	}
	return l.pending, nil
}

// Mode returns the mode the lock was requested with.
func (l *Lock) Mode() (Mode, error) {
	if l == nil {
		return 0, ccerrors.NewBadParamError("nil lock")
	}
	return l.mode, nil
}

// IsReadLock reports whether the lock is shared (Read or Downgrade).
func (l *Lock) IsReadLock() (bool, error) {
	if l == nil {
		return false, ccerrors.NewBadParamError("nil lock")
	}
	return l.mode.IsRead(), nil
}

// IsWriteLock reports whether the lock is exclusive (Write or Upgrade).
func (l *Lock) IsWriteLock() (bool, error) {
	if l == nil {
		return false, ccerrors.NewBadParamError("nil lock")
	}
	return l.mode.IsWrite(), nil
}

// IsForClient reports whether client is the endpoint that requested l.
func (l *Lock) IsForClient(client Channel) (bool, error) {
	if l == nil {
		return false, ccerrors.NewBadParamError("nil lock")
	}
	if !validChannel(client) {
		return false, ccerrors.NewBadParamError("invalid client channel")
	}
	if l.client == nil {
		return false, ccerrors.NewBadParamError("lock already released")
	}
	return l.client.Equal(client)
}

// Client returns the lock's own copy of the client channel. The caller must
// not release it.
func (l *Lock) Client() (Channel, error) {
	if l == nil {
		return nil, ccerrors.NewBadParamError("nil lock")
	}
	if l.client == nil {
		return nil, ccerrors.NewBadParamError("lock already released")
	}
	return l.client, nil
}

// ID returns the lock's unique id.
func (l *Lock) ID() string {
	if l == nil {
		return ""
	}
	return l.id
}

// Object returns the id of the protected object once the lock is in a table.
func (l *Lock) Object() string {
	if l == nil {
		return ""
	}
	return l.object
}

func (l *Lock) info() Info {
	since := l.requestedAt
	if !l.pending {
		since = l.grantedAt
	}
	return Info{
		ID:      l.id,
		Object:  l.object,
		Mode:    l.mode,
		Pending: l.pending,
		Client:  channelName(l.client),
		Since:   since,
	}
}

// flatten returns nil for an empty result and the sole error unwrapped when
// only one was collected.
func flatten(result *multierror.Error) error {
	if result == nil || len(result.Errors) == 0 {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}
