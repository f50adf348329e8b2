// Package errors provides the result codes and error type shared by the
// credential cache server. This is a leaf package with no internal
// dependencies so that the lock manager, the cache collection and the IPC
// transport can all import it.
//
// Import graph: errors <- lock <- ccache <- server
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is a CCAPI result code. Codes travel over the wire as uint32,
// so the numeric values are part of the protocol and must not be reordered.
type ErrorCode uint32

const (
	// Success is the result code carried by a grant notification.
	Success ErrorCode = iota

	// ErrBadParam indicates a nil or invalid argument, including an invalid channel.
	ErrBadParam

	// ErrNoMem indicates resource exhaustion (allocation or lock/queue limits).
	ErrNoMem

	// ErrBadLockType indicates a lock mode outside the recognized enumeration.
	ErrBadLockType

	// ErrNeverLocked indicates an unlock, upgrade or downgrade by a client
	// that holds no suitable lock.
	ErrNeverLocked

	// ErrAlreadyLocked indicates a client asked for a second lock on an
	// object it already holds or waits on.
	ErrAlreadyLocked

	// ErrDeadlock indicates the request could never be granted.
	ErrDeadlock

	// ErrInvalidCCache indicates the credential cache was destroyed.
	ErrInvalidCCache

	// ErrInvalidContext indicates the cache collection is no longer valid.
	ErrInvalidContext

	// ErrCCacheNotFound indicates no cache exists with the given name.
	ErrCCacheNotFound

	// ErrCCacheExists indicates a cache with the given name already exists.
	ErrCCacheExists

	// ErrInvalidCredentials indicates a malformed or missing credential.
	ErrInvalidCredentials

	// ErrBadName indicates a malformed cache or principal name.
	ErrBadName

	// ErrServerUnavailable indicates the reply could not be delivered.
	ErrServerUnavailable

	// ErrIO indicates an I/O failure reading or writing external state.
	ErrIO
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case Success:
		return "Success"
	case ErrBadParam:
		return "BadParam"
	case ErrNoMem:
		return "NoMem"
	case ErrBadLockType:
		return "BadLockType"
	case ErrNeverLocked:
		return "NeverLocked"
	case ErrAlreadyLocked:
		return "AlreadyLocked"
	case ErrDeadlock:
		return "Deadlock"
	case ErrInvalidCCache:
		return "InvalidCCache"
	case ErrInvalidContext:
		return "InvalidContext"
	case ErrCCacheNotFound:
		return "CCacheNotFound"
	case ErrCCacheExists:
		return "CCacheExists"
	case ErrInvalidCredentials:
		return "InvalidCredentials"
	case ErrBadName:
		return "BadName"
	case ErrServerUnavailable:
		return "ServerUnavailable"
	case ErrIO:
		return "IO"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(e))
	}
}

// CCError is an error carrying a result code.
type CCError struct {
	Code    ErrorCode
	Message string
	Name    string
}

// Error implements the error interface.
func (e *CCError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (name: %s)", e.Code, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a *CCError with the same code, so callers can
// write errors.Is(err, ccerrors.New(ccerrors.ErrBadParam, "")).
func (e *CCError) Is(target error) bool {
	var t *CCError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a CCError with the given code and message.
func New(code ErrorCode, message string) *CCError {
	return &CCError{Code: code, Message: message}
}

// CodeOf extracts the result code from err.
//
// nil maps to Success; errors that carry no code map to ErrServerUnavailable
// because they originate in the transport.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var ce *CCError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrServerUnavailable
}

// IsCode reports whether err carries the given result code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return code == Success
	}
	var ce *CCError
	return errors.As(err, &ce) && ce.Code == code
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewBadParamError creates a BadParam error.
func NewBadParamError(message string) *CCError {
	return &CCError{Code: ErrBadParam, Message: message}
}

// NewBadLockTypeError creates a BadLockType error for an unrecognized mode.
func NewBadLockTypeError(mode uint32) *CCError {
	return &CCError{Code: ErrBadLockType, Message: fmt.Sprintf("unknown lock type %d", mode)}
}

// NewNoMemError creates a NoMem error.
func NewNoMemError(message string) *CCError {
	return &CCError{Code: ErrNoMem, Message: message}
}

// NewNeverLockedError creates a NeverLocked error for the named object.
func NewNeverLockedError(name string) *CCError {
	return &CCError{Code: ErrNeverLocked, Message: "client holds no such lock", Name: name}
}

// NewAlreadyLockedError creates an AlreadyLocked error for the named object.
func NewAlreadyLockedError(name string) *CCError {
	return &CCError{Code: ErrAlreadyLocked, Message: "client already holds or awaits a lock", Name: name}
}

// NewDeadlockError creates a Deadlock error for the named object.
func NewDeadlockError(name string) *CCError {
	return &CCError{Code: ErrDeadlock, Message: "another client is already waiting to upgrade", Name: name}
}

// NewCCacheNotFoundError creates a CCacheNotFound error.
func NewCCacheNotFoundError(name string) *CCError {
	return &CCError{Code: ErrCCacheNotFound, Message: "credential cache not found", Name: name}
}

// NewCCacheExistsError creates a CCacheExists error.
func NewCCacheExistsError(name string) *CCError {
	return &CCError{Code: ErrCCacheExists, Message: "credential cache already exists", Name: name}
}

// NewBadNameError creates a BadName error.
func NewBadNameError(name, reason string) *CCError {
	return &CCError{Code: ErrBadName, Message: reason, Name: name}
}

// NewServerUnavailableError creates a ServerUnavailable error.
func NewServerUnavailableError(message string) *CCError {
	return &CCError{Code: ErrServerUnavailable, Message: message}
}
