package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these consistently so log lines can be queried
// across the dispatch loop, the lock manager and the transport.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Client / request
	KeyClientID  = "client_id"
	KeyRequestID = "request_id"
	KeyOperation = "op"
	KeyStatus    = "status"
	KeyRemote    = "remote"

	// Credential cache
	KeyCache     = "cache"
	KeyPrincipal = "principal"
	KeyCreds     = "credentials"

	// Locks
	KeyObject  = "object"
	KeyLockID  = "lock_id"
	KeyMode    = "lock_mode"
	KeyHeld    = "held"
	KeyWaiting = "waiting"

	// Misc
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
	KeySocket     = "socket"
	KeyPath       = "path"
)

// Err returns an error attribute; nil errors produce an empty attribute the
// handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a duration attribute in milliseconds.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}

// Client returns a client id attribute.
func Client(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Cache returns a cache name attribute.
func Cache(name string) slog.Attr {
	return slog.String(KeyCache, name)
}

// LockID returns a lock id attribute.
func LockID(id string) slog.Attr {
	return slog.String(KeyLockID, id)
}
