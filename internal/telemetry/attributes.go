package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys.
const (
	AttrClientID  = "client.id"
	AttrRequestID = "ccapi.request_id"
	AttrOperation = "ccapi.operation"
	AttrStatus    = "ccapi.status"
	AttrCache     = "ccapi.cache"
	AttrPrincipal = "ccapi.principal"
	AttrObject    = "lock.object"
	AttrLockMode  = "lock.mode"
	AttrLockID    = "lock.id"
	AttrQueued    = "lock.queued"
)

// Span names.
const (
	SpanRequest      = "ccsd.request"
	SpanLockRequest  = "lock.request"
	SpanLockUnlock   = "lock.unlock"
	SpanLockRelease  = "lock.release_client"
	SpanCacheDestroy = "ccache.destroy"
	SpanCacheImport  = "ccache.import"
)

// ClientID returns a client id attribute.
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// RequestID returns a request id attribute.
func RequestID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrRequestID, int64(id))
}

// Operation returns an operation name attribute.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Status returns a result code attribute.
func Status(status string) attribute.KeyValue {
	return attribute.String(AttrStatus, status)
}

// Cache returns a cache name attribute.
func Cache(name string) attribute.KeyValue {
	return attribute.String(AttrCache, name)
}

// Object returns a lock object attribute.
func Object(object string) attribute.KeyValue {
	return attribute.String(AttrObject, object)
}

// LockMode returns a lock mode attribute.
func LockMode(mode string) attribute.KeyValue {
	return attribute.String(AttrLockMode, mode)
}

// LockID returns a lock id attribute.
func LockID(id string) attribute.KeyValue {
	return attribute.String(AttrLockID, id)
}

// Queued reports whether a lock request had to wait.
func Queued(queued bool) attribute.KeyValue {
	return attribute.Bool(AttrQueued, queued)
}
