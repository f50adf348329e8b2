package ipc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Op identifies a client request.
type Op uint32

const (
	OpPing Op = iota
	OpCacheCreate
	OpCacheDestroy
	OpCacheList
	OpCacheImport
	OpSetDefault
	OpCredentials
	OpLock
	OpUnlock
	OpLockStatus
	OpContextLock
	OpContextUnlock
)

var opNames = map[Op]string{
	OpPing:          "PING",
	OpCacheCreate:   "CACHE_CREATE",
	OpCacheDestroy:  "CACHE_DESTROY",
	OpCacheList:     "CACHE_LIST",
	OpCacheImport:   "CACHE_IMPORT",
	OpSetDefault:    "SET_DEFAULT",
	OpCredentials:   "CREDENTIALS",
	OpLock:          "LOCK",
	OpUnlock:        "UNLOCK",
	OpLockStatus:    "LOCK_STATUS",
	OpContextLock:   "CONTEXT_LOCK",
	OpContextUnlock: "CONTEXT_UNLOCK",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("OP_%d", uint32(o))
}

// Request is a client to server message. Fields not used by an op are left
// empty.
type Request struct {
	RequestID uint32
	Op        uint32
	Cache     string
	Principal string
	LockMode  uint32
	Data      []byte
}

// Reply is a server to client message answering the request with the same
// id. Code is a ccapi error code; zero means success.
type Reply struct {
	RequestID uint32
	Code      uint32
	Message   string
	Payload   []byte
}

// CacheEntry describes one cache in an OpCacheList payload.
type CacheEntry struct {
	Name        string
	Principal   string
	Credentials uint32
	Default     bool
	ChangedAt   int64
}

// CacheList is the OpCacheList payload.
type CacheList struct {
	Caches []CacheEntry
}

// CredentialEntry describes one credential in an OpCredentials payload.
type CredentialEntry struct {
	Server    string
	KeyType   int32
	StartTime int64
	EndTime   int64
	Flags     []string
}

// CredentialList is the OpCredentials payload.
type CredentialList struct {
	Credentials []CredentialEntry
}

// LockEntry describes one lock in an OpLockStatus payload.
type LockEntry struct {
	ID      string
	Mode    uint32
	Pending bool
	Client  string
	Since   int64
}

// LockStatus is the OpLockStatus payload.
type LockStatus struct {
	Object string
	Locks  []LockEntry
}

// Encode XDR-encodes v.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode XDR-decodes data into v.
func Decode(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	return nil
}
