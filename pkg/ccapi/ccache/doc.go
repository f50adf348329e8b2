// Package ccache holds the server's in-memory credential caches.
//
// A Collection maps cache names to Cache objects, each owned by one client
// principal and holding that principal's Kerberos credentials. Every cache
// is a protected object for the lock manager under its own object id; the
// collection itself is protected under CollectionObject. Destroying a cache
// invalidates its lock table so that every queued lock request is told the
// cache is gone, and wipes the cache's key material.
package ccache
