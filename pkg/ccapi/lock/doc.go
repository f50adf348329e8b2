// Package lock implements the credential cache lock manager.
//
// A Lock is one outstanding or granted lock request. A Table arbitrates the
// locks of a single protected object (a credential cache, or the cache
// collection): it keeps the granted locks in a held set and the pending
// ones in a FIFO queue, grants compatible requests as soon as possible and
// notifies each requester exactly once over the reply Channel supplied with
// its request. A Manager keeps one Table per object id.
//
// Compatibility (held vs requested):
//
//	            Read  Write  Upgrade  Downgrade
//	Read        yes   no     own*     -
//	Write       no    no     -        own
//	Upgrade     no    no     -        own
//	Downgrade   yes   no     own*     -
//
// own*: an upgrade is granted only when the held set is exactly the
// requester's own read lock. own: a downgrade replaces the requester's own
// write lock and is always granted immediately.
//
// Queueing is strict FIFO: the head of the queue is tested against the whole
// held set and scanning stops at the first request that does not fit, so a
// read arriving after a queued write waits for that write. Consecutive reads
// at the head are granted in one pass.
//
// Import graph: errors <- lock <- ccache <- server
package lock
