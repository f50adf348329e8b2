// Package ipc is the credential cache server's local transport.
//
// Clients connect over a Unix domain socket. Every message is one XDR
// encoded Request or Reply carried in RPC record marking: a 4-byte header
// holding the last-fragment bit and the fragment length, followed by the
// fragment bytes.
//
// On the server each connection is an Endpoint. A Pipe is a handle on an
// Endpoint that identifies the client and addresses replies to one request
// id; it implements lock.Channel. Replies are queued on a bounded outbox and
// written by a per-connection goroutine, so sending never blocks on a slow
// client.
package ipc
