package lock

import (
	"fmt"

	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// Channel is a client endpoint supplied by the transport. It identifies a
// client and delivers asynchronous replies to it.
//
// The lock package takes its own copy of every channel it keeps and releases
// each copy exactly once. Send must not block on the client: a transport that
// cannot queue the message returns an error instead.
type Channel interface {
	// Valid reports whether the channel can still be used.
	Valid() bool

	// Copy returns a new handle to the same endpoint with an independent
	// lifetime.
	Copy() (Channel, error)

	// Release gives up this handle. It is called exactly once per handle.
	Release() error

	// Equal reports whether other refers to the same client endpoint.
	Equal(other Channel) (bool, error)

	// Send delivers a result code and optional payload to the client.
	Send(code ccerrors.ErrorCode, payload []byte) error
}

func validChannel(ch Channel) bool {
	return ch != nil && ch.Valid()
}

// channelName returns a printable identity for logs.
func channelName(ch Channel) string {
	if s, ok := ch.(fmt.Stringer); ok && ch != nil {
		return s.String()
	}
	if ch == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%p", ch)
}
