package lock

import (
	"errors"
	"sync"

	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// sentMsg is one message delivered to a fake endpoint.
type sentMsg struct {
	code    ccerrors.ErrorCode
	payload []byte
}

// fakeEndpoint is the client side of a fake channel. It counts live handles
// so tests can assert that nothing leaks.
type fakeEndpoint struct {
	mu       sync.Mutex
	name     string
	sent     []sentMsg
	live     int
	doubles  int
	sendErr  error
	copyErr  error
	copyNil  bool
	relErr   error
	equalErr error
}

func newEndpoint(name string) *fakeEndpoint {
	return &fakeEndpoint{name: name}
}

// handle returns a caller-owned handle, as the transport would.
func (e *fakeEndpoint) handle() *fakeChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live++
	return &fakeChannel{ep: e}
}

func (e *fakeEndpoint) messages() []sentMsg {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentMsg(nil), e.sent...)
}

func (e *fakeEndpoint) codes() []ccerrors.ErrorCode {
	var out []ccerrors.ErrorCode
	for _, m := range e.messages() {
		out = append(out, m.code)
	}
	return out
}

func (e *fakeEndpoint) liveHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

type fakeChannel struct {
	ep       *fakeEndpoint
	released bool
	invalid  bool
}

var _ Channel = (*fakeChannel)(nil)

func (c *fakeChannel) Valid() bool {
	return c != nil && !c.invalid && !c.released
}

func (c *fakeChannel) Copy() (Channel, error) {
	c.ep.mu.Lock()
	defer c.ep.mu.Unlock()
	if c.ep.copyErr != nil {
		return nil, c.ep.copyErr
	}
	if c.ep.copyNil {
		return nil, nil
	}
	c.ep.live++
	return &fakeChannel{ep: c.ep}, nil
}

func (c *fakeChannel) Release() error {
	c.ep.mu.Lock()
	defer c.ep.mu.Unlock()
	if c.released {
		c.ep.doubles++
		return errors.New("double release")
	}
	c.released = true
	c.ep.live--
	return c.ep.relErr
}

func (c *fakeChannel) Equal(other Channel) (bool, error) {
	if c.ep.equalErr != nil {
		return false, c.ep.equalErr
	}
	o, ok := other.(*fakeChannel)
	if !ok {
		return false, nil
	}
	return o.ep == c.ep, nil
}

func (c *fakeChannel) Send(code ccerrors.ErrorCode, payload []byte) error {
	c.ep.mu.Lock()
	defer c.ep.mu.Unlock()
	if c.ep.sendErr != nil {
		return c.ep.sendErr
	}
	c.ep.sent = append(c.ep.sent, sentMsg{code: code, payload: payload})
	return nil
}

func (c *fakeChannel) String() string {
	return c.ep.name
}

// client bundles the identity endpoint of a client with the endpoint its
// replies go to.
type client struct {
	id    *fakeEndpoint
	reply *fakeEndpoint
}

func newClient(name string) *client {
	return &client{id: newEndpoint(name), reply: newEndpoint(name + "/reply")}
}
