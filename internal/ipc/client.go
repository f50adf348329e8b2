package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

// Client is a connection to a credential cache server. Calls may be issued
// concurrently; each waits for the reply carrying its request id.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *Reply
	err     error
	done    chan struct{}
}

// Dial connects to the server socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, ccerrors.NewServerUnavailableError(err.Error())
	}
	return NewClient(conn), nil
}

// NewClient runs the client protocol over an established connection.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan *Reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		body, err := ReadFrame(c.conn, 0)
		if err != nil {
			c.fail(err)
			return
		}
		reply := new(Reply)
		if err := Decode(body, reply); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.RequestID]
		delete(c.pending, reply.RequestID)
		c.mu.Unlock()

		if !ok {
			logger.Debug("IPC reply for unknown request", logger.KeyRequestID, reply.RequestID)
			continue
		}
		ch <- reply
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends req and waits for its reply. The request id is assigned by the
// client. A reply with a non-zero code is returned together with a
// *ccerrors.CCError for that code.
func (c *Client) Call(ctx context.Context, req *Request) (*Reply, error) {
	id := c.nextID.Add(1)
	req.RequestID = id
	ch := make(chan *Reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, ccerrors.NewServerUnavailableError(err.Error())
	}
	c.pending[id] = ch
	c.mu.Unlock()

	body, err := Encode(req)
	if err != nil {
		c.forget(id)
		return nil, err
	}

	c.writeMu.Lock()
	err = WriteFrame(c.conn, body)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, ccerrors.NewServerUnavailableError(err.Error())
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ccerrors.NewServerUnavailableError("connection closed")
		}
		if reply.Code != uint32(ccerrors.Success) {
			return reply, ccerrors.New(ccerrors.ErrorCode(reply.Code), reply.Message)
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close closes the connection. The server releases every lock the client
// held or waited for.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
