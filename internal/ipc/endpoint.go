package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

var (
	// ErrClosed is returned when sending to or copying a pipe whose
	// connection has gone away.
	ErrClosed = errors.New("ipc: endpoint closed")

	// ErrOutboxFull is returned when a client does not drain its replies
	// fast enough.
	ErrOutboxFull = errors.New("ipc: outbox full")

	// ErrReleased is returned when a pipe handle is used after Release.
	ErrReleased = errors.New("ipc: pipe already released")
)

// EndpointConfig tunes an Endpoint.
type EndpointConfig struct {
	// OutboxSize is the number of replies that may be queued for the client.
	OutboxSize int

	// WriteTimeout bounds a single reply write.
	WriteTimeout time.Duration

	// MaxMessageSize bounds an incoming request.
	MaxMessageSize int
}

// Endpoint is the server side of one client connection.
type Endpoint struct {
	id   string
	conn net.Conn
	cfg  EndpointConfig

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup

	// handles counts live Pipes so leaks are visible in tests and logs.
	handles atomic.Int64
}

// NewEndpoint wraps conn and starts its reply writer.
func NewEndpoint(conn net.Conn, cfg EndpointConfig) *Endpoint {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	e := &Endpoint{
		id:     uuid.NewString(),
		conn:   conn,
		cfg:    cfg,
		outbox: make(chan []byte, cfg.OutboxSize),
		done:   make(chan struct{}),
	}
	e.writerWG.Add(1)
	go e.writeLoop()
	return e
}

// ID returns the endpoint's unique id.
func (e *Endpoint) ID() string {
	return e.id
}

// Closed reports whether the connection has been closed.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Done is closed when the endpoint closes.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Handles returns the number of live pipes on the endpoint.
func (e *Endpoint) Handles() int64 {
	return e.handles.Load()
}

// ReadRequest blocks until the next request arrives.
func (e *Endpoint) ReadRequest() (*Request, error) {
	body, err := ReadFrame(e.conn, e.cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	req := new(Request)
	if err := Decode(body, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Reply queues a reply without blocking.
func (e *Endpoint) Reply(r *Reply) error {
	body, err := Encode(r)
	if err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case e.outbox <- body:
		return nil
	case <-e.done:
		return ErrClosed
	default:
		return ErrOutboxFull
	}
}

func (e *Endpoint) writeLoop() {
	defer e.writerWG.Done()
	for {
		select {
		case <-e.done:
			return
		case body := <-e.outbox:
			_ = e.conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
			if err := WriteFrame(e.conn, body); err != nil {
				logger.Debug("IPC write failed", logger.KeyClientID, e.id, logger.Err(err))
				e.Close()
				return
			}
		}
	}
}

// Flush waits until queued replies are written or timeout passes.
func (e *Endpoint) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(e.outbox) > 0 && !e.Closed() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

// Close closes the connection. Pipes on it become invalid. Safe to call more
// than once.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		_ = e.conn.Close()
	})
}

// Wait blocks until the reply writer has stopped.
func (e *Endpoint) Wait() {
	e.writerWG.Wait()
}

// Pipe returns a new handle on the endpoint addressing replies to requestID.
// The caller owns the handle and must Release it.
func (e *Endpoint) Pipe(requestID uint32) *Pipe {
	e.handles.Add(1)
	return &Pipe{ep: e, requestID: requestID}
}

// Pipe is a handle on an Endpoint. Two pipes are equal when they belong to
// the same endpoint, whatever request id they address.
type Pipe struct {
	ep        *Endpoint
	requestID uint32
	released  atomic.Bool
}

var _ lock.Channel = (*Pipe)(nil)

// Valid reports whether the handle has not been released. A pipe on a
// closed connection stays valid so it can still identify its client; Copy
// and Send on it fail with ErrClosed.
func (p *Pipe) Valid() bool {
	return p != nil && !p.released.Load()
}

// Copy returns an independent handle on the same endpoint and request id.
func (p *Pipe) Copy() (lock.Channel, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}
	if p.ep.Closed() {
		return nil, ErrClosed
	}
	return p.ep.Pipe(p.requestID), nil
}

// Release gives up the handle. A second call returns ErrReleased.
func (p *Pipe) Release() error {
	if p.released.Swap(true) {
		return ErrReleased
	}
	p.ep.handles.Add(-1)
	return nil
}

// Equal reports whether other is a pipe on the same endpoint.
func (p *Pipe) Equal(other lock.Channel) (bool, error) {
	o, ok := other.(*Pipe)
	if !ok || o == nil {
		return false, nil
	}
	return o.ep == p.ep, nil
}

// Send queues a reply for the pipe's request id.
func (p *Pipe) Send(code ccerrors.ErrorCode, payload []byte) error {
	if p.released.Load() {
		return ErrReleased
	}
	return p.ep.Reply(&Reply{RequestID: p.requestID, Code: uint32(code), Payload: payload})
}

// RequestID returns the request id replies are addressed to.
func (p *Pipe) RequestID() uint32 {
	return p.requestID
}

// Endpoint returns the endpoint the pipe belongs to.
func (p *Pipe) Endpoint() *Endpoint {
	return p.ep
}

func (p *Pipe) String() string {
	if p.requestID == 0 {
		return p.ep.id
	}
	return fmt.Sprintf("%s#%d", p.ep.id, p.requestID)
}
