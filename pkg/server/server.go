// Package server is the credential cache server's dispatch loop.
//
// Each client connection has a reader goroutine that decodes requests and
// hands them to a single arbiter goroutine. The arbiter executes requests
// one at a time, so every lock table mutation runs as one serialized step.
// Lock requests are answered over a reply pipe owned by the lock manager:
// the grant or cancellation is the only reply the client gets, whenever it
// happens. A client that disconnects has all its locks released.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sync"
	"time"

	"github.com/marmos91/ccsd/internal/ipc"
	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

// job is one unit of arbiter work. A nil req means the endpoint went away.
type job struct {
	ep  *ipc.Endpoint
	req *ipc.Request
}

// Server serves credential caches over a Unix socket.
type Server struct {
	cfg     Config
	locks   *lock.Manager
	caches  *ccache.Collection
	metrics *Metrics

	mu        sync.Mutex
	started   bool
	listener  net.Listener
	endpoints map[string]*ipc.Endpoint

	jobs         chan job
	shutdown     chan struct{}
	shutdownOnce sync.Once
	connWG       sync.WaitGroup
	arbiterDone  chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics enables connection and request metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server. caches should have been created with locks as its
// invalidator so that destroying a cache cancels its waiters.
func New(cfg Config, locks *lock.Manager, caches *ccache.Collection, opts ...Option) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	s := &Server{
		cfg:         cfg,
		locks:       locks,
		caches:      caches,
		endpoints:   make(map[string]*ipc.Endpoint),
		jobs:        make(chan job, cfg.QueueSize),
		shutdown:    make(chan struct{}),
		arbiterDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve listens on the configured socket and serves until ctx is cancelled
// or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := ipc.Listen(s.cfg.SocketPath, fs.FileMode(s.cfg.SocketMode))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves connections accepted from ln.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.listener = ln
	s.mu.Unlock()

	logger.Info("Credential cache server started", logger.KeySocket, ln.Addr().String())

	go s.arbiter(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		ep := ipc.NewEndpoint(conn, ipc.EndpointConfig{
			OutboxSize:     s.cfg.OutboxSize,
			WriteTimeout:   s.cfg.WriteTimeout,
			MaxMessageSize: s.cfg.MaxMessageSize,
		})
		s.mu.Lock()
		s.endpoints[ep.ID()] = ep
		s.mu.Unlock()
		s.metrics.connected()
		logger.Debug("Client connected", logger.KeyClientID, ep.ID())

		s.connWG.Add(1)
		go s.readLoop(ep)
	}
}

// readLoop feeds requests from one endpoint to the arbiter.
func (s *Server) readLoop(ep *ipc.Endpoint) {
	defer s.connWG.Done()
	for {
		req, err := ep.ReadRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !ep.Closed() {
				logger.Debug("Client read failed", logger.KeyClientID, ep.ID(), logger.Err(err))
			}
			ep.Close()
			s.submit(job{ep: ep})
			return
		}
		if !s.submit(job{ep: ep, req: req}) {
			ep.Close()
			return
		}
	}
}

func (s *Server) submit(j job) bool {
	select {
	case s.jobs <- j:
		return true
	case <-s.shutdown:
		return false
	}
}

// arbiter executes jobs one at a time.
func (s *Server) arbiter(ctx context.Context) {
	defer close(s.arbiterDone)
	for {
		select {
		case <-s.shutdown:
			return
		case j := <-s.jobs:
			if j.req == nil {
				s.disconnect(ctx, j.ep)
				continue
			}
			s.dispatch(ctx, j.ep, j.req)
		}
	}
}

func (s *Server) disconnect(ctx context.Context, ep *ipc.Endpoint) {
	s.mu.Lock()
	_, ok := s.endpoints[ep.ID()]
	delete(s.endpoints, ep.ID())
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.disconnected()

	n, err := s.releaseClient(ctx, ep)
	if lock.IsNotifyError(err) {
		// Cancellations addressed to the departed client cannot be delivered.
		logger.Debug("Disconnected client not notified", logger.KeyClientID, ep.ID(), logger.Err(err))
	} else if err != nil {
		logger.Warn("Releasing locks of disconnected client failed",
			logger.KeyClientID, ep.ID(), logger.Err(err))
	}
	logger.Debug("Client disconnected", logger.KeyClientID, ep.ID(), "locks_released", n)
}

// Stop closes the listener and every connection. Waiting lock requests are
// cancelled with their invalid object errors before connections close.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		started := s.started
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Unlock()

		if started {
			<-s.arbiterDone
		}

		for _, object := range s.locks.Objects() {
			if ierr := s.locks.Invalidate(object); ierr != nil {
				logger.Debug("Shutdown invalidation", logger.KeyObject, object, logger.Err(ierr))
			}
		}

		s.mu.Lock()
		eps := make([]*ipc.Endpoint, 0, len(s.endpoints))
		for _, ep := range s.endpoints {
			eps = append(eps, ep)
		}
		s.endpoints = make(map[string]*ipc.Endpoint)
		s.mu.Unlock()

		deadline := 100 * time.Millisecond
		if d, ok := ctx.Deadline(); ok {
			deadline = time.Until(d)
		}
		for _, ep := range eps {
			ep.Flush(deadline)
			ep.Close()
			s.metrics.disconnected()
		}
		s.connWG.Wait()
		logger.Info("Credential cache server stopped")
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the listener address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}
