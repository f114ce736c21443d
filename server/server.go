// Package server accepts bridge connections and serves their requests.
//
// Request processing:
//
//	Accept conn → handleConn (one goroutine reads frames)
//	  → per request: go handleRequest
//	    → decode (handles resolved through the tracker)
//	    → middleware chain → dispatcher
//	    → encode reply (opaque results registered) → write frame with the request's seq
//
// Replies on one connection may be written in any order; the sequence number
// ties each one to its request.
package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-bridge/callback"
	"mini-bridge/dispatcher"
	"mini-bridge/internal/bufferpool"
	"mini-bridge/middleware"
	"mini-bridge/protocol"
	"mini-bridge/registry"
	"mini-bridge/tracker"
)

// DefaultBootstrapClass is the class connectCallback and release are served under.
const DefaultBootstrapClass = "Gateway"

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server serves bridge requests.
type Server struct {
	dispatcher  *dispatcher.Dispatcher
	callback    *callback.Manager
	logger      *zap.Logger
	bootstrap   string
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	registry      registry.Registry
	service       string
	advertiseAddr string
	ttl           int64

	listener  net.Listener
	acceptErr chan error

	mu       sync.Mutex // guards listener, conns and shutdown against wg.Add
	conns    map[string]net.Conn
	shutdown atomic.Bool
	requests sync.WaitGroup // in-flight requests
	readers  sync.WaitGroup // connection goroutines

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer returns a Server with connectCallback and release installed
// under the bootstrap class.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:    zap.NewNop(),
		bootstrap: DefaultBootstrapClass,
		service:   registry.DefaultService,
		ttl:       10,
		conns:     make(map[string]net.Conn),
		acceptErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt.Apply(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = dispatcher.New(tracker.New(), dispatcher.WithLogger(s.logger))
	}
	s.callback = callback.NewManager(s.dispatcher.Objects(), s.logger)
	if err := s.callback.Install(s.dispatcher, s.bootstrap); err != nil {
		return nil, err
	}

	base := middleware.Chain(append([]middleware.Middleware{middleware.Recover(s.logger)}, s.middlewares...)...)
	s.handler = base(s.dispatcher.Dispatch)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Dispatcher returns the dispatcher requests are served by.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Callback returns the reverse channel manager.
func (s *Server) Callback() *callback.Manager {
	return s.callback
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens on address, advertises the server when a registry is set and
// accepts connections in the background.
func (s *Server) Start(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	if s.registry != nil {
		addr := s.advertiseAddr
		if addr == "" {
			addr = listener.Addr().String()
			s.advertiseAddr = addr
		}
		err := s.registry.Register(s.baseCtx, s.service, registry.ServiceInstance{Addr: addr, Weight: 1}, s.ttl)
		if err != nil {
			_ = listener.Close()
			return err
		}
	}

	s.logger.Info("bridge listening",
		zap.Stringer("addr", listener.Addr()),
		zap.String("bootstrap", s.bootstrap))
	go func() {
		s.acceptErr <- s.acceptLoop(listener)
	}()
	return nil
}

// Serve starts the server and blocks until it stops. After Shutdown it
// returns ErrServerClosed.
func (s *Server) Serve(network, address string) error {
	if err := s.Start(network, address); err != nil {
		return err
	}
	return s.Wait()
}

// Wait blocks until a started server stops accepting connections and returns
// the reason. After Shutdown it returns ErrServerClosed.
func (s *Server) Wait() error {
	return <-s.acceptErr
}

func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}

		id := uuid.NewString()
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return ErrServerClosed
		}
		s.conns[id] = conn
		s.readers.Add(1)
		s.mu.Unlock()

		go s.handleConn(id, conn)
	}
}

// handleConn reads frames sequentially and hands each request to its own goroutine.
func (s *Server) handleConn(id string, conn net.Conn) {
	logger := s.logger.With(zap.String("conn", id), zap.Stringer("remote", conn.RemoteAddr()))
	logger.Debug("connection opened")
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		_ = conn.Close()
		logger.Debug("connection closed")
		s.readers.Done()
	}()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !s.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			return
		}
		s.requests.Add(1)
		s.mu.Unlock()

		go s.handleRequest(logger, conn, writeMu, header.Seq, body)
	}
}

func (s *Server) handleRequest(logger *zap.Logger, conn net.Conn, writeMu *sync.Mutex, seq uint32, body []byte) {
	defer s.requests.Done()

	reply := s.dispatcher.Serve(s.baseCtx, bytes.NewReader(body), s.handler)

	buf := bufferpool.Pool.Get()
	defer bufferpool.Pool.Put(buf)
	if err := s.dispatcher.EncodeReply(buf, reply); err != nil {
		logger.Error("cannot encode reply", zap.Uint32("seq", seq), zap.Error(err))
		return
	}

	header := &protocol.Header{
		MsgType: protocol.MsgTypeReply,
		Seq:     seq,
		BodyLen: uint32(buf.Len()),
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, header, buf.Bytes()); err != nil {
		logger.Debug("cannot write reply", zap.Uint32("seq", seq), zap.Error(err))
	}
}

// Shutdown stops the server gracefully:
//  1. deregister, so clients stop picking this server
//  2. close the listener
//  3. wait for in-flight requests until ctx is done
//  4. close the remaining connections and the reverse channel
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	var err error
	if s.registry != nil && listener != nil {
		err = multierr.Append(err, s.registry.Deregister(ctx, s.service, s.advertiseAddr))
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	s.mu.Unlock()
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.requests.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	s.cancel()

	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.readers.Wait()

	err = multierr.Append(err, s.callback.Close())
	s.logger.Info("bridge stopped", zap.Error(err))
	return err
}
