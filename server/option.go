package server

import (
	"go.uber.org/zap"

	"mini-bridge/dispatcher"
	"mini-bridge/middleware"
	"mini-bridge/registry"
)

// Option configures a Server.
type Option interface {
	Apply(*Server)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements Option.
type OptionFunc func(*Server)

func (f OptionFunc) Apply(s *Server) {
	f(s)
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(s *Server) {
		s.logger = logger
	})
}

// WithDispatcher serves d instead of a fresh dispatcher with its own tracker.
func WithDispatcher(d *dispatcher.Dispatcher) Option {
	return OptionFunc(func(s *Server) {
		s.dispatcher = d
	})
}

// WithMiddleware appends middlewares, applied in order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return OptionFunc(func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	})
}

// WithBootstrapClass sets the class name connectCallback and release are served under.
func WithBootstrapClass(name string) Option {
	return OptionFunc(func(s *Server) {
		s.bootstrap = name
	})
}

// WithRegistry advertises the server in reg under advertiseAddr with a lease
// of ttl seconds. An empty advertiseAddr advertises the listener address.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return OptionFunc(func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	})
}

// WithService sets the service name advertised in the registry.
func WithService(name string) Option {
	return OptionFunc(func(s *Server) {
		s.service = name
	})
}
