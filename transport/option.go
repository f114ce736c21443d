package transport

import (
	"time"

	"go.uber.org/zap"

	"mini-bridge/codec"
)

// Option configures a ClientTransport.
type Option interface {
	Apply(*ClientTransport)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements Option.
type OptionFunc func(*ClientTransport)

func (f OptionFunc) Apply(t *ClientTransport) {
	f(t)
}

// WithBinder registers opaque request arguments with binder.
// Without one, such arguments fail to encode.
func WithBinder(binder codec.Binder) Option {
	return OptionFunc(func(t *ClientTransport) {
		t.binder = binder
	})
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(t *ClientTransport) {
		t.logger = logger
	})
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return OptionFunc(func(t *ClientTransport) {
		t.heartbeat = interval
	})
}
