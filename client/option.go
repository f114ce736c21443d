package client

import (
	"time"

	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/loadbalance"
)

// Option configures a Client.
type Option interface {
	Apply(*Client)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements Option.
type OptionFunc func(*Client)

func (f OptionFunc) Apply(c *Client) {
	f(c)
}

// WithBalancer sets the instance selection strategy. The default pins the
// client to one server with a consistent hash of its session id.
func WithBalancer(b loadbalance.Balancer) Option {
	return OptionFunc(func(c *Client) {
		c.balancer = b
	})
}

// WithService sets the discovered service name.
func WithService(name string) Option {
	return OptionFunc(func(c *Client) {
		c.service = name
	})
}

// WithBinder registers opaque arguments with binder so they travel as handles.
func WithBinder(binder codec.Binder) Option {
	return OptionFunc(func(c *Client) {
		c.binder = binder
	})
}

// WithPoolSize sets how many connections are kept per server.
func WithPoolSize(n int) Option {
	return OptionFunc(func(c *Client) {
		if n > 0 {
			c.poolSize = n
		}
	})
}

// WithDialRetries sets how many times a connection attempt is made before a call fails.
func WithDialRetries(n int) Option {
	return OptionFunc(func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	})
}

// WithThreadID sets the thread id sent with every request.
func WithThreadID(id int32) Option {
	return OptionFunc(func(c *Client) {
		c.threadID = id
	})
}

// WithHeartbeat sets the heartbeat interval of pooled connections.
func WithHeartbeat(interval time.Duration) Option {
	return OptionFunc(func(c *Client) {
		c.heartbeat = interval
	})
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(c *Client) {
		c.logger = logger
	})
}
