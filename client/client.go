// Package client calls a bridge server from Go.
//
// A Client discovers servers through a registry.Registry, picks one with a
// loadbalance.Balancer and multiplexes calls over a small pool of
// connections per server. Handles returned by the server come back as
// codec.Handle values and can be passed straight into later calls.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/loadbalance"
	"mini-bridge/message"
	"mini-bridge/registry"
	"mini-bridge/transport"
)

// ErrClosed is returned by calls on a closed Client.
var ErrClosed = errors.New("client: closed")

const (
	defaultPoolSize    = 2
	defaultDialRetries = 3
	maxDialDelay       = time.Second
)

// pool is the set of multiplexed connections to one server. Connections are
// shared, not borrowed, and used in turn.
type pool struct {
	mu    sync.Mutex
	conns []*transport.ClientTransport
	next  atomic.Uint32
}

// Client invokes methods on bridge servers.
type Client struct {
	registry  registry.Registry
	balancer  loadbalance.Balancer
	service   string
	session   string
	binder    codec.Binder
	logger    *zap.Logger
	poolSize  int
	threadID  int32
	heartbeat time.Duration
	retries   int
	dialer    net.Dialer

	mu     sync.Mutex
	pools  map[string]*pool
	closed atomic.Bool // set before Close takes any pool lock
}

// NewClient returns a Client resolving servers through reg.
func NewClient(reg registry.Registry, opts ...Option) *Client {
	c := &Client{
		registry:  reg,
		service:   registry.DefaultService,
		session:   uuid.NewString(),
		logger:    zap.NewNop(),
		poolSize:  defaultPoolSize,
		heartbeat: transport.DefaultHeartbeat,
		retries:   defaultDialRetries,
		pools:     make(map[string]*pool),
	}
	for _, opt := range opts {
		opt.Apply(c)
	}
	if c.balancer == nil {
		c.balancer = loadbalance.NewConsistentHash(c.session)
	}
	return c
}

// Session returns the id the default balancer pins this client with.
func (c *Client) Session() string {
	return c.session
}

func (c *Client) pool(addr string) (*pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, ErrClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = &pool{conns: make([]*transport.ClientTransport, c.poolSize)}
		c.pools[addr] = p
	}
	return p, nil
}

// transport returns a live connection to addr, dialling it if the slot is
// empty or its connection has died.
func (c *Client) transport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	p, err := c.pool(addr)
	if err != nil {
		return nil, err
	}
	slot := int(p.next.Inc() % uint32(len(p.conns)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.conns[slot]; t != nil {
		select {
		case <-t.Done():
		default:
			return t, nil
		}
	}
	var conn net.Conn
	retrier := retry.NewRetrier(c.retries, 50*time.Millisecond, maxDialDelay)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		conn, err = c.dialer.DialContext(ctx, "tcp", addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		_ = conn.Close()
		return nil, ErrClosed
	}
	t := transport.NewClientTransport(conn,
		transport.WithBinder(c.binder),
		transport.WithLogger(c.logger),
		transport.WithHeartbeat(c.heartbeat))
	p.conns[slot] = t
	c.logger.Debug("connected", zap.String("addr", addr), zap.Int("slot", slot))
	return t, nil
}

// Call sends req to a server and returns its reply. The error reports
// transport failures only; a failure reply is returned as is.
func (c *Client) Call(ctx context.Context, req *message.Request) (*message.Reply, error) {
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return nil, err
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, err
	}
	t, err := c.transport(ctx, instance.Addr)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, req)
}

func (c *Client) invoke(ctx context.Context, req *message.Request) (any, error) {
	req.ThreadID = c.threadID
	reply, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// CallStatic invokes the static member class.method.
func (c *Client) CallStatic(ctx context.Context, class, method string, args ...any) (any, error) {
	return c.invoke(ctx, &message.Request{IsStatic: true, ClassName: class, MethodName: method, Args: args})
}

// New constructs an instance of class and returns its handle.
func (c *Client) New(ctx context.Context, class string, args ...any) (any, error) {
	return c.invoke(ctx, &message.Request{ClassName: class, MethodName: message.ConstructorName, Args: args})
}

// CallMethod invokes method on target, usually a codec.Handle returned earlier.
func (c *Client) CallMethod(ctx context.Context, class string, target any, method string, args ...any) (any, error) {
	return c.invoke(ctx, &message.Request{
		ClassName:  class,
		MethodName: method,
		Args:       append([]any{target}, args...),
	})
}

// Release frees h on the server through the release entry point of class.
func (c *Client) Release(ctx context.Context, class string, h codec.Handle) error {
	_, err := c.CallStatic(ctx, class, "release", h.Key)
	return err
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}

	var err error
	for _, p := range c.pools {
		p.mu.Lock()
		for _, t := range p.conns {
			if t != nil {
				err = multierr.Append(err, t.Close())
			}
		}
		p.mu.Unlock()
	}
	return err
}
