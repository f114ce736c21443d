package client

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/codec"
	"mini-bridge/dispatcher"
	"mini-bridge/internal/bridgetest"
	"mini-bridge/loadbalance"
	"mini-bridge/message"
	"mini-bridge/registry"
	"mini-bridge/tracker"
)

type counter struct {
	n int64
}

func (c *counter) Add(delta int64) int64 {
	c.n += delta
	return c.n
}

func newServer(t *testing.T) (string, *dispatcher.Dispatcher) {
	t.Helper()
	d := dispatcher.New(tracker.New())
	cat := d.Catalog()
	require.NoError(t, cat.RegisterStatic("Math", "add", func(a, b int32) int32 { return a + b }))
	require.NoError(t, cat.RegisterConstructor("Counter", func(start int64) *counter { return &counter{n: start} }))
	require.NoError(t, cat.RegisterStatic("Gateway", "release", func(key string) error {
		return d.Objects().Release(key)
	}))
	return bridgetest.Listen(t, d), d
}

func newClient(t *testing.T, addrs ...string) *Client {
	t.Helper()
	c := NewClient(registry.NewStatic(registry.DefaultService, addrs...), WithHeartbeat(0))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCallStatic(t *testing.T) {
	addr, _ := newServer(t)
	c := newClient(t, addr)
	ctx := context.Background()

	v, err := c.CallStatic(ctx, "Math", "add", int32(1), int32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	v, err = c.CallStatic(ctx, "Math", "add", int32(10), int32(20))
	require.NoError(t, err)
	assert.Equal(t, int32(30), v)
}

func TestClientHandles(t *testing.T) {
	addr, d := newServer(t)
	c := newClient(t, addr)
	ctx := context.Background()

	h, err := c.New(ctx, "Counter", int64(5))
	require.NoError(t, err)
	require.IsType(t, codec.Handle{}, h)

	v, err := c.CallMethod(ctx, "Counter", h, "add", int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
	assert.Equal(t, 1, d.Objects().Len())

	require.NoError(t, c.Release(ctx, "Gateway", h.(codec.Handle)))
	assert.Equal(t, 0, d.Objects().Len())

	_, err = c.CallMethod(ctx, "Counter", h, "add", int64(1))
	var remote *message.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, message.StatusUnknownReference, remote.Status)
}

func TestClientRemoteError(t *testing.T) {
	addr, _ := newServer(t)
	c := newClient(t, addr)

	_, err := c.CallStatic(context.Background(), "Math", "add", "one", "two")
	var remote *message.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, message.StatusNoSuchMethod, remote.Status)
}

func TestClientNoInstances(t *testing.T) {
	c := newClient(t)
	_, err := c.CallStatic(context.Background(), "Math", "add", int32(1), int32(2))
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestClientRedialsDeadConnection(t *testing.T) {
	addr, _ := newServer(t)
	c := NewClient(registry.NewStatic(registry.DefaultService, addr), WithPoolSize(1), WithHeartbeat(0))
	defer c.Close()
	ctx := context.Background()

	_, err := c.CallStatic(ctx, "Math", "add", int32(1), int32(1))
	require.NoError(t, err)

	p, err := c.pool(addr)
	require.NoError(t, err)
	p.mu.Lock()
	require.NoError(t, p.conns[0].Close())
	p.mu.Unlock()

	require.Eventually(t, func() bool {
		_, err := c.CallStatic(ctx, "Math", "add", int32(1), int32(1))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestClientClose(t *testing.T) {
	addr, _ := newServer(t)
	c := newClient(t, addr)

	_, err := c.CallStatic(context.Background(), "Math", "add", int32(1), int32(1))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.CallStatic(context.Background(), "Math", "add", int32(1), int32(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewClient(registry.NewStatic(registry.DefaultService, addr), WithDialRetries(2), WithHeartbeat(0))
	defer c.Close()
	_, err = c.CallStatic(context.Background(), "Math", "add", int32(1), int32(2))
	assert.Error(t, err)
}

func TestClientCloseDuringDial(t *testing.T) {
	addr, _ := newServer(t)
	c := NewClient(registry.NewStatic(registry.DefaultService, addr), WithPoolSize(1), WithHeartbeat(0))

	dialing := make(chan struct{})
	resume := make(chan struct{})
	c.dialer.Control = func(string, string, syscall.RawConn) error {
		close(dialing)
		<-resume
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.transport(context.Background(), addr)
		errc <- err
	}()
	<-dialing

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	require.Eventually(t, c.closed.Load, time.Second, time.Millisecond)
	close(resume)

	require.ErrorIs(t, <-errc, ErrClosed)
	require.NoError(t, <-closed)

	p := c.pools[addr]
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Nil(t, p.conns[0])
}
