// Package callback holds the bootstrap entry points every bridge exposes and
// the reverse channel back to the remote side.
//
// The remote side announces where it listens with connectCallback(host, port).
// Go code may then invoke methods over there through Manager.Call; local
// objects passed as arguments travel as handles registered in the local
// tracker, so the remote side can call back into them.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mini-bridge/client"
	"mini-bridge/dispatcher"
	"mini-bridge/loadbalance"
	"mini-bridge/registry"
	"mini-bridge/tracker"
)

// ErrNotConnected is returned by Call before a callback endpoint is known,
// or after the remote side announced port 0.
var ErrNotConnected = errors.New("callback: no reverse channel")

// Bootstrap entry point names.
const (
	ConnectMethod = "connectCallback"
	ReleaseMethod = "release"
)

// Manager owns the reverse channel.
type Manager struct {
	objects *tracker.Tracker
	logger  *zap.Logger

	mu       sync.Mutex
	endpoint string
	client   *client.Client
}

// NewManager returns a Manager that registers outgoing opaque values in objects.
func NewManager(objects *tracker.Tracker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{objects: objects, logger: logger}
}

// Install registers connectCallback and release as static members of className.
func (m *Manager) Install(d *dispatcher.Dispatcher, className string) error {
	if err := d.Catalog().RegisterStatic(className, ConnectMethod, m.Connect); err != nil {
		return err
	}
	return d.Catalog().RegisterStatic(className, ReleaseMethod, func(key string) error {
		return d.Objects().Release(key)
	})
}

// Connect records host:port as the callback endpoint. Port 0 clears it.
// Any connection to a previous endpoint is closed.
func (m *Manager) Connect(host string, port int32) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("callback: invalid port %d", port)
	}

	m.mu.Lock()
	old := m.client
	m.client = nil
	m.endpoint = ""
	if port != 0 {
		m.endpoint = net.JoinHostPort(host, strconv.Itoa(int(port)))
	}
	endpoint := m.endpoint
	m.mu.Unlock()

	m.logger.Info("callback endpoint set", zap.String("endpoint", endpoint))
	if old != nil {
		return old.Close()
	}
	return nil
}

// Endpoint returns the current callback endpoint.
func (m *Manager) Endpoint() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint, m.endpoint != ""
}

// Client returns the client bound to the callback endpoint, creating it on first use.
func (m *Manager) Client() (*client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoint == "" {
		return nil, ErrNotConnected
	}
	if m.client == nil {
		m.client = client.NewClient(
			registry.NewStatic(registry.DefaultService, m.endpoint),
			client.WithBalancer(loadbalance.NewRoundRobin()),
			client.WithBinder(m.objects),
			client.WithPoolSize(1),
			client.WithLogger(m.logger))
	}
	return m.client, nil
}

// Call invokes the static member class.method on the remote side.
func (m *Manager) Call(ctx context.Context, class, method string, args ...any) (any, error) {
	c, err := m.Client()
	if err != nil {
		return nil, err
	}
	return c.CallStatic(ctx, class, method, args...)
}

// CallMethod invokes method on a remote object.
func (m *Manager) CallMethod(ctx context.Context, class string, target any, method string, args ...any) (any, error) {
	c, err := m.Client()
	if err != nil {
		return nil, err
	}
	return c.CallMethod(ctx, class, target, method, args...)
}

// Close drops the reverse channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}
