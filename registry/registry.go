// Package registry lets bridge servers advertise themselves and clients find them.
package registry

import "context"

// DefaultService is the service name bridge servers advertise under.
const DefaultService = "bridge"

// ServiceInstance is one reachable bridge server.
type ServiceInstance struct {
	Addr    string
	Weight  int // relative share for weighted load balancing
	Version string
}

// Registry is a discovery backend.
type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
