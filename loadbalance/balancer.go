// Package loadbalance picks the bridge server a client talks to.
//
// Handles are only meaningful on the server that issued them, so a client
// that passes handles around should use the ConsistentHash strategy keyed by
// its session id. RoundRobin and WeightedRandom suit clients that only make
// static calls.
package loadbalance

import (
	"errors"

	"mini-bridge/registry"
)

// ErrNoInstances is returned by Pick when the instance list is empty.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer chooses one instance per call. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}
