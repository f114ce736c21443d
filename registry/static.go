package registry

import (
	"context"
	"sync"
)

// StaticRegistry is an in-process Registry, used for direct connections such
// as the reverse callback channel and in tests. TTLs are ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

var _ Registry = (*StaticRegistry)(nil)

// NewStatic returns a StaticRegistry that resolves serviceName to addrs.
func NewStatic(serviceName string, addrs ...string) *StaticRegistry {
	r := &StaticRegistry{instances: make(map[string][]ServiceInstance)}
	for _, addr := range addrs {
		r.instances[serviceName] = append(r.instances[serviceName], ServiceInstance{Addr: addr, Weight: 1})
	}
	return r
}

func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == instance.Addr {
			insts[i] = instance
			return nil
		}
	}
	r.instances[serviceName] = append(insts, instance)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ServiceInstance(nil), r.instances[serviceName]...), nil
}

// Watch emits the current instance list once; a static registry never changes on its own.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	instances, _ := r.Discover(ctx, serviceName)
	ch <- instances
	close(ch)
	return ch
}
