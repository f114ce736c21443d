package loadbalance

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"mini-bridge/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps a fixed key onto a hash ring of the current
// instances, so every call carrying the same key reaches the same server
// while the instance set is stable. Each instance owns replicas virtual nodes.
//
// The ring is rebuilt whenever Pick sees a different instance set.
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu    sync.Mutex
	ident string
	ring  []uint64
	nodes map[uint64]string
}

var _ Balancer = (*ConsistentHashBalancer)(nil)

// NewConsistentHash returns a balancer pinning key to one instance.
func NewConsistentHash(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: defaultReplicas}
}

func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	ident := strings.Join(addrs, ",")
	if ident == b.ident && b.ring != nil {
		return
	}

	b.ident = ident
	b.ring = b.ring[:0]
	b.nodes = make(map[uint64]string, len(addrs)*b.replicas)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := xxh3.HashString(addr + "#" + strconv.Itoa(i))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuild(instances)
	hash := xxh3.HashString(b.key)
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, ErrNoInstances
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
