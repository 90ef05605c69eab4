package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"mini-binder/registry"
)

// ConsistentHashBalancer maps a fixed client key onto a hash ring of
// instances, so a client keeps attaching to the same server process for as
// long as the instance set does not change.
//
// Each real instance is placed on the ring as replicas virtual nodes hashed
// from "{addr}#{i}", which keeps the distribution even with few instances.
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu    sync.Mutex
	ident string   // joined addresses the ring was built from
	ring  []uint32 // sorted hash values
	nodes map[uint32]string
}

// NewConsistentHashBalancer creates a balancer for key with 100 virtual nodes
// per instance.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
	}
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
	b.nodes = make(map[uint32]string, len(addrs)*b.replicas)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick hashes the key and walks clockwise to the first virtual node, wrapping
// to the start of the ring past the largest hash.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuild(instances)
	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
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
	return &instances[0], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
