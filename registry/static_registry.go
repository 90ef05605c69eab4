package registry

import "sync"

// StaticRegistry keeps instances in memory. It serves single-host setups
// where client and server share a configuration file, and tests.
// Leases are not modelled: ttl is ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{instances: make(map[string][]ServiceInstance)}
}

// Register adds instance, replacing any existing entry with the same address.
func (r *StaticRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i := range insts {
		if insts[i].Addr == instance.Addr {
			insts[i] = instance
			return nil
		}
	}
	r.instances[serviceName] = append(insts, instance)
	return nil
}

func (r *StaticRegistry) Deregister(serviceName string, addr string) error {
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

// Discover returns a copy of the instances registered under serviceName.
func (r *StaticRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ServiceInstance(nil), r.instances[serviceName]...), nil
}
