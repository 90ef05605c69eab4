package config

import (
	"go.uber.org/zap"

	"mini-binder/registry"
)

// Open builds the configured registry: etcd when endpoints are listed,
// otherwise a static registry seeded with Static. The returned func releases it.
func (r *Registry) Open(logger *zap.Logger) (registry.Registry, func() error, error) {
	if len(r.Etcd) > 0 {
		etcd, err := registry.NewEtcdRegistry(r.Etcd, r.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return etcd, etcd.Close, nil
	}

	static := registry.NewStaticRegistry()
	for _, s := range r.Static {
		inst := registry.ServiceInstance{Network: s.Network, Addr: s.Addr, Weight: s.Weight}
		if err := static.Register(s.Name, inst, r.TTL); err != nil {
			return nil, nil, err
		}
	}
	return static, func() error { return nil }, nil
}
