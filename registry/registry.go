// Package registry maps abstract service names to the addresses of the
// server processes hosting them.
package registry

// ServiceInstance is one reachable endpoint of a named service.
type ServiceInstance struct {
	Network string // "unix" or "tcp"
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
}
