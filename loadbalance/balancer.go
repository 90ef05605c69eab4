// Package loadbalance picks which registered instance of a service a client
// attaches to when several server processes host the same name.
//
// Three strategies are implemented:
//   - RoundRobin:      spread successive connects evenly
//   - WeightedRandom:  favour instances with a higher weight
//   - ConsistentHash:  pin a client key to the same instance while the set is stable
package loadbalance

import (
	"github.com/pkg/errors"

	"mini-binder/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance per connect. Implementations must be
// goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer called name. key is only used by "consistent-hash".
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round-robin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random":
		return &WeightedRandomBalancer{}, nil
	case "consistent-hash":
		return NewConsistentHashBalancer(key), nil
	}
	return nil, errors.Errorf("unknown balancer %q", name)
}
