// Package loadbalance selects among several dialable targets for a logical
// endpoint name.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless silos, equal-capacity targets
//   - WeightedRandom:  Heterogeneous targets (different CPU/memory)
//   - ConsistentHash:  Stateful silos a specific grain should keep dialing,
//     so long as the target set is stable
package loadbalance

import (
	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/registry"
)

// Balancer selects one target from the available list. A dialer calls Pick
// before each Dial — implementations must be goroutine-safe.
type Balancer interface {
	Pick(targets []registry.Target) (*registry.Target, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// AffinityBalancer is a Balancer that can additionally pin a specific grain
// to the same target across repeated dials, as long as the advertised
// target set doesn't change underneath it. Only ConsistentHashBalancer
// implements this today.
type AffinityBalancer interface {
	Balancer

	PickForGrain(targets []registry.Target, id grain.ID) (*registry.Target, error)
}
