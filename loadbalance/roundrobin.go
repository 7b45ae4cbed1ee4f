package loadbalance

import (
	"fmt"
	"sync/atomic"

	"github.com/sharpremote/sharpremote-go/registry"
)

// RoundRobinBalancer distributes dials evenly across all targets in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: stateless silos where all targets have similar capacity.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next target in round-robin order.
//
// A silo's dialer is expected to live for as long as the process, so the
// counter does eventually wrap int64. AddInt64 wraps to a negative value
// rather than overflowing, and Go's % on a negative dividend returns a
// negative result — masking the sign bit keeps the index in range instead
// of panicking with "index out of range" a few dials after the wrap.
func (b *RoundRobinBalancer) Pick(targets []registry.Target) (*registry.Target, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets available")
	}
	next := atomic.AddInt64(&b.counter, 1) & (1<<63 - 1)
	index := next % int64(len(targets))
	return &targets[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
