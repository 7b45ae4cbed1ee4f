package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/registry"
)

// ConsistentHashBalancer picks a target by hashing a key onto a ring built
// fresh from the current target list on every call, so it stays correct
// across a Dialer's repeated registry.Discover results without the caller
// maintaining a separate membership set. Its main use is PickForGrain:
// pinning a stateful grain to the same target across dials, as long as the
// target set stays stable, instead of letting it bounce to a different
// silo on every call.
//
// Virtual nodes: each target gets N positions on the ring so a small
// target set doesn't cluster unevenly. 100 virtual nodes per target is
// enough for statistical uniformity without a large ring.
type ConsistentHashBalancer struct {
	replicas int
}

// NewConsistentHashBalancer returns a balancer with 100 virtual nodes per
// target.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// buildRing hashes every target's virtual nodes into a sorted ring. Each
// virtual node is hashed from "{addr}#{i}" to spread evenly.
func (b *ConsistentHashBalancer) buildRing(targets []registry.Target) ([]uint32, map[uint32]*registry.Target) {
	ring := make([]uint32, 0, len(targets)*b.replicas)
	nodes := make(map[uint32]*registry.Target, len(targets)*b.replicas)
	for i := range targets {
		for v := 0; v < b.replicas; v++ {
			key := fmt.Sprintf("%s#%d", targets[i].Addr, v)
			hash := crc32.ChecksumIEEE([]byte(key))
			ring = append(ring, hash)
			nodes[hash] = &targets[i]
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })
	return ring, nodes
}

// pick hashes key, then binary-searches for the first ring node >= that
// hash, wrapping around to the first node if the hash exceeds every node
// (ring property).
func (b *ConsistentHashBalancer) pick(targets []registry.Target, key string) (*registry.Target, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets available")
	}
	ring, nodes := b.buildRing(targets)
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return nodes[ring[idx]], nil
}

// Pick satisfies Balancer for callers with no affinity key, hashing a
// constant key so the choice is still stable for a given target set.
func (b *ConsistentHashBalancer) Pick(targets []registry.Target) (*registry.Target, error) {
	return b.pick(targets, "")
}

// PickForGrain returns the target responsible for id, giving that grain
// affinity to the same target across dials as long as targets is stable.
func (b *ConsistentHashBalancer) PickForGrain(targets []registry.Target, id grain.ID) (*registry.Target, error) {
	return b.pick(targets, fmt.Sprintf("grain#%d", id.Uint64()))
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
