// Package grain defines the two id spaces the remoting runtime allocates
// per endpoint: GrainId for remotely addressable objects (servants/proxies)
// and RpcId for in-flight calls.
package grain

import "sync/atomic"

// ID identifies a remotely addressable object (a grain). The two highest
// values are reserved; user-allocated ids start at 0 (one past SubjectHost,
// wrapping around) and count up, away from both reserved ids.
type ID uint64

const (
	// SubjectHost is the reserved grain id of the servant that exposes
	// remote operations to instantiate further servants.
	SubjectHost ID = 1<<64 - 1
	// Heartbeat is the reserved grain id of the liveness-probe servant.
	Heartbeat ID = 1<<64 - 2
)

// Allocator hands out monotonically increasing grain ids, one allocator per
// endpoint.
type Allocator struct {
	next uint64
}

// NewAllocator returns an allocator whose first Next() call returns 0,
// counting up from there.
func NewAllocator() *Allocator {
	return &Allocator{next: uint64(SubjectHost)}
}

// Next returns the next unused grain id for this endpoint.
func (a *Allocator) Next() ID {
	return ID(atomic.AddUint64(&a.next, 1))
}

// Uint64 returns the wire representation of id.
func (id ID) Uint64() uint64 { return uint64(id) }

// RpcID uniquely identifies one outstanding call, monotonically increasing
// per endpoint.
type RpcID int64

// RpcIDAllocator hands out strictly increasing RpcIDs, safe for concurrent
// use by multiple caller goroutines.
type RpcIDAllocator struct {
	next int64
}

// Next returns the next RpcID, starting at 1.
func (a *RpcIDAllocator) Next() RpcID {
	return RpcID(atomic.AddInt64(&a.next, 1))
}
