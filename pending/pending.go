// Package pending implements the send-side multiplexer and response-waiter
// registry: an explicit enqueue/take/handle/cancel/recycle operation set
// backing a bounded outbound FIFO, since this runtime's write pump is a
// separate goroutine that must be fed from a queue rather than writing
// synchronously under a single mutex.
package pending

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/internal/errs"
	"github.com/sharpremote/sharpremote-go/wire"
)

// MaxInFlight is the soft cap on concurrent outstanding calls; callers
// enqueuing beyond it block until a prior call completes and is recycled.
const MaxInFlight = 1000

// ResponseKind distinguishes a plain Return from a Return|Exception, kept
// separate from wire.MessageType so callers don't need to import wire to
// inspect a completed call.
type ResponseKind int

const (
	KindNone ResponseKind = iota
	KindReturn
	KindException
)

// Call is the record of one outstanding call. Enqueue allocates a fresh Call
// each time; the caller passes it to Recycle once its response has been
// consumed. Records are not reused.
type Call struct {
	RpcID         grain.RpcID
	ServantID     uint64
	Interface     string
	Method        string
	Args          []byte
	done          chan struct{}
	ResponseKind  ResponseKind
	ResponsePayload []byte
	// completed guards against double-closing done when CancelAll and
	// HandleResponse race for the same call.
	completed bool
}

// Wait blocks until the call completes (response received or connection
// lost) or ctx is cancelled.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outbound is one write-pump job: an already-framed call ready for the wire.
type outbound struct {
	frame *wire.Frame
}

// Queue is the pending-methods queue: one per endpoint.
type Queue struct {
	ids grain.RpcIDAllocator

	mu    sync.Mutex
	table map[grain.RpcID]*Call
	admit chan struct{} // soft cap semaphore, buffered to MaxInFlight

	writeCh chan outbound
}

// New returns an empty Queue with the default in-flight cap.
func New() *Queue {
	return &Queue{
		table:   make(map[grain.RpcID]*Call),
		admit:   make(chan struct{}, MaxInFlight),
		writeCh: make(chan outbound, MaxInFlight),
	}
}

// Enqueue allocates an rpc id, registers a waiter, and hands the frame to
// the write pump. It blocks if MaxInFlight calls are already outstanding,
// until one drains via Recycle.
func (q *Queue) Enqueue(ctx context.Context, servantID uint64, iface, method string, args []byte) (*Call, error) {
	select {
	case q.admit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	id := q.ids.Next()
	call := &Call{
		RpcID:     id,
		ServantID: servantID,
		Interface: iface,
		Method:    method,
		Args:      args,
		done:      make(chan struct{}),
	}

	q.mu.Lock()
	q.table[id] = call
	q.mu.Unlock()

	f := &wire.Frame{
		RpcID:     int64(id),
		Type:      wire.Call,
		ServantID: servantID,
		Interface: iface,
		Method:    method,
		Payload:   args,
	}

	select {
	case q.writeCh <- outbound{frame: f}:
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.table, id)
		q.mu.Unlock()
		<-q.admit
		return nil, ctx.Err()
	}

	return call, nil
}

// TakeNextWrite is consumed by the write pump: it blocks until a call is
// ready to send or ctx is cancelled.
func (q *Queue) TakeNextWrite(ctx context.Context) (*wire.Frame, error) {
	select {
	case job := <-q.writeCh:
		return job.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleResponse is consumed by the read pump. It returns true if an
// outstanding call matched rpcID; unmatched responses are not fatal — they
// typically arise from a race with cancellation.
func (q *Queue) HandleResponse(rpcID grain.RpcID, kind ResponseKind, payload []byte) bool {
	q.mu.Lock()
	call, ok := q.table[rpcID]
	if ok {
		delete(q.table, rpcID)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}

	q.completeOnce(call, kind, payload)
	return true
}

// completeOnce fills the call's response exactly once, whichever of
// HandleResponse/CancelAll reaches it first; the second caller is a no-op.
// This channels cancellation through the same waiter-signal path as real
// responses, making the race between a late response and a cancellation
// deterministic.
func (q *Queue) completeOnce(call *Call, kind ResponseKind, payload []byte) {
	q.mu.Lock()
	already := call.completed
	if !already {
		call.completed = true
		call.ResponseKind = kind
		call.ResponsePayload = payload
	}
	q.mu.Unlock()
	if !already {
		close(call.done)
	}
}

// CancelAll replaces every pending call's response with a synthesized
// Return|Exception carrying reason (ErrConnectionLost when nil), and wakes
// every waiter. The endpoint calls it from its fault path, which may run
// while the read pump is still reading; completeOnce makes whichever of
// HandleResponse and CancelAll reaches a call first win.
func (q *Queue) CancelAll(reason error) {
	if reason == nil {
		reason = errs.ErrConnectionLost
	}
	q.mu.Lock()
	calls := make([]*Call, 0, len(q.table))
	for id, c := range q.table {
		calls = append(calls, c)
		delete(q.table, id)
	}
	q.mu.Unlock()

	payload := []byte(fmt.Sprintf("%v", reason))
	for _, c := range calls {
		q.completeOnce(c, KindException, payload)
	}
}

// Recycle releases call's admission slot once the caller has consumed the
// response, and clears the call's response fields; the Call itself is not
// pooled or handed out again.
func (q *Queue) Recycle(call *Call) {
	call.done = nil
	call.ResponsePayload = nil
	call.completed = false
	<-q.admit
}

// InFlight reports the number of calls currently outstanding — used by
// tests asserting the pending table drains to empty after CancelAll
//.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.table)
}
