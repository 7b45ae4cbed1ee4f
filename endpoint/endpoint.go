// Package endpoint implements the symmetric bidirectional connection: one
// state machine, one read pump, one write pump, and a bounded dispatch
// pool, fused from what would otherwise be a separate accept-side
// read/dispatch loop and a dial-side multiplexed write path into a single
// peer that both calls and is called, not a client and a server.
package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/heartbeat"
	"github.com/sharpremote/sharpremote-go/internal/errs"
	"github.com/sharpremote/sharpremote-go/internal/rlog"
	"github.com/sharpremote/sharpremote-go/middleware"
	"github.com/sharpremote/sharpremote-go/objectregistry"
	"github.com/sharpremote/sharpremote-go/pending"
	"github.com/sharpremote/sharpremote-go/serializer"
	"github.com/sharpremote/sharpremote-go/wire"
)

var log = rlog.Named("endpoint")

// State is one node of the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateDisconnecting
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// DefaultDispatchWorkers bounds concurrent incoming-call dispatch: a
// bounded worker pool, default 16, processes incoming Call frames so one
// slow servant cannot starve the rest.
const DefaultDispatchWorkers = 16

var handshakeMagic = [16]byte{'S', 'h', 'a', 'r', 'p', 'R', 'e', 'm', 'o', 't', 'e', 0, 0, 0, 0, 0}

const handshakeVersion uint16 = 1

// Options configures a new Endpoint.
type Options struct {
	Name            string // advertised during handshake
	DispatchWorkers int
	Serializer      serializer.Serializer
	Middlewares     []middleware.Middleware
	Heartbeat       heartbeat.Settings
	OnDisconnect    func(reason errs.EndPointDisconnectReason)
}

// DefaultOptions returns sensible defaults: binary serializer, 16 dispatch
// workers, no extra middleware, default heartbeat cadence.
func DefaultOptions(name string) Options {
	return Options{
		Name:            name,
		DispatchWorkers: DefaultDispatchWorkers,
		Serializer:      &serializer.Binary{},
		Heartbeat:       heartbeat.DefaultSettings(),
	}
}

// Endpoint is one side of a SharpRemote connection: it owns a registry, a
// pending-call table, and the two pumps that move frames across conn.
type Endpoint struct {
	opts     Options
	conn     net.Conn
	codec    *wire.Codec
	Registry *objectregistry.Registry
	pendingQ *pending.Queue
	handler  middleware.HandlerFunc

	state        atomic.Int32
	peerName     string
	disconnectReason errs.EndPointDisconnectReason

	hb *heartbeat.Supervisor

	dispatchSem chan struct{}
	localOut    chan *wire.Frame // responses + heartbeat replies, merged with pendingQ's outbound calls

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires a fresh Endpoint around conn but does not yet perform the
// handshake; call Connect to do that and start the pumps.
func New(conn net.Conn, opts Options) *Endpoint {
	if opts.DispatchWorkers <= 0 {
		opts.DispatchWorkers = DefaultDispatchWorkers
	}
	if opts.Serializer == nil {
		opts.Serializer = &serializer.Binary{}
	}

	e := &Endpoint{
		opts:        opts,
		conn:        conn,
		codec:       wire.NewCodec(),
		Registry:    objectregistry.New(),
		pendingQ:    pending.New(),
		dispatchSem: make(chan struct{}, opts.DispatchWorkers),
		localOut:    make(chan *wire.Frame, opts.DispatchWorkers),
		stopCh:      make(chan struct{}),
	}
	e.handler = middleware.Chain(opts.Middlewares...)(e.invokeServant)
	e.state.Store(int32(StateDisconnected))

	// Every endpoint answers heartbeat probes against the reserved Heartbeat
	// grain without the caller having to register anything.
	_, _ = e.Registry.CreateServant(grain.Heartbeat, "Heartbeat", struct{}{}, heartbeatInvoker{})

	return e
}

// heartbeatInvoker answers every heartbeat probe with an empty reply; the
// round trip itself is the liveness signal, not the payload.
type heartbeatInvoker struct{}

func (heartbeatInvoker) Invoke(method string, r interface{ Read([]byte) (int, error) }, w interface{ Write([]byte) (int, error) }) error {
	return nil
}

// State returns the endpoint's current lifecycle state.
func (e *Endpoint) State() State { return State(e.state.Load()) }

func (e *Endpoint) setState(s State) { e.state.Store(int32(s)) }

// Connect performs the handshake and starts the read/write pumps and
// heartbeat supervisor. Both peers of a freshly dialed/accepted conn must
// call this.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.setState(StateConnecting)
	e.setState(StateHandshaking)

	// Write our half while reading the peer's: on an unbuffered conn such as
	// net.Pipe, both sides writing first would block each other forever.
	writeErr := make(chan error, 1)
	go func() { writeErr <- e.writeHandshake() }()
	peerName, err := e.readHandshake()
	if err != nil {
		e.fault(errs.DisconnectHandshakeFailure)
		return fmt.Errorf("read handshake: %w", err)
	}
	if err := <-writeErr; err != nil {
		e.fault(errs.DisconnectHandshakeFailure)
		return fmt.Errorf("write handshake: %w", err)
	}
	e.peerName = peerName

	e.setState(StateConnected)
	log.Infow("endpoint connected", "local", e.opts.Name, "remote", peerName)

	e.wg.Add(3)
	go e.readPump()
	go e.writePump()
	go e.forwardOutgoingCalls()

	e.hb = heartbeat.New(e.opts.Heartbeat, e, nil, e.onHeartbeatFailure)
	e.hb.Start()

	return nil
}

func (e *Endpoint) writeHandshake() error {
	buf := make([]byte, 0, 16+2+2+len(e.opts.Name))
	buf = append(buf, handshakeMagic[:]...)
	buf = append(buf, byte(handshakeVersion), byte(handshakeVersion>>8))
	nameLen := uint16(len(e.opts.Name))
	buf = append(buf, byte(nameLen), byte(nameLen>>8))
	buf = append(buf, e.opts.Name...)
	_, err := e.conn.Write(buf)
	return err
}

func (e *Endpoint) readHandshake() (string, error) {
	header := make([]byte, 16+2+2)
	if _, err := fillBuffer(e.conn, header); err != nil {
		return "", err
	}
	for i := 0; i < 16; i++ {
		if header[i] != handshakeMagic[i] {
			return "", fmt.Errorf("%w: bad handshake magic", errs.ErrHandshakeFailure)
		}
	}
	version := uint16(header[16]) | uint16(header[17])<<8
	if version != handshakeVersion {
		return "", fmt.Errorf("%w: unsupported handshake version %d", errs.ErrHandshakeFailure, version)
	}
	nameLen := uint16(header[18]) | uint16(header[19])<<8
	name := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := fillBuffer(e.conn, name); err != nil {
			return "", err
		}
	}
	return string(name), nil
}

func fillBuffer(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PeerName returns the name the remote endpoint advertised during handshake.
func (e *Endpoint) PeerName() string { return e.peerName }

// SetOnDisconnect installs the callback fired when the endpoint faults,
// replacing whatever was set in Options. Callers needing to observe
// disconnects after construction (e.g. a silo wrapping a dialed endpoint)
// use this instead of threading the callback through DefaultOptions.
func (e *Endpoint) SetOnDisconnect(fn func(reason errs.EndPointDisconnectReason)) {
	e.opts.OnDisconnect = fn
}

func (e *Endpoint) readPump() {
	defer e.wg.Done()
	for {
		frame, err := e.codec.Decode(e.conn)
		if err != nil {
			e.handleReadFailure(err)
			return
		}
		e.dispatchFrame(frame)
	}
}

func (e *Endpoint) handleReadFailure(err error) {
	reason := errs.DisconnectReadFailure
	if errors.Is(err, net.ErrClosed) {
		reason = errs.DisconnectRequestedByEndPoint
	}
	e.fault(reason)
}

func (e *Endpoint) dispatchFrame(f *wire.Frame) {
	switch {
	case f.Type.Has(wire.Goodbye):
		e.fault(errs.DisconnectRequestedByRemoteEndPoint)
	case f.Type.Has(wire.Return):
		kind := pending.KindReturn
		if f.Type.Has(wire.Exception) {
			kind = pending.KindException
		}
		e.pendingQ.HandleResponse(grain.RpcID(f.RpcID), kind, f.Payload)
	case f.Type.Has(wire.Call):
		e.scheduleDispatch(f)
	}
}

// scheduleDispatch admits f into the bounded worker pool; the semaphore
// blocks new dispatch goroutines (not the read pump itself, which continues
// draining the socket) once Options.DispatchWorkers calls are in flight.
func (e *Endpoint) scheduleDispatch(f *wire.Frame) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case e.dispatchSem <- struct{}{}:
		case <-e.stopCh:
			return
		}
		defer func() { <-e.dispatchSem }()
		e.runDispatch(f)
	}()
}

func (e *Endpoint) runDispatch(f *wire.Frame) {
	call := &middleware.Call{
		RpcID:     grain.RpcID(f.RpcID),
		ServantID: f.ServantID,
		Interface: f.Interface,
		Method:    f.Method,
		Args:      f.Payload,
	}
	result := e.handler(context.Background(), call)

	reply := &wire.Frame{RpcID: f.RpcID, Type: wire.Return, ServantID: f.ServantID, Interface: f.Interface, Method: f.Method}
	if result.Err != nil {
		reply.Type |= wire.Exception
		reply.Payload = exceptionPayload(result.Err)
	} else {
		reply.Payload = result.Payload
	}
	e.sendLocal(reply)
}

// exceptionPayload turns a dispatch error into wire bytes. A RemoteException
// or UnserializableException already carries a stable textual form via
// Error(); both marshal identically here because the wire-level distinction
// a full interface-descriptor system would need is out of scope — the
// byte-serializer contract only prescribes primitive + reference encoding,
// not exception taxonomy encoding.
func exceptionPayload(err error) []byte {
	return []byte(err.Error())
}

func (e *Endpoint) invokeServant(ctx context.Context, call *middleware.Call) *middleware.Result {
	servant, err := e.Registry.LookupServant(grain.ID(call.ServantID))
	if err != nil {
		return &middleware.Result{Err: err}
	}
	r := bytes.NewReader(call.Args)
	w := new(bytes.Buffer)
	if err := servant.Invoke(call.Method, r, w); err != nil {
		return &middleware.Result{Err: err}
	}
	return &middleware.Result{Payload: w.Bytes()}
}

// sendLocal hands a locally-originated frame (a Return, or a heartbeat
// reply) to the write pump. It never blocks the caller indefinitely: a full
// buffer means the connection is already wedged, in which case the read
// pump's own failure path will fault the endpoint shortly.
func (e *Endpoint) sendLocal(f *wire.Frame) {
	select {
	case e.localOut <- f:
	case <-e.stopCh:
	}
}

// writePump is the connection's sole writer: every outgoing byte, whether a
// call this endpoint is placing or a reply to one the peer placed, passes
// through localOut so frames are never interleaved on the wire.
func (e *Endpoint) writePump() {
	defer e.wg.Done()
	for {
		select {
		case frame := <-e.localOut:
			if err := e.codec.Encode(e.conn, frame); err != nil {
				e.fault(errs.DisconnectReadFailure)
				return
			}
		case <-e.stopCh:
			return
		}
	}
}

// forwardOutgoingCalls feeds pending.Queue's write-pump FIFO into localOut,
// funneling it through the same single-writer channel as local responses.
func (e *Endpoint) forwardOutgoingCalls() {
	defer e.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.stopCh
		cancel()
	}()
	for {
		f, err := e.pendingQ.TakeNextWrite(ctx)
		if err != nil {
			return
		}
		e.sendLocal(f)
	}
}

// Call issues an outgoing RPC against servantID.method on the peer and
// blocks until the response arrives, ctx is cancelled, or the connection is
// lost. It fails with ErrNotConnected when the endpoint is not Connected.
// Callers must invoke Recycle on the returned Call once its payload has
// been consumed.
func (e *Endpoint) Call(ctx context.Context, servantID grain.ID, iface, method string, args []byte) (*pending.Call, error) {
	if e.State() != StateConnected {
		return nil, errs.ErrNotConnected
	}
	call, err := e.pendingQ.Enqueue(ctx, servantID.Uint64(), iface, method, args)
	if err != nil {
		return nil, err
	}
	if err := call.Wait(ctx); err != nil {
		return call, err
	}
	return call, nil
}

// Recycle returns a completed Call's admission slot to the pool.
func (e *Endpoint) Recycle(call *pending.Call) { e.pendingQ.Recycle(call) }

// ProbeHeartbeat implements heartbeat.Prober by round-tripping an empty Call
// frame against the peer's reserved Heartbeat grain.
func (e *Endpoint) ProbeHeartbeat(ctx context.Context) error {
	call, err := e.pendingQ.Enqueue(ctx, grain.Heartbeat.Uint64(), "", "", nil)
	if err != nil {
		return err
	}
	defer e.pendingQ.Recycle(call)
	if err := call.Wait(ctx); err != nil {
		return err
	}
	if call.ResponseKind == pending.KindException {
		return errs.ErrConnectionLost
	}
	return nil
}

// onHeartbeatFailure runs on the supervisor's own goroutine; fault stops the
// supervisor and waits for that goroutine to exit, so it runs separately.
func (e *Endpoint) onHeartbeatFailure() {
	go e.fault(errs.DisconnectUnhandledException)
}

// fault transitions the endpoint to Faulted exactly once, cancels every
// pending call with ErrConnectionLost, stops the pumps, and invokes
// OnDisconnect.
func (e *Endpoint) fault(reason errs.EndPointDisconnectReason) {
	e.stopOnce.Do(func() {
		e.setState(StateFaulted)
		e.disconnectReason = reason
		e.pendingQ.CancelAll(errs.ErrConnectionLost)
		close(e.stopCh)
		_ = e.conn.Close()
		if e.hb != nil {
			e.hb.Stop()
		}
		log.Warnw("endpoint faulted", "reason", reason)
		if e.opts.OnDisconnect != nil {
			e.opts.OnDisconnect(reason)
		}
	})
}

// DisconnectReason returns the reason the endpoint last disconnected, valid
// once State() is StateFaulted or StateDisconnected.
func (e *Endpoint) DisconnectReason() errs.EndPointDisconnectReason { return e.disconnectReason }

// Done returns a channel that closes once the endpoint has faulted or been
// closed, letting a host process block until its single peer goes away.
func (e *Endpoint) Done() <-chan struct{} { return e.stopCh }

// Close performs a graceful Goodbye handshake: notify the peer, then tear
// down the pumps the same way a fault would. Close on an already-faulted
// endpoint is a no-op.
func (e *Endpoint) Close(ctx context.Context) error {
	if e.State() != StateConnected {
		return nil
	}
	e.setState(StateDisconnecting)
	goodbye := &wire.Frame{Type: wire.Goodbye}
	select {
	case e.localOut <- goodbye:
	case <-time.After(time.Second):
	}
	e.fault(errs.DisconnectRequestedByEndPoint)
	e.wg.Wait()
	return nil
}
