// Package errs defines the sentinel error values and failure taxonomies
// shared across the remoting runtime, so callers can distinguish failure
// classes with errors.Is/errors.As instead of matching message text.
package errs

import "errors"

// Sentinel errors surfaced to callers.
var (
	// ErrNoSuchServant is returned when a call targets a grain id with no
	// live servant on the peer.
	ErrNoSuchServant = errors.New("sharpremote: no such servant")

	// ErrNotConnected is returned when a proxy is invoked while the
	// endpoint's state is not Connected.
	ErrNotConnected = errors.New("sharpremote: endpoint not connected")

	// ErrConnectionLost is returned to every pending call still in flight
	// when the connection fails.
	ErrConnectionLost = errors.New("sharpremote: connection lost")

	// ErrHandshakeFailure is returned when the initial handshake negotiation
	// fails (magic/version mismatch or timeout).
	ErrHandshakeFailure = errors.New("sharpremote: handshake failure")

	// ErrDuplicateID is returned by the object registry when a grain id is
	// already present in either table.
	ErrDuplicateID = errors.New("sharpremote: duplicate grain id")
)

// UnserializableException describes a servant exception that could not be
// marshalled back to the caller. The runtime substitutes this descriptor so
// the caller still has actionable information about what went wrong.
type UnserializableException struct {
	OriginalTypename string
	OriginalMessage  string
	OriginalStack    string
	Source           string
	TargetSite       string
	HResult          int32
}

func (e *UnserializableException) Error() string {
	if e.OriginalTypename == "" {
		return "sharpremote: unserializable exception: " + e.OriginalMessage
	}
	return "sharpremote: unserializable exception (" + e.OriginalTypename + "): " + e.OriginalMessage
}

// RemoteException wraps a servant-thrown error that *could* be marshalled;
// TypeName lets the caller reconstruct/compare against the original type.
type RemoteException struct {
	TypeName string
	Message  string
}

func (e *RemoteException) Error() string {
	return "sharpremote: remote exception (" + e.TypeName + "): " + e.Message
}

// EndPointDisconnectReason classifies why an endpoint transitioned out of
// Connected.
type EndPointDisconnectReason int

const (
	DisconnectNone EndPointDisconnectReason = iota
	DisconnectReadFailure
	DisconnectRPCInvalidResponse
	DisconnectRequestedByEndPoint
	DisconnectRequestedByRemoteEndPoint
	DisconnectUnhandledException
	DisconnectHandshakeFailure
)

func (r EndPointDisconnectReason) String() string {
	switch r {
	case DisconnectReadFailure:
		return "ReadFailure"
	case DisconnectRPCInvalidResponse:
		return "RpcInvalidResponse"
	case DisconnectRequestedByEndPoint:
		return "RequestedByEndPoint"
	case DisconnectRequestedByRemoteEndPoint:
		return "RequestedByRemoteEndPoint"
	case DisconnectUnhandledException:
		return "UnhandledException"
	case DisconnectHandshakeFailure:
		return "HandshakeFailure"
	default:
		return "None"
	}
}

// OutOfProcessSiloFaultReason is the fault reason a silo reports, derived
// deterministically from an EndPointDisconnectReason. A heartbeat failure
// reaches the silo as DisconnectUnhandledException and is reported as
// FaultUnhandledException; SiloFaultFromDisconnect never returns
// FaultHeartbeatFailure.
type OutOfProcessSiloFaultReason int

const (
	FaultNone OutOfProcessSiloFaultReason = iota
	FaultConnectionFailure
	FaultConnectionClosed
	FaultUnhandledException
	FaultHeartbeatFailure
)

func (r OutOfProcessSiloFaultReason) String() string {
	switch r {
	case FaultConnectionFailure:
		return "ConnectionFailure"
	case FaultConnectionClosed:
		return "ConnectionClosed"
	case FaultUnhandledException:
		return "UnhandledException"
	case FaultHeartbeatFailure:
		return "HeartbeatFailure"
	default:
		return "None"
	}
}

// SiloFaultFromDisconnect maps an endpoint disconnect reason to the silo
// fault reason it must surface.
func SiloFaultFromDisconnect(reason EndPointDisconnectReason) OutOfProcessSiloFaultReason {
	switch reason {
	case DisconnectReadFailure, DisconnectRPCInvalidResponse:
		return FaultConnectionFailure
	case DisconnectRequestedByEndPoint, DisconnectRequestedByRemoteEndPoint:
		return FaultConnectionClosed
	case DisconnectUnhandledException, DisconnectHandshakeFailure:
		return FaultUnhandledException
	default:
		return FaultNone
	}
}
