package silo

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sharpremote/sharpremote-go/internal/errs"
)

func newTestSilo() *Silo {
	return &Silo{opts: Options{HandshakeTimeout: 200 * time.Millisecond}}
}

func TestNegotiateHandshakeHappyPath(t *testing.T) {
	s := newTestSilo()
	r := strings.NewReader("booting\n12345\nready\ngoodbye\n")
	port, err := s.negotiateHandshake(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 12345 {
		t.Fatalf("expected port 12345, got %d", port)
	}
}

func TestNegotiateHandshakeRejectsWrongFirstLine(t *testing.T) {
	s := newTestSilo()
	r := strings.NewReader("hello\n12345\nready\n")
	_, err := s.negotiateHandshake(r)
	if !errors.Is(err, errs.ErrHandshakeFailure) {
		t.Fatalf("expected ErrHandshakeFailure, got %v", err)
	}
}

func TestNegotiateHandshakeRejectsNonNumericPort(t *testing.T) {
	s := newTestSilo()
	r := strings.NewReader("booting\nnot-a-port\nready\n")
	_, err := s.negotiateHandshake(r)
	if !errors.Is(err, errs.ErrHandshakeFailure) {
		t.Fatalf("expected ErrHandshakeFailure, got %v", err)
	}
}

// TestNegotiateHandshakeRejectsChattyLineBeforeReady: a log line between the
// port and "ready" must not be tolerated as if it were the port.
func TestNegotiateHandshakeRejectsChattyLineBeforeReady(t *testing.T) {
	s := newTestSilo()
	r := strings.NewReader("booting\n12345\nloading plugins...\nready\n")
	_, err := s.negotiateHandshake(r)
	if !errors.Is(err, errs.ErrHandshakeFailure) {
		t.Fatalf("expected ErrHandshakeFailure when the port isn't the line immediately before ready, got %v", err)
	}
}

func TestNegotiateHandshakeTimesOutWhenChildNeverReady(t *testing.T) {
	s := newTestSilo()
	s.opts.HandshakeTimeout = 30 * time.Millisecond
	r, w := io.Pipe()
	defer w.Close()
	go w.Write([]byte("booting\n"))
	_, err := s.negotiateHandshake(r)
	if !errors.Is(err, errs.ErrHandshakeFailure) {
		t.Fatalf("expected handshake timeout to surface as ErrHandshakeFailure, got %v", err)
	}
}

func TestSiloFaultFromDisconnectNotOverwrittenBySelfInducedDisconnect(t *testing.T) {
	s := newTestSilo()
	var detected errs.OutOfProcessSiloFaultReason
	s.opts.OnFaultDetected = func(r errs.OutOfProcessSiloFaultReason) { detected = r }

	s.reportFault(errs.FaultConnectionFailure)
	s.endpointFaultedHere.Store(true)
	s.onEndpointDisconnect(errs.DisconnectUnhandledException) // should be a no-op now

	if detected != errs.FaultConnectionFailure {
		t.Fatalf("expected original fault reason preserved, got %v", detected)
	}
}
