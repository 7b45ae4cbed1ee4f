// Package silo implements the out-of-process host lifecycle: spawn a child,
// negotiate a bind port over its piped stdout, connect an Endpoint to it,
// and aggregate faults from either the endpoint or its heartbeat supervisor
// into one OutOfProcessSiloFaultReason.
//
// The line-protocol handshake reader is new to this runtime. The
// shutdown-flag idiom (an atomic flag that suppresses an expected error
// during intentional teardown) follows the same shape as the rest of this
// codebase's shutdown handling.
package silo

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/sharpremote/sharpremote-go/endpoint"
	"github.com/sharpremote/sharpremote-go/internal/errs"
	"github.com/sharpremote/sharpremote-go/internal/rlog"
)

var log = rlog.Named("silo")

// DefaultHandshakeTimeout bounds how long the parent waits for the child to
// print "ready" after launch.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultConnectTimeout bounds the socket connect once the port is known.
const DefaultConnectTimeout = time.Second

// Options configures a new out-of-process silo.
type Options struct {
	Command           string
	Args              []string
	HandshakeTimeout  time.Duration
	ConnectTimeout    time.Duration
	EndpointOptions   endpoint.Options
	// OnHostOutput receives every stdout line the child emits after the
	// "ready" handshake line: the child may emit arbitrary log lines, and
	// the parent forwards each one via OnHostOutput rather than discarding it.
	OnHostOutput func(line string)
	// OnFaultDetected fires once, as soon as either the endpoint or the
	// heartbeat supervisor reports failure.
	OnFaultDetected func(reason errs.OutOfProcessSiloFaultReason)
	// OnFaultHandled fires once cleanup (currently only Shutdown) completes.
	OnFaultHandled func(reason errs.OutOfProcessSiloFaultReason, handling string)
}

// Silo owns one child process and the Endpoint connected to it.
type Silo struct {
	opts Options
	cmd  *exec.Cmd

	Endpoint *endpoint.Endpoint

	hasProcessFailed atomic.Bool
	faultOnce        sync.Once
	faultReason      errs.OutOfProcessSiloFaultReason

	// endpointFaultedHere records whether this silo's own fault-detection
	// path already disconnected the endpoint, so a second disconnect from
	// the endpoint's own read pump doesn't overwrite the original fault
	// reason.
	endpointFaultedHere atomic.Bool
}

// Start launches the child process, negotiates the stdout handshake, dials
// the advertised port, and starts the endpoint + heartbeat supervisor.
func Start(ctx context.Context, opts Options) (*Silo, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("silo: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("silo: start child: %w", err)
	}

	s := &Silo{opts: opts, cmd: cmd}

	port, err := s.negotiateHandshake(stdout)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	ep, err := endpoint.Dial(dialCtx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), opts.EndpointOptions)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("silo: connect to child on port %d: %w", port, err)
	}
	ep.SetOnDisconnect(s.onEndpointDisconnect)
	s.Endpoint = ep

	log.Infow("silo started", "command", opts.Command, "port", port, "pid", cmd.Process.Pid)
	return s, nil
}

// negotiateHandshake reads booting/<port>/ready, then continues draining
// stdout in the background and forwarding subsequent lines via
// OnHostOutput. The port line must be the line immediately preceding
// "ready", not just any unrecognised line — a child emitting chatty boot
// logs before the port can't accidentally be parsed as having reported a
// port.
func (s *Silo) negotiateHandshake(stdout io.Reader) (int, error) {
	scanner := bufio.NewScanner(stdout)

	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	lines := make(chan string, 1)
	scanErrs := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			scanErrs <- err
		}
		close(lines)
	}()

	readLine := func() (string, error) {
		select {
		case line, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("silo: child closed stdout before completing handshake")
			}
			return line, nil
		case err := <-scanErrs:
			return "", err
		case <-time.After(time.Until(deadline)):
			return "", errs.ErrHandshakeFailure
		}
	}

	boot, err := readLine()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(boot) != "booting" {
		return 0, fmt.Errorf("%w: expected \"booting\", got %q", errs.ErrHandshakeFailure, boot)
	}

	portLine, err := readLine()
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(portLine))
	if err != nil {
		return 0, fmt.Errorf("%w: expected a decimal port, got %q", errs.ErrHandshakeFailure, portLine)
	}

	readyLine, err := readLine()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(readyLine) != "ready" {
		return 0, fmt.Errorf("%w: expected \"ready\" immediately after the port line, got %q", errs.ErrHandshakeFailure, readyLine)
	}

	go s.drainHostOutput(lines)
	return port, nil
}

func (s *Silo) drainHostOutput(lines <-chan string) {
	for line := range lines {
		if strings.TrimSpace(line) == "goodbye" {
			return
		}
		if s.opts.OnHostOutput != nil {
			s.opts.OnHostOutput(line)
		}
	}
}

func (s *Silo) onEndpointDisconnect(reason errs.EndPointDisconnectReason) {
	if s.endpointFaultedHere.Load() {
		// Already reported via our own fault-detection path; avoid
		// overwriting the reason with the read pump's own report
		//.
		return
	}
	s.reportFault(errs.SiloFaultFromDisconnect(reason))
}

// reportFault raises OnFaultDetected exactly once per silo lifetime.
func (s *Silo) reportFault(reason errs.OutOfProcessSiloFaultReason) {
	s.faultOnce.Do(func() {
		s.faultReason = reason
		s.hasProcessFailed.Store(true)
		log.Warnw("silo fault detected", "reason", reason)
		if s.opts.OnFaultDetected != nil {
			s.opts.OnFaultDetected(reason)
		}
	})
}

// HasProcessFailed reports whether the silo has recorded a fault or has been
// shut down.
func (s *Silo) HasProcessFailed() bool { return s.hasProcessFailed.Load() }

// Shutdown kills the child, disposes the endpoint, and marks the process
// failed. It joins the endpoint-disconnect error (if any) with the
// process-exit error via multierr, instead of discarding the second one.
func (s *Silo) Shutdown(ctx context.Context) error {
	s.endpointFaultedHere.Store(true)
	s.hasProcessFailed.Store(true)

	var endpointErr error
	if s.Endpoint != nil {
		endpointErr = s.Endpoint.Close(ctx)
	}

	var killErr error
	if s.cmd.Process != nil {
		killErr = s.cmd.Process.Kill()
	}
	waitErr := s.cmd.Wait()

	joined := multierr.Append(endpointErr, multierr.Append(killErr, waitErr))

	reason := s.faultReason
	if reason == errs.FaultNone {
		reason = errs.FaultConnectionClosed
	}
	if s.opts.OnFaultHandled != nil {
		s.opts.OnFaultHandled(reason, "Shutdown")
	}
	return joined
}
