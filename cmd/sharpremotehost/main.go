// Command sharpremotehost is the out-of-process child the silo package
// spawns. It takes the parent's PID as its sole argument, opens a loopback
// listener, and negotiates the stdout handshake the parent's
// negotiateHandshake reads: "booting", the bound port, then "ready". After
// that it accepts exactly one endpoint connection, registers a demo Arith
// servant, and shuts itself down if the parent process goes away.
//
// This is intentionally the only concern the CLI covers; attribute
// discovery, config files and anything beyond the stdout handshake protocol
// are out of scope.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sharpremote/sharpremote-go/endpoint"
	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/internal/rlog"
)

var log = rlog.Named("sharpremotehost")

// parentPollInterval bounds how quickly the child notices its parent died.
const parentPollInterval = 500 * time.Millisecond

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "sharpremotehost: missing parent pid argument")
		os.Exit(1)
	}
	parentPID, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sharpremotehost: invalid parent pid %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	if err := run(parentPID); err != nil {
		log.Errorw("host exited with error", "err", err)
		os.Exit(1)
	}
}

func run(parentPID int) error {
	fmt.Println("booting")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Println(port)
	fmt.Println("ready")

	watchdog := &watchdogTarget{ln: ln}
	stopWatchdog := make(chan struct{})
	go watchParent(parentPID, watchdog, stopWatchdog)
	defer close(stopWatchdog)

	accepted := make(chan *endpoint.Endpoint, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		ep := endpoint.New(conn, newHostOptions())
		if err := ep.Connect(context.Background()); err != nil {
			acceptErr <- err
			return
		}
		accepted <- ep
	}()

	var ep *endpoint.Endpoint
	select {
	case ep = <-accepted:
	case err := <-acceptErr:
		if errors.Is(err, net.ErrClosed) {
			fmt.Println("goodbye")
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}

	// From here on, a dead parent must tear down the live connection too,
	// not just the listener a connection has already been accepted off of.
	watchdog.setEndpoint(ep)

	if _, err := ep.RegisterServantAt(grain.ID(1), &arith{}); err != nil {
		return fmt.Errorf("register servant: %w", err)
	}

	<-ep.Done()
	fmt.Println("goodbye")
	return nil
}

// watchdogTarget holds whatever this process needs to tear down once its
// parent dies: the listener always, and — once a connection has been
// accepted off it — the live endpoint too. Closing the listener alone stops
// new connections but does nothing for one already accepted, so the
// endpoint must be registered here as soon as it exists.
type watchdogTarget struct {
	mu sync.Mutex
	ln net.Listener
	ep *endpoint.Endpoint
}

func (w *watchdogTarget) setEndpoint(ep *endpoint.Endpoint) {
	w.mu.Lock()
	w.ep = ep
	w.mu.Unlock()
}

func (w *watchdogTarget) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ln.Close()
	if w.ep != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.ep.Close(ctx)
	}
}

// watchParent tears down target (listener and, once accepted, the
// connected endpoint) once the parent PID is no longer reachable.
func watchParent(parentPID int, target *watchdogTarget, stop <-chan struct{}) {
	ticker := time.NewTicker(parentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !processAlive(parentPID) {
				log.Warnw("parent process gone, shutting down", "parent_pid", parentPID)
				target.closeAll()
				return
			}
		}
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes for liveness
	// without actually delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func newHostOptions() endpoint.Options {
	return endpoint.DefaultOptions("sharpremotehost")
}

// arith is a minimal demo servant exercising the RPC round trip; real hosts
// register their own subjects before serving.
type arith struct{}

type AddArgs struct {
	A, B int32
}

type AddReply struct {
	Sum int32
}

func (a *arith) Add(args *AddArgs, reply *AddReply) error {
	reply.Sum = args.A + args.B
	return nil
}
