package main

import (
	"context"
	"net"
	"os/exec"
	"testing"
	"time"

	"github.com/sharpremote/sharpremote-go/endpoint"
)

// Scenario: parent death kills child. watchParent must tear down both the
// listener and the already-connected endpoint once the parent PID is gone —
// not just the listener, which has nothing left to do once a connection has
// already been accepted off it.
func TestWatchParentClosesAcceptedEndpoint(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available to stand in for a short-lived parent")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientConn, serverConn := net.Pipe()
	ep := endpoint.New(serverConn, endpoint.DefaultOptions("watchdog-test"))
	serverErr := make(chan error, 1)
	go func() { serverErr <- ep.Connect(context.Background()) }()
	client := endpoint.New(clientConn, endpoint.DefaultOptions("watchdog-test-client"))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close(context.Background())

	target := &watchdogTarget{ln: ln}
	target.setEndpoint(ep)

	// A parent process that exits almost immediately.
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start stand-in parent: %v", err)
	}
	cmd.Wait()

	stop := make(chan struct{})
	defer close(stop)
	go watchParent(cmd.Process.Pid, target, stop)

	select {
	case <-ep.Done():
	case <-time.After(time.Second):
		t.Fatal("endpoint was not torn down within 1s of parent death")
	}

	if _, err := net.Dial("tcp", ln.Addr().String()); err == nil {
		t.Fatal("expected listener to be closed after parent death")
	}
}
