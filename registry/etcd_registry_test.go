package registry

import (
	"context"
	"testing"
	"time"
)

// Requires a live etcd at localhost:2379 — these are integration tests,
// not run in CI without an etcd fixture.
func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry([]string{"localhost:2379"})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	target1 := Target{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	target2 := Target{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "arith-host", target1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "arith-host", target2, 10); err != nil {
		t.Fatal(err)
	}

	targets, err := reg.Discover(ctx, "arith-host")
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("expect 2 targets, got %d", len(targets))
	}

	if err := reg.Deregister(ctx, "arith-host", target1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	targets, err = reg.Discover(ctx, "arith-host")
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 {
		t.Fatalf("expect 1 target after deregister, got %d", len(targets))
	}
	if targets[0].Addr != target2.Addr {
		t.Fatalf("expect %s, got %s", target2.Addr, targets[0].Addr)
	}

	reg.Deregister(ctx, "arith-host", target2.Addr)
}
