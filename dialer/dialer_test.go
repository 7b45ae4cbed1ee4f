package dialer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sharpremote/sharpremote-go/endpoint"
	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/loadbalance"
	"github.com/sharpremote/sharpremote-go/registry"
)

func dialerTestOpts() endpoint.Options {
	return endpoint.DefaultOptions("dialer-test")
}

type fakeRegistry struct {
	targets []registry.Target
	err     error
}

func (f *fakeRegistry) Register(context.Context, string, registry.Target, int64) error { return nil }
func (f *fakeRegistry) Deregister(context.Context, string, string) error               { return nil }
func (f *fakeRegistry) Discover(context.Context, string) ([]registry.Target, error) {
	return f.targets, f.err
}
func (f *fakeRegistry) Watch(context.Context, string) <-chan []registry.Target { return nil }

type firstPickBalancer struct{}

func (firstPickBalancer) Pick(targets []registry.Target) (*registry.Target, error) {
	if len(targets) == 0 {
		return nil, errors.New("empty")
	}
	return &targets[0], nil
}
func (firstPickBalancer) Name() string { return "First" }

func TestDialFailsWhenNoTargetsAdvertised(t *testing.T) {
	d := New(&fakeRegistry{}, firstPickBalancer{})
	_, err := d.Dial(context.Background(), "arith-host", dialerTestOpts())
	if err == nil {
		t.Fatal("expected error when no targets are advertised")
	}
}

func TestDialPropagatesDiscoverError(t *testing.T) {
	d := New(&fakeRegistry{err: errors.New("etcd unreachable")}, firstPickBalancer{})
	_, err := d.Dial(context.Background(), "arith-host", dialerTestOpts())
	if err == nil {
		t.Fatal("expected discover error to propagate")
	}
}

func TestDialForGrainFallsBackWithoutAffinityBalancer(t *testing.T) {
	targets := []registry.Target{{Addr: "127.0.0.1:1"}}
	d := New(&fakeRegistry{targets: targets}, firstPickBalancer{})
	// firstPickBalancer doesn't implement AffinityBalancer, so DialForGrain
	// falls back to Pick and still reaches the dial instead of erroring out
	// on the type assertion.
	_, err := d.DialForGrain(context.Background(), "arith-host", grain.ID(7), dialerTestOpts())
	if err == nil {
		t.Fatal("expected a dial error against an unreachable address")
	}
	if !strings.Contains(err.Error(), targets[0].Addr) {
		t.Fatalf("expected dial error to mention %s, got %v", targets[0].Addr, err)
	}
}

func TestDialForGrainUsesAffinityBalancer(t *testing.T) {
	targets := []registry.Target{
		{Addr: "127.0.0.1:1"},
		{Addr: "127.0.0.1:2"},
		{Addr: "127.0.0.1:3"},
	}
	reg := &fakeRegistry{targets: targets}
	balancer := loadbalance.NewConsistentHashBalancer()
	d := New(reg, balancer)

	id := grain.ID(42)
	want, err := balancer.PickForGrain(targets, id)
	if err != nil {
		t.Fatal(err)
	}

	// DialForGrain can't succeed against a fake address, but the picked
	// target's address should surface in the dial error, confirming
	// affinity routing actually ran rather than silently falling back.
	_, err = d.DialForGrain(context.Background(), "arith-host", id, dialerTestOpts())
	if err == nil {
		t.Fatal("expected a dial error against an unreachable address")
	}
	if !strings.Contains(err.Error(), want.Addr) {
		t.Fatalf("expected dial error to mention the affinity-picked target %s, got %v", want.Addr, err)
	}
}
