package loadbalance

import (
	"testing"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/registry"
)

var testTargets = []registry.Target{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		target, err := b.Pick(testTargets)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = target.Addr
	}

	target, _ := b.Pick(testTargets)
	if target.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], target.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]registry.Target{})
	if err == nil {
		t.Fatal("expect error for empty targets")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		target, err := b.Pick(testTargets)
		if err != nil {
			t.Fatal(err)
		}
		counts[target.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomAllZeroWeightFallsBackToUniform(t *testing.T) {
	b := &WeightedRandomBalancer{}
	targets := []registry.Target{{Addr: ":9001"}, {Addr: ":9002"}}

	// Previously this panicked via rand.Intn(0) since totalWeight was 0 for
	// every target advertised without an explicit Weight.
	for i := 0; i < 20; i++ {
		target, err := b.Pick(targets)
		if err != nil {
			t.Fatal(err)
		}
		if target.Addr != ":9001" && target.Addr != ":9002" {
			t.Fatalf("unexpected target: %s", target.Addr)
		}
	}
}

func TestRoundRobinCounterWrapDoesNotPanic(t *testing.T) {
	b := &RoundRobinBalancer{counter: 1<<63 - 2}
	for i := 0; i < 5; i++ {
		if _, err := b.Pick(testTargets); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsistentHashGrainAffinity(t *testing.T) {
	b := NewConsistentHashBalancer()

	id := grain.ID(123)
	target1, err := b.PickForGrain(testTargets, id)
	if err != nil {
		t.Fatal(err)
	}
	target2, err := b.PickForGrain(testTargets, id)
	if err != nil {
		t.Fatal(err)
	}
	if target1.Addr != target2.Addr {
		t.Fatalf("same grain mapped to different targets: %s vs %s", target1.Addr, target2.Addr)
	}

	seen := map[string]bool{}
	for i := uint64(0); i < 100; i++ {
		target, err := b.PickForGrain(testTargets, grain.ID(i))
		if err != nil {
			t.Fatal(err)
		}
		seen[target.Addr] = true
	}

	// With 100 different grain ids and 3 targets, we should hit at least 2.
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different targets, got %d", len(seen))
	}
}

func TestConsistentHashEmptyTargets(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.PickForGrain(nil, grain.ID(1)); err == nil {
		t.Fatal("expect error when no targets are available")
	}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expect error when no targets are available")
	}
}
