package loadbalance

import (
	"fmt"
	"math/rand"

	"github.com/sharpremote/sharpremote-go/registry"
)

// WeightedRandomBalancer picks a target with probability proportional to
// its advertised Weight.
type WeightedRandomBalancer struct{}

// Pick is weighted by Target.Weight. Weight is an optional advertisement
// field — a target registered without one defaults to the Target zero
// value, so every weight in targets can legitimately be 0 (or negative, from
// a malformed registration). rand.Intn(0) panics, so that case (and any
// target with a weight below zero) falls back to a uniform pick across all
// targets instead of propagating a panic up through a dialer.
func (b *WeightedRandomBalancer) Pick(targets []registry.Target) (*registry.Target, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets available")
	}

	totalWeight := 0
	for _, v := range targets {
		if v.Weight > 0 {
			totalWeight += v.Weight
		}
	}

	if totalWeight <= 0 {
		return &targets[rand.Intn(len(targets))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range targets {
		if targets[i].Weight <= 0 {
			continue
		}
		r -= targets[i].Weight
		if r < 0 {
			return &targets[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
