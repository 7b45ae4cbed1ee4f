// Package dialer implements load-balanced multi-peer dialing: given a
// logical endpoint name, it discovers the live targets via
// registry.Registry, picks one with a loadbalance.Balancer, and dials it
// into a connected endpoint.Endpoint. A single Endpoint still talks to
// exactly one peer (multi-peer federation within one endpoint remains out of
// scope); this package only decides *which* peer a fresh Endpoint dials, for
// a process that hosts many endpoints, one per remote silo.
package dialer

import (
	"context"
	"fmt"

	"github.com/sharpremote/sharpremote-go/endpoint"
	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/loadbalance"
	"github.com/sharpremote/sharpremote-go/registry"
)

// Dialer resolves a logical name to a target and dials it.
type Dialer struct {
	reg      registry.Registry
	balancer loadbalance.Balancer
}

// New returns a Dialer that discovers targets via reg and picks among them
// with balancer.
func New(reg registry.Registry, balancer loadbalance.Balancer) *Dialer {
	return &Dialer{reg: reg, balancer: balancer}
}

// Dial discovers every target advertised under name, picks one via the
// configured Balancer, and dials it with opts.
func (d *Dialer) Dial(ctx context.Context, name string, opts endpoint.Options) (*endpoint.Endpoint, error) {
	targets, err := d.discover(ctx, name)
	if err != nil {
		return nil, err
	}

	target, err := d.balancer.Pick(targets)
	if err != nil {
		return nil, fmt.Errorf("dialer: pick target for %q: %w", name, err)
	}

	return endpoint.Dial(ctx, "tcp", target.Addr, opts)
}

// DialForGrain discovers every target advertised under name and, if the
// configured Balancer supports grain affinity, pins id to whichever target
// it already maps to — so repeated calls against the same stateful grain
// keep landing on the same silo instead of bouncing on every dial. A
// Balancer without affinity support falls back to its plain Pick.
func (d *Dialer) DialForGrain(ctx context.Context, name string, id grain.ID, opts endpoint.Options) (*endpoint.Endpoint, error) {
	targets, err := d.discover(ctx, name)
	if err != nil {
		return nil, err
	}

	affinity, ok := d.balancer.(loadbalance.AffinityBalancer)
	if !ok {
		target, err := d.balancer.Pick(targets)
		if err != nil {
			return nil, fmt.Errorf("dialer: pick target for %q: %w", name, err)
		}
		return endpoint.Dial(ctx, "tcp", target.Addr, opts)
	}

	target, err := affinity.PickForGrain(targets, id)
	if err != nil {
		return nil, fmt.Errorf("dialer: pick target for grain %d under %q: %w", id, name, err)
	}

	return endpoint.Dial(ctx, "tcp", target.Addr, opts)
}

func (d *Dialer) discover(ctx context.Context, name string) ([]registry.Target, error) {
	targets, err := d.reg.Discover(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("dialer: discover %q: %w", name, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("dialer: no targets advertised under %q", name)
	}
	return targets, nil
}
