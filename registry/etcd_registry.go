// Package registry provides the etcd-based implementation of the Registry
// interface.
//
// etcd is a distributed key-value store that provides strong consistency
// (Raft protocol). We use it as a "distributed phonebook" for endpoints:
//
//	Key:   /sharpremote/{Name}/{Addr}
//	Value: JSON-encoded Target
//
// Registration uses TTL-based leases: if the process crashes, the lease
// expires and the entry is automatically removed — preventing "ghost"
// targets a dialer would otherwise try and fail against.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register adds a target to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Note: leaseID is a local variable, NOT stored on the struct. This
// prevents a data race when multiple endpoints share one EtcdRegistry
// instance (discovered via `go test -race`).
//
// ctx bounds only the initial Grant/Put/KeepAlive setup; KeepAlive renewal
// itself runs detached in the background. Deregister deletes the key only;
// it does not revoke the lease or stop its renewal.
func (r *EtcdRegistry) Register(ctx context.Context, name string, target Target, ttlSeconds int64) error {
	// Create a TTL-based lease — if KeepAlive stops, the entry auto-expires
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(target)
	if err != nil {
		return err
	}

	// Store in etcd: key = /sharpremote/{name}/{addr}, value = JSON metadata
	_, err = r.client.Put(ctx, "/sharpremote/"+name+"/"+target.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd.
	// It is deliberately given a detached context: the renewal loop must
	// outlive Register's own ctx, which the caller may cancel the moment
	// this call returns.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a target from etcd. Called during a graceful endpoint
// shutdown, before the listener is closed.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string, addr string) error {
	_, err := r.client.Delete(ctx, "/sharpremote/"+name+"/"+addr)
	return err
}

// Watch monitors a name's key prefix in etcd and emits the updated target
// list whenever it changes (new registrations, deregistrations, lease
// expirations), until ctx is canceled.
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []Target {
	ch := make(chan []Target, 1)
	prefix := "/sharpremote/" + name + "/"

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full target list (simpler than
			// parsing individual watch events).
			targets, err := r.Discover(ctx, name)
			if err != nil {
				continue
			}
			ch <- targets
		}
	}()

	return ch
}

// Discover returns all currently registered targets under name, by querying
// etcd with a key prefix.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]Target, error) {
	prefix := "/sharpremote/" + name + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0)
	for _, kv := range resp.Kvs {
		var target Target
		if err := json.Unmarshal(kv.Value, &target); err != nil {
			continue // Skip malformed entries
		}
		targets = append(targets, target)
	}

	return targets, nil
}
