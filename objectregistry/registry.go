// Package objectregistry implements the bidirectional proxy/servant grain
// table: two maps keyed by grain id, identity-keyed get-or-create for
// servants, and the invariant that a grain id never appears in both tables
// on one endpoint.
//
// The secondary identity index below uses a sync.Map keyed on object
// identity rather than rpc id, the same concurrent-map idiom this codebase
// uses for per-key indexing elsewhere.
package objectregistry

import (
	"fmt"
	"sync"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/internal/errs"
)

// Invoker is implemented by a servant's dispatch adapter: it decodes
// arguments from r, calls the wrapped subject's method, and encodes the
// reply (or exception) to w. Implementations live in the endpoint package,
// which owns the serializer and the middleware chain; the registry only
// needs to hold and look the hook up.
type Invoker interface {
	Invoke(method string, r interface{ Read([]byte) (int, error) }, w interface{ Write([]byte) (int, error) }) error
}

// Servant is the local side of a grain: it exclusively owns subject for the
// lifetime of the registration.
type Servant struct {
	GrainID             grain.ID
	InterfaceFingerprint string
	Subject              any
	invoker              Invoker
	destroyed             bool
}

// Invoke dispatches method against the servant's subject. Returns
// ErrNoSuchServant if the servant has already been destroyed — no incoming
// call may dispatch to a destroyed servant.
func (s *Servant) Invoke(method string, r interface{ Read([]byte) (int, error) }, w interface{ Write([]byte) (int, error) }) error {
	if s.destroyed {
		return errs.ErrNoSuchServant
	}
	return s.invoker.Invoke(method, r, w)
}

// Proxy is the remote-facing handle a caller invokes; it is inert without a
// live endpoint. EndpointAlive is a weak back-reference
// expressed as a callback rather than a pointer, so a proxy that outlives
// its endpoint can fail cleanly with ErrNotConnected.
type Proxy struct {
	GrainID              grain.ID
	InterfaceFingerprint string
	EndpointAlive        func() bool
}

// IsConnected reports whether the proxy's backing endpoint is still usable.
func (p *Proxy) IsConnected() bool {
	return p.EndpointAlive != nil && p.EndpointAlive()
}

// Registry holds the servant and proxy tables for one endpoint. A single
// RWMutex guards both maps; once an entry is located, the returned handle is
// independently safe to use without holding the lock.
type Registry struct {
	mu       sync.RWMutex
	servants map[grain.ID]*Servant
	proxies  map[grain.ID]*Proxy

	// identity indexes subjects already registered as servants by pointer
	// identity (not value equality), so GetOrCreateServant is idempotent
	// for the same Go object.
	identity sync.Map // any -> grain.ID

	alloc *grain.Allocator
}

// New returns an empty registry with its own grain id allocator.
func New() *Registry {
	return &Registry{
		servants: make(map[grain.ID]*Servant),
		proxies:  make(map[grain.ID]*Proxy),
		alloc:    grain.NewAllocator(),
	}
}

func (r *Registry) occupied(id grain.ID) bool {
	_, hasServant := r.servants[id]
	_, hasProxy := r.proxies[id]
	return hasServant || hasProxy
}

// CreateServant registers subject at id, wired to invoker for dispatch.
// Fails with ErrDuplicateID if id is already present in either table.
func (r *Registry) CreateServant(id grain.ID, iface string, subject any, invoker Invoker) (*Servant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.occupied(id) {
		return nil, fmt.Errorf("%w: %d", errs.ErrDuplicateID, id)
	}
	s := &Servant{GrainID: id, InterfaceFingerprint: iface, Subject: subject, invoker: invoker}
	r.servants[id] = s
	r.identity.Store(subjectKey(subject), id)
	return s, nil
}

// CreateProxy registers a proxy at id. Fails with ErrDuplicateID if id is
// already present in either table.
func (r *Registry) CreateProxy(id grain.ID, iface string, aliveFn func() bool) (*Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.occupied(id) {
		return nil, fmt.Errorf("%w: %d", errs.ErrDuplicateID, id)
	}
	p := &Proxy{GrainID: id, InterfaceFingerprint: iface, EndpointAlive: aliveFn}
	r.proxies[id] = p
	return p, nil
}

// GetOrCreateProxy returns the existing proxy for id if present. If a
// servant already owns id, it returns a servant-local pass-through handle
// instead of allocating a wire proxy — callers distinguish
// the two cases via the second return value.
func (r *Registry) GetOrCreateProxy(id grain.ID, iface string, aliveFn func() bool) (proxy *Proxy, servant *Servant, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.servants[id]; ok {
		return nil, s, nil
	}
	if p, ok := r.proxies[id]; ok {
		return p, nil, nil
	}
	p := &Proxy{GrainID: id, InterfaceFingerprint: iface, EndpointAlive: aliveFn}
	r.proxies[id] = p
	return p, nil, nil
}

// GetOrCreateServant registers subject under a freshly allocated grain id on
// first registration, identity-keyed: calling it twice with the same Go
// object (reference identity, not value equality) returns the same Servant.
func (r *Registry) GetOrCreateServant(iface string, subject any, invoker Invoker) (*Servant, error) {
	key := subjectKey(subject)
	if v, ok := r.identity.Load(key); ok {
		r.mu.RLock()
		s := r.servants[v.(grain.ID)]
		r.mu.RUnlock()
		if s != nil {
			return s, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another goroutine may have registered
	// the same subject between the RLock check above and here.
	if v, ok := r.identity.Load(key); ok {
		if s := r.servants[v.(grain.ID)]; s != nil {
			return s, nil
		}
	}
	var id grain.ID
	for {
		id = r.alloc.Next()
		if !r.occupied(id) {
			break
		}
	}
	s := &Servant{GrainID: id, InterfaceFingerprint: iface, Subject: subject, invoker: invoker}
	r.servants[id] = s
	r.identity.Store(key, id)
	return s, nil
}

// RetrieveSubject returns the raw subject registered at id, for use locally
// when a by-reference value decodes with ByReferenceHint = RetrieveSubject.
func (r *Registry) RetrieveSubject(id grain.ID) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrNoSuchServant, id)
	}
	return s.Subject, nil
}

// LookupServant resolves id to its Servant for incoming dispatch. Fails with
// ErrNoSuchServant if missing.
func (r *Registry) LookupServant(id grain.ID) (*Servant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrNoSuchServant, id)
	}
	return s, nil
}

// LookupProxy resolves id to its Proxy.
func (r *Registry) LookupProxy(id grain.ID) (*Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[id]
	return p, ok
}

// DestroyServant removes id from the servant table; after this call no
// incoming call may dispatch to it. Idempotent.
func (r *Registry) DestroyServant(id grain.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servants[id]; ok {
		s.destroyed = true
		delete(r.servants, id)
		r.identity.Delete(subjectKey(s.Subject))
	}
}

// subjectKey derives a comparable map key from subject's reference identity.
// Pointer-typed and interface-wrapped-pointer subjects compare by address,
// giving get-or-create reference identity rather than value equality.
func subjectKey(subject any) any {
	return subject
}
