package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/sharpremote/sharpremote-go/grain"
	"github.com/sharpremote/sharpremote-go/objectregistry"
	"github.com/sharpremote/sharpremote-go/pending"
	"github.com/sharpremote/sharpremote-go/serializer"
)

// ResolveIncomingReference implements serializer.ObjectResolver: a
// CreateProxy hint means the grain lives on the peer and we mint a local
// proxy handle for it; RetrieveSubject means the grain is ours and the
// serializer wants the live Go value back.
func (e *Endpoint) ResolveIncomingReference(hint serializer.ByReferenceHint, id grain.ID, iface string) (any, error) {
	if hint == serializer.RetrieveSubject {
		return e.Registry.RetrieveSubject(id)
	}
	proxy, servant, err := e.Registry.GetOrCreateProxy(id, iface, func() bool { return e.State() == StateConnected })
	if err != nil {
		return nil, err
	}
	if servant != nil {
		return servant.Subject, nil
	}
	return proxy, nil
}

// ResolveOutgoingReference implements serializer.ObjectResolver: a proxy
// (a grain that lives on the peer) crosses the wire as RetrieveSubject so
// the peer looks up its own subject; any other object is registered as a
// servant (or its existing servant is reused) and crosses as CreateProxy so
// the peer proxies back to us.
func (e *Endpoint) ResolveOutgoingReference(obj any) (serializer.ByReferenceHint, grain.ID, error) {
	if p, ok := obj.(*objectregistry.Proxy); ok {
		return serializer.RetrieveSubject, p.GrainID, nil
	}
	servant, err := e.Registry.GetOrCreateServant(fmt.Sprintf("%T", obj), obj, nil)
	if err != nil {
		return 0, 0, err
	}
	return serializer.CreateProxy, servant.GrainID, nil
}

// methodType scans a Go value for methods matching the
// (receiver, *Args, *Reply) error shape, and dispatches through the generic
// reflection serializer instead of encoding/json so by-reference arguments
// round-trip through the registry.
type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// reflectInvoker adapts a plain Go struct into an objectregistry.Invoker,
// decoding and encoding arguments through the generic by-reference-aware
// struct serializer (serializer/reflect.go) rather than
// json.Unmarshal/json.Marshal.
type reflectInvoker struct {
	rcvr    reflect.Value
	methods map[string]*methodType
	ser     serializer.Serializer
	res     serializer.ObjectResolver
}

func newReflectInvoker(subject any, ser serializer.Serializer, res serializer.ObjectResolver) (*reflectInvoker, error) {
	typ := reflect.TypeOf(subject)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("endpoint: servant subject must be a pointer to a struct, got %s", typ)
	}
	inv := &reflectInvoker{rcvr: reflect.ValueOf(subject), methods: make(map[string]*methodType), ser: ser, res: res}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.Type.NumIn() != 3 || m.Type.NumOut() != 1 || m.Type.Out(0) != errorType ||
			m.Type.In(1).Kind() != reflect.Ptr || m.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		inv.methods[m.Name] = &methodType{method: m, ArgType: m.Type.In(1).Elem(), ReplyType: m.Type.In(2).Elem()}
	}
	return inv, nil
}

func (inv *reflectInvoker) Invoke(method string, r interface{ Read([]byte) (int, error) }, w interface{ Write([]byte) (int, error) }) error {
	mt, ok := inv.methods[method]
	if !ok {
		return fmt.Errorf("endpoint: no such method %q", method)
	}

	argv, err := serializer.ReadValue(r, inv.ser, inv.res, mt.ArgType)
	if err != nil {
		return fmt.Errorf("endpoint: decode args for %s: %w", method, err)
	}
	argPtr := reflect.New(mt.ArgType)
	argPtr.Elem().Set(argv)
	replyPtr := reflect.New(mt.ReplyType)

	results := mt.method.Func.Call([]reflect.Value{inv.rcvr, argPtr, replyPtr})
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}

	return serializer.WriteValue(w, inv.ser, inv.res, replyPtr.Elem())
}

// RegisterServant scans subject's exported (receiver, *Args, *Reply) error
// methods and registers it as a fresh servant under a newly allocated grain
// id, identity-keyed so registering the same Go object twice is a no-op
//.
func (e *Endpoint) RegisterServant(subject any) (*objectregistry.Servant, error) {
	inv, err := newReflectInvoker(subject, e.opts.Serializer, e)
	if err != nil {
		return nil, err
	}
	iface := fmt.Sprintf("%T", subject)
	return e.Registry.GetOrCreateServant(iface, subject, inv)
}

// RegisterServantAt is RegisterServant for callers that must control the
// grain id, e.g. the silo package's SubjectHost.
func (e *Endpoint) RegisterServantAt(id grain.ID, subject any) (*objectregistry.Servant, error) {
	inv, err := newReflectInvoker(subject, e.opts.Serializer, e)
	if err != nil {
		return nil, err
	}
	iface := fmt.Sprintf("%T", subject)
	return e.Registry.CreateServant(id, iface, subject, inv)
}

// CallMethod issues a remote call against a proxy's grain and decodes the
// typed reply, generalizing Endpoint.Call with the same reflection
// serializer RegisterServant uses on the receiving side.
func (e *Endpoint) CallMethod(ctx context.Context, grainID grain.ID, iface, method string, args any, reply any) error {
	argBuf := new(bytes.Buffer)
	if err := serializer.WriteValue(argBuf, e.opts.Serializer, e, reflect.ValueOf(args).Elem()); err != nil {
		return fmt.Errorf("endpoint: encode args for %s.%s: %w", iface, method, err)
	}

	call, err := e.Call(ctx, grainID, iface, method, argBuf.Bytes())
	if err != nil {
		return err
	}
	defer e.Recycle(call)

	if call.ResponseKind == pending.KindException {
		return fmt.Errorf("endpoint: %s.%s: %s", iface, method, string(call.ResponsePayload))
	}

	replyVal, err := serializer.ReadValue(bytes.NewReader(call.ResponsePayload), e.opts.Serializer, e, reflect.TypeOf(reply).Elem())
	if err != nil {
		return fmt.Errorf("endpoint: decode reply for %s.%s: %w", iface, method, err)
	}
	reflect.ValueOf(reply).Elem().Set(replyVal)
	return nil
}
