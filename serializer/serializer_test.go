package serializer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sharpremote/sharpremote-go/grain"
)

type fakeResolver struct {
	outHint ByReferenceHint
	outID   grain.ID
	in      any
	inErr   error
}

func (f *fakeResolver) ResolveOutgoingReference(obj any) (ByReferenceHint, grain.ID, error) {
	return f.outHint, f.outID, nil
}
func (f *fakeResolver) ResolveIncomingReference(hint ByReferenceHint, id grain.ID, iface string) (any, error) {
	return f.in, f.inErr
}

func roundTripPrimitives(t *testing.T, s Serializer) {
	t.Helper()
	var buf bytes.Buffer

	if err := s.WriteI32(&buf, -42); err != nil {
		t.Fatal(err)
	}
	if v, err := s.ReadI32(&buf); err != nil || v != -42 {
		t.Fatalf("i32 round trip: got %d, %v", v, err)
	}

	if err := s.WriteU64(&buf, 1<<63); err != nil {
		t.Fatal(err)
	}
	if v, err := s.ReadU64(&buf); err != nil || v != 1<<63 {
		t.Fatalf("u64 round trip: got %d, %v", v, err)
	}

	if err := s.WriteF64(&buf, 3.14159); err != nil {
		t.Fatal(err)
	}
	if v, err := s.ReadF64(&buf); err != nil || v != 3.14159 {
		t.Fatalf("f64 round trip: got %v, %v", v, err)
	}

	if err := s.WriteString(&buf, "grain"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.ReadString(&buf); err != nil || v != "grain" {
		t.Fatalf("string round trip: got %q, %v", v, err)
	}

	if err := s.WriteDecimal(&buf, 31415, 4); err != nil {
		t.Fatal(err)
	}
	if unscaled, scale, err := s.ReadDecimal(&buf); err != nil || unscaled != 31415 || scale != 4 {
		t.Fatalf("decimal round trip: got %d/%d, %v", unscaled, scale, err)
	}
}

func TestBinaryPrimitiveRoundTrip(t *testing.T) {
	roundTripPrimitives(t, NewBinary())
}

func TestJSONPrimitiveRoundTrip(t *testing.T) {
	roundTripPrimitives(t, NewJSON())
}

func TestBinaryNullableReference(t *testing.T) {
	s := NewBinary()
	var buf bytes.Buffer
	resolver := &fakeResolver{outHint: RetrieveSubject, outID: 42, in: "subject"}

	if err := s.WriteReference(&buf, resolver, "not nil"); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadReference(&buf, resolver, "IArith")
	if err != nil {
		t.Fatal(err)
	}
	if got != "subject" {
		t.Fatalf("expected resolved subject, got %v", got)
	}
}

func TestBinaryNilReference(t *testing.T) {
	s := NewBinary()
	var buf bytes.Buffer
	resolver := &fakeResolver{}

	if err := s.WriteReference(&buf, resolver, nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadReference(&buf, resolver, "IArith")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestBinaryReferenceResolverError(t *testing.T) {
	s := NewBinary()
	var buf bytes.Buffer
	resolver := &fakeResolver{inErr: errors.New("boom")}

	if err := s.WriteReference(&buf, resolver, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadReference(&buf, resolver, "IArith"); err == nil {
		t.Fatal("expected resolver error to propagate")
	}
}
