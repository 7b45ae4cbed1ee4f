// Package serializer defines the value serializer contract the remoting
// runtime requires and ships a binary reference implementation plus a JSON
// debug implementation. Rather than whole-message (de)serialization, it
// works as streaming per-primitive reads/writes against a frame payload.
package serializer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sharpremote/sharpremote-go/grain"
)

// ByReferenceHint tells a decoder whether a by-reference object crossing the
// boundary should resolve to a local subject or to a proxy.
type ByReferenceHint byte

const (
	// CreateProxy means the receiver should create/reuse a proxy for the
	// grain id that follows.
	CreateProxy ByReferenceHint = 0
	// RetrieveSubject means the receiver should look up its own local
	// subject for the grain id that follows.
	RetrieveSubject ByReferenceHint = 1
)

// ObjectResolver is the narrow view of the object registry the serializer
// needs when a value crosses the by-reference boundary. The endpoint
// implements this; serializer never imports the registry package directly,
// avoiding an import cycle (the registry never needs the serializer).
type ObjectResolver interface {
	// ResolveIncomingReference is called on decode: given the hint written
	// by the peer and the grain id + declared interface, it returns the
	// local subject (RetrieveSubject) or a proxy (CreateProxy) as an any.
	ResolveIncomingReference(hint ByReferenceHint, id grain.ID, iface string) (any, error)

	// ResolveOutgoingReference is called on encode: given an object that is
	// declared to cross by reference, it returns the hint and grain id to
	// write, registering a servant or reusing an existing proxy's id as
	// needed.
	ResolveOutgoingReference(obj any) (ByReferenceHint, grain.ID, error)
}

// BeforeAfterDeserialize is implemented by user types that want a hook run
// on the read pump immediately before/after materialisation.
type BeforeAfterDeserialize interface {
	BeforeDeserialize()
	AfterDeserialize()
}

// Serializer is the contract the endpoint runtime consumes through a narrow
// interface; one instance is shared, stateless, across all frames.
type Serializer interface {
	WriteI8(w io.Writer, v int8) error
	ReadI8(r io.Reader) (int8, error)
	WriteU8(w io.Writer, v uint8) error
	ReadU8(r io.Reader) (uint8, error)
	WriteI16(w io.Writer, v int16) error
	ReadI16(r io.Reader) (int16, error)
	WriteU16(w io.Writer, v uint16) error
	ReadU16(r io.Reader) (uint16, error)
	WriteI32(w io.Writer, v int32) error
	ReadI32(r io.Reader) (int32, error)
	WriteU32(w io.Writer, v uint32) error
	ReadU32(r io.Reader) (uint32, error)
	WriteI64(w io.Writer, v int64) error
	ReadI64(r io.Reader) (int64, error)
	WriteU64(w io.Writer, v uint64) error
	ReadU64(r io.Reader) (uint64, error)
	WriteF32(w io.Writer, v float32) error
	ReadF32(r io.Reader) (float32, error)
	WriteF64(w io.Writer, v float64) error
	ReadF64(r io.Reader) (float64, error)
	// WriteDecimal/ReadDecimal carry a fixed-point decimal as a scaled
	// int64 (value * 10^scale), since Go's standard library has no decimal
	// type.
	WriteDecimal(w io.Writer, unscaled int64, scale uint8) error
	ReadDecimal(r io.Reader) (unscaled int64, scale uint8, err error)
	WriteString(w io.Writer, v string) error
	ReadString(r io.Reader) (string, error)

	// WriteNullableHeader/ReadNullableHeader write/read the one-byte
	// present flag preceding every reference value.
	WriteNullableHeader(w io.Writer, present bool) error
	ReadNullableHeader(r io.Reader) (present bool, err error)

	// WriteReference/ReadReference implement the by-reference boundary
	// crossing via resolver.
	WriteReference(w io.Writer, resolver ObjectResolver, obj any) error
	ReadReference(r io.Reader, resolver ObjectResolver, iface string) (any, error)
}

var errShortRead = errors.New("serializer: short read")

// Binary is the default wire-format Serializer: fixed-width little-endian
// primitives, u16-length-prefixed UTF-8 strings.
type Binary struct{}

func NewBinary() *Binary { return &Binary{} }

func (Binary) WriteI8(w io.Writer, v int8) error  { return writeByte(w, byte(v)) }
func (Binary) ReadI8(r io.Reader) (int8, error)   { b, err := readByte(r); return int8(b), err }
func (Binary) WriteU8(w io.Writer, v uint8) error { return writeByte(w, v) }
func (Binary) ReadU8(r io.Reader) (uint8, error)  { return readByte(r) }

func (Binary) WriteI16(w io.Writer, v int16) error { return writeFixed(w, uint16(v)) }
func (Binary) ReadI16(r io.Reader) (int16, error) {
	v, err := readFixed16(r)
	return int16(v), err
}
func (Binary) WriteU16(w io.Writer, v uint16) error { return writeFixed(w, v) }
func (Binary) ReadU16(r io.Reader) (uint16, error)  { return readFixed16(r) }

func (Binary) WriteI32(w io.Writer, v int32) error { return writeFixed32(w, uint32(v)) }
func (Binary) ReadI32(r io.Reader) (int32, error) {
	v, err := readFixed32(r)
	return int32(v), err
}
func (Binary) WriteU32(w io.Writer, v uint32) error { return writeFixed32(w, v) }
func (Binary) ReadU32(r io.Reader) (uint32, error)  { return readFixed32(r) }

func (Binary) WriteI64(w io.Writer, v int64) error { return writeFixed64(w, uint64(v)) }
func (Binary) ReadI64(r io.Reader) (int64, error) {
	v, err := readFixed64(r)
	return int64(v), err
}
func (Binary) WriteU64(w io.Writer, v uint64) error { return writeFixed64(w, v) }
func (Binary) ReadU64(r io.Reader) (uint64, error)  { return readFixed64(r) }

func (b Binary) WriteF32(w io.Writer, v float32) error {
	return b.WriteU32(w, math.Float32bits(v))
}
func (b Binary) ReadF32(r io.Reader) (float32, error) {
	u, err := b.ReadU32(r)
	return math.Float32frombits(u), err
}
func (b Binary) WriteF64(w io.Writer, v float64) error {
	return b.WriteU64(w, math.Float64bits(v))
}
func (b Binary) ReadF64(r io.Reader) (float64, error) {
	u, err := b.ReadU64(r)
	return math.Float64frombits(u), err
}

func (b Binary) WriteDecimal(w io.Writer, unscaled int64, scale uint8) error {
	if err := b.WriteI64(w, unscaled); err != nil {
		return err
	}
	return b.WriteU8(w, scale)
}
func (b Binary) ReadDecimal(r io.Reader) (int64, uint8, error) {
	unscaled, err := b.ReadI64(r)
	if err != nil {
		return 0, 0, err
	}
	scale, err := b.ReadU8(r)
	return unscaled, scale, err
}

func (b Binary) WriteString(w io.Writer, v string) error {
	if len(v) > 0xFFFF {
		return fmt.Errorf("serializer: string of %d bytes exceeds u16 length prefix", len(v))
	}
	if err := b.WriteU16(w, uint16(len(v))); err != nil {
		return err
	}
	_, err := w.Write([]byte(v))
	return err
}
func (b Binary) ReadString(r io.Reader) (string, error) {
	n, err := b.ReadU16(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("serializer: %w", err)
	}
	return string(buf), nil
}

func (b Binary) WriteNullableHeader(w io.Writer, present bool) error {
	if present {
		return b.WriteU8(w, 1)
	}
	return b.WriteU8(w, 0)
}
func (b Binary) ReadNullableHeader(r io.Reader) (bool, error) {
	flag, err := b.ReadU8(r)
	if err != nil {
		return false, err
	}
	switch flag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("serializer: invalid nullable flag %d", flag)
	}
}

// WriteReference writes the nullable flag, then (if present) the
// ByReferenceHint byte and the grain id, delegating to resolver to decide
// the hint and id for obj.
func (b Binary) WriteReference(w io.Writer, resolver ObjectResolver, obj any) error {
	if obj == nil {
		return b.WriteNullableHeader(w, false)
	}
	if err := b.WriteNullableHeader(w, true); err != nil {
		return err
	}
	hint, id, err := resolver.ResolveOutgoingReference(obj)
	if err != nil {
		return err
	}
	if err := b.WriteU8(w, byte(hint)); err != nil {
		return err
	}
	return b.WriteU64(w, uint64(id))
}

// ReadReference mirrors WriteReference on decode, consulting resolver to
// turn the decoded hint+id+declared interface into a local subject or proxy.
func (b Binary) ReadReference(r io.Reader, resolver ObjectResolver, iface string) (any, error) {
	present, err := b.ReadNullableHeader(r)
	if err != nil || !present {
		return nil, err
	}
	hintByte, err := b.ReadU8(r)
	if err != nil {
		return nil, err
	}
	id, err := b.ReadU64(r)
	if err != nil {
		return nil, err
	}
	return resolver.ResolveIncomingReference(ByReferenceHint(hintByte), grain.ID(id), iface)
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}
func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errShortRead
	}
	return buf[0], nil
}
func writeFixed(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
func readFixed16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errShortRead
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}
func writeFixed32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
func readFixed32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errShortRead
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
func writeFixed64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}
func readFixed64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errShortRead
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
