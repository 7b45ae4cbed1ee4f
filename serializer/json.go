package serializer

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sharpremote/sharpremote-go/grain"
)

// JSON is a debug-oriented Serializer: human readable, easy to trace, not
// the wire default. Every primitive is encoded as a single JSON value on
// its own line so a stream of them can be read back with a json.Decoder.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (JSON) encode(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

func (JSON) decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	return dec.Decode(v)
}

func (j JSON) WriteI8(w io.Writer, v int8) error   { return j.encode(w, v) }
func (j JSON) ReadI8(r io.Reader) (int8, error)    { var v int8; err := j.decode(r, &v); return v, err }
func (j JSON) WriteU8(w io.Writer, v uint8) error  { return j.encode(w, v) }
func (j JSON) ReadU8(r io.Reader) (uint8, error)   { var v uint8; err := j.decode(r, &v); return v, err }
func (j JSON) WriteI16(w io.Writer, v int16) error { return j.encode(w, v) }
func (j JSON) ReadI16(r io.Reader) (int16, error) {
	var v int16
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteU16(w io.Writer, v uint16) error { return j.encode(w, v) }
func (j JSON) ReadU16(r io.Reader) (uint16, error) {
	var v uint16
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteI32(w io.Writer, v int32) error { return j.encode(w, v) }
func (j JSON) ReadI32(r io.Reader) (int32, error) {
	var v int32
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteU32(w io.Writer, v uint32) error { return j.encode(w, v) }
func (j JSON) ReadU32(r io.Reader) (uint32, error) {
	var v uint32
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteI64(w io.Writer, v int64) error { return j.encode(w, v) }
func (j JSON) ReadI64(r io.Reader) (int64, error) {
	var v int64
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteU64(w io.Writer, v uint64) error { return j.encode(w, v) }
func (j JSON) ReadU64(r io.Reader) (uint64, error) {
	var v uint64
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteF32(w io.Writer, v float32) error { return j.encode(w, v) }
func (j JSON) ReadF32(r io.Reader) (float32, error) {
	var v float32
	err := j.decode(r, &v)
	return v, err
}
func (j JSON) WriteF64(w io.Writer, v float64) error { return j.encode(w, v) }
func (j JSON) ReadF64(r io.Reader) (float64, error) {
	var v float64
	err := j.decode(r, &v)
	return v, err
}

type jsonDecimal struct {
	Unscaled int64
	Scale    uint8
}

func (j JSON) WriteDecimal(w io.Writer, unscaled int64, scale uint8) error {
	return j.encode(w, jsonDecimal{unscaled, scale})
}
func (j JSON) ReadDecimal(r io.Reader) (int64, uint8, error) {
	var v jsonDecimal
	err := j.decode(r, &v)
	return v.Unscaled, v.Scale, err
}

func (j JSON) WriteString(w io.Writer, v string) error { return j.encode(w, v) }
func (j JSON) ReadString(r io.Reader) (string, error) {
	var v string
	err := j.decode(r, &v)
	return v, err
}

func (j JSON) WriteNullableHeader(w io.Writer, present bool) error { return j.encode(w, present) }
func (j JSON) ReadNullableHeader(r io.Reader) (bool, error) {
	var v bool
	err := j.decode(r, &v)
	return v, err
}

type jsonRef struct {
	Hint      ByReferenceHint
	GrainID   grain.ID
	Interface string
}

func (j JSON) WriteReference(w io.Writer, resolver ObjectResolver, obj any) error {
	if obj == nil {
		return j.WriteNullableHeader(w, false)
	}
	if err := j.WriteNullableHeader(w, true); err != nil {
		return err
	}
	hint, id, err := resolver.ResolveOutgoingReference(obj)
	if err != nil {
		return err
	}
	return j.encode(w, jsonRef{Hint: hint, GrainID: id})
}

func (j JSON) ReadReference(r io.Reader, resolver ObjectResolver, iface string) (any, error) {
	present, err := j.ReadNullableHeader(r)
	if err != nil || !present {
		return nil, err
	}
	var ref jsonRef
	if err := j.decode(r, &ref); err != nil {
		return nil, fmt.Errorf("serializer: json reference: %w", err)
	}
	return resolver.ResolveIncomingReference(ref.Hint, ref.GrainID, iface)
}
