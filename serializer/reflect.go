package serializer

import (
	"fmt"
	"io"
	"reflect"
)

// WriteValue serializes v (addressable or not) by walking its declared
// member list in declaration order for structs, and dispatching primitives
// directly to s. Pointers and interfaces cross the by-reference boundary
// via resolver; everything else is by-value — by-value composites simply
// recurse over their declared member list. This is what lets a servant's
// Invoke hook serialize arbitrary argument/reply structs without each user
// type hand-writing wire code.
func WriteValue(w io.Writer, s Serializer, resolver ObjectResolver, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Int8:
		return s.WriteI8(w, int8(v.Int()))
	case reflect.Uint8:
		return s.WriteU8(w, uint8(v.Uint()))
	case reflect.Int16:
		return s.WriteI16(w, int16(v.Int()))
	case reflect.Uint16:
		return s.WriteU16(w, uint16(v.Uint()))
	case reflect.Int32, reflect.Int:
		return s.WriteI32(w, int32(v.Int()))
	case reflect.Uint32, reflect.Uint:
		return s.WriteU32(w, uint32(v.Uint()))
	case reflect.Int64:
		return s.WriteI64(w, v.Int())
	case reflect.Uint64:
		return s.WriteU64(w, v.Uint())
	case reflect.Float32:
		return s.WriteF32(w, float32(v.Float()))
	case reflect.Float64:
		return s.WriteF64(w, v.Float())
	case reflect.String:
		return s.WriteString(w, v.String())
	case reflect.Bool:
		if v.Bool() {
			return s.WriteU8(w, 1)
		}
		return s.WriteU8(w, 0)
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return s.WriteReference(w, resolver, nil)
		}
		return s.WriteReference(w, resolver, v.Interface())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			if err := WriteValue(w, s, resolver, v.Field(i)); err != nil {
				return fmt.Errorf("serializer: field %s: %w", field.Name, err)
			}
		}
		return nil
	case reflect.Slice:
		if err := s.WriteU32(w, uint32(v.Len())); err != nil {
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := WriteValue(w, s, resolver, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("serializer: unsupported kind %s", v.Kind())
	}
}

// ReadValue is the decode-side mirror of WriteValue: it allocates a value of
// type t and fills it field-by-field in the same declaration order WriteValue
// used, running BeforeDeserialize/AfterDeserialize hooks on the read pump
// when t implements BeforeAfterDeserialize.
func ReadValue(r io.Reader, s Serializer, resolver ObjectResolver, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Int8:
		v, err := s.ReadI8(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint8:
		v, err := s.ReadU8(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Int16:
		v, err := s.ReadI16(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint16:
		v, err := s.ReadU16(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Int32, reflect.Int:
		v, err := s.ReadI32(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint32, reflect.Uint:
		v, err := s.ReadU32(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Int64:
		v, err := s.ReadI64(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint64:
		v, err := s.ReadU64(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Float32:
		v, err := s.ReadF32(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Float64:
		v, err := s.ReadF64(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.String:
		v, err := s.ReadString(r)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Bool:
		v, err := s.ReadU8(r)
		return reflect.ValueOf(v != 0), err
	case reflect.Ptr, reflect.Interface:
		iface := t.Name()
		if t.Kind() == reflect.Ptr {
			iface = t.Elem().Name()
		}
		obj, err := s.ReadReference(r, resolver, iface)
		if err != nil {
			return reflect.Value{}, err
		}
		if obj == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(obj), nil
	case reflect.Struct:
		out := reflect.New(t).Elem()
		hook, hasHook := out.Addr().Interface().(BeforeAfterDeserialize)
		if hasHook {
			hook.BeforeDeserialize()
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			fv, err := ReadValue(r, s, resolver, field.Type)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("serializer: field %s: %w", field.Name, err)
			}
			out.Field(i).Set(fv)
		}
		if hasHook {
			hook.AfterDeserialize()
		}
		return out, nil
	case reflect.Slice:
		n, err := s.ReadU32(r)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(t, int(n), int(n))
		for i := 0; i < int(n); i++ {
			ev, err := ReadValue(r, s, resolver, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	default:
		return reflect.Value{}, fmt.Errorf("serializer: unsupported kind %s", t.Kind())
	}
}
