package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
)

var (
	dateType   = reflect.TypeOf(Date{})
	handleType = reflect.TypeOf(Handle{})
	bytesType  = reflect.TypeOf([]byte(nil))
	rowsType   = reflect.TypeOf([]Row(nil))
)

// Encoder writes tagged values to a stream.
//
// Values without a wire form of their own are registered through the Binder
// and sent as 'j' handles. With a nil Binder such values fail with ErrUnencodable.
type Encoder struct {
	w       io.Writer
	binder  Binder
	scratch [8]byte
}

// NewEncoder returns an Encoder writing to w and registering opaque values with binder.
func NewEncoder(w io.Writer, binder Binder) *Encoder {
	return &Encoder{w: w, binder: binder}
}

func (e *Encoder) write(p []byte) error {
	_, err := e.w.Write(p)
	return err
}

// WriteByte writes one raw byte.
func (e *Encoder) WriteByte(b byte) error {
	e.scratch[0] = b
	return e.write(e.scratch[:1])
}

// WriteBool writes a raw boolean byte.
func (e *Encoder) WriteBool(v bool) error {
	if v {
		return e.WriteByte(1)
	}
	return e.WriteByte(0)
}

// WriteInt32 writes a raw big-endian int32.
func (e *Encoder) WriteInt32(v int32) error {
	binary.BigEndian.PutUint32(e.scratch[:4], uint32(v))
	return e.write(e.scratch[:4])
}

// WriteInt64 writes a raw big-endian int64.
func (e *Encoder) WriteInt64(v int64) error {
	binary.BigEndian.PutUint64(e.scratch[:8], uint64(v))
	return e.write(e.scratch[:8])
}

// WriteFloat64 writes a raw big-endian IEEE-754 double.
func (e *Encoder) WriteFloat64(v float64) error {
	binary.BigEndian.PutUint64(e.scratch[:8], math.Float64bits(v))
	return e.write(e.scratch[:8])
}

func (e *Encoder) writeLength(n int) error {
	if n > math.MaxInt32 {
		return fmt.Errorf("%w: length %d exceeds int32", ErrUnencodable, n)
	}
	return e.WriteInt32(int32(n))
}

// WriteBytes writes an int32 length followed by p.
func (e *Encoder) WriteBytes(p []byte) error {
	if err := e.writeLength(len(p)); err != nil {
		return err
	}
	return e.write(p)
}

// WriteString writes an int32 length followed by the UTF-8 bytes of s.
func (e *Encoder) WriteString(s string) error {
	if err := e.writeLength(len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

// WriteTag writes one tag byte.
func (e *Encoder) WriteTag(t Tag) error {
	return e.WriteByte(byte(t))
}

// WriteValue writes v with the tag chosen from its runtime type.
func (e *Encoder) WriteValue(v any) error {
	switch x := v.(type) {
	case Row:
		return e.writeObjects(reflect.ValueOf([]any(x)))
	case []any:
		return e.writeObjects(reflect.ValueOf(x))
	case []Row:
		return e.writeRows(x)
	}

	if tag, ok := scalarTag(v); ok {
		if err := e.WriteTag(tag); err != nil {
			return err
		}
		return e.writeRaw(tag, v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return e.writeSequence(rv)
	case reflect.Map:
		if ok, err := e.writeMap(rv); ok || err != nil {
			return err
		}
	}
	return e.writeHandle(v)
}

// scalarTag returns the tag for values that have a fixed scalar layout.
func scalarTag(v any) (Tag, bool) {
	if v == nil {
		return TagNull, true
	}
	rv := reflect.ValueOf(v)
	return typeTag(rv.Type(), rv)
}

func typeTag(t reflect.Type, rv reflect.Value) (Tag, bool) {
	switch t {
	case dateType:
		return TagDate, true
	case handleType:
		return TagReference, true
	}
	switch t.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return TagInt32, true
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return TagInt64, true
	case reflect.Float32, reflect.Float64:
		return TagFloat64, true
	case reflect.Bool:
		return TagBool, true
	case reflect.String:
		return TagString, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TagBytes, true
		}
	case reflect.Ptr, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsValid() && rv.IsNil() {
			return TagNull, true
		}
	}
	return 0, false
}

// writeRaw writes the payload of v for a scalar tag.
func (e *Encoder) writeRaw(tag Tag, v any) error {
	if tag == TagNull {
		return nil
	}
	if tag == TagReference {
		return e.writeKey(v)
	}
	rv := reflect.ValueOf(v)
	switch tag {
	case TagInt32:
		return e.WriteInt32(int32(intOf(rv)))
	case TagInt64:
		if rv.CanUint() && rv.Uint() > math.MaxInt64 {
			return fmt.Errorf("%w: %v overflows int64", ErrUnencodable, v)
		}
		return e.WriteInt64(intOf(rv))
	case TagFloat64:
		return e.WriteFloat64(rv.Float())
	case TagBool:
		return e.WriteBool(rv.Bool())
	case TagString:
		return e.WriteString(rv.String())
	case TagDate:
		return e.WriteString(v.(Date).String())
	case TagBytes:
		return e.WriteBytes(rv.Bytes())
	}
	return &UnsupportedTypeError{Tag: tag}
}

func intOf(rv reflect.Value) int64 {
	if rv.CanInt() {
		return rv.Int()
	}
	return int64(rv.Uint())
}

func (e *Encoder) writeKey(v any) error {
	if h, ok := v.(Handle); ok {
		return e.WriteString(h.Key)
	}
	if e.binder == nil {
		return fmt.Errorf("%w: %T has no wire form and no registry is bound", ErrUnencodable, v)
	}
	return e.WriteString(e.binder.Register(v))
}

func (e *Encoder) writeHandle(v any) error {
	if _, ok := v.(Handle); !ok && e.binder == nil {
		return fmt.Errorf("%w: %T has no wire form and no registry is bound", ErrUnencodable, v)
	}
	if err := e.WriteTag(TagReference); err != nil {
		return err
	}
	return e.writeKey(v)
}

// writeSequence picks 'l' with a fixed element tag for scalar elements,
// 'O' for interface or container elements or when some element is nil,
// and 'l' of handles otherwise.
func (e *Encoder) writeSequence(rv reflect.Value) error {
	elem := rv.Type().Elem()
	if tag, ok := typeTag(elem, reflect.Value{}); ok && tag != TagNull {
		return e.writeList(tag, rv)
	}
	switch elem.Kind() {
	case reflect.Interface, reflect.Slice, reflect.Array, reflect.Map:
		return e.writeObjects(rv)
	case reflect.Ptr, reflect.Func, reflect.Chan:
		for i := 0; i < rv.Len(); i++ {
			if rv.Index(i).IsNil() {
				return e.writeObjects(rv)
			}
		}
	}
	return e.writeList(TagReference, rv)
}

func (e *Encoder) writeList(tag Tag, rv reflect.Value) error {
	if err := e.WriteTag(TagList); err != nil {
		return err
	}
	if err := e.WriteTag(tag); err != nil {
		return err
	}
	if err := e.writeLength(rv.Len()); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.writeRaw(tag, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeObjects(rv reflect.Value) error {
	if err := e.WriteTag(TagObjects); err != nil {
		return err
	}
	if err := e.writeLength(rv.Len()); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.WriteValue(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeRows(rows []Row) error {
	if err := e.WriteTag(TagRows); err != nil {
		return err
	}
	if err := e.writeLength(len(rows)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := e.writeLength(len(row)); err != nil {
			return err
		}
		for _, v := range row {
			if err := e.WriteValue(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeMap writes rv as an 'e' map when every key shares one scalar tag.
// It reports false without writing anything when the map has to travel as a handle.
func (e *Encoder) writeMap(rv reflect.Value) (bool, error) {
	keys := rv.MapKeys()
	var keyTag Tag
	for i, k := range keys {
		tag, ok := scalarTag(k.Interface())
		if !ok || !tag.scalar() || (i > 0 && tag != keyTag) {
			return false, nil
		}
		keyTag = tag
	}
	if err := e.WriteTag(TagMap); err != nil {
		return true, err
	}
	if err := e.writeLength(len(keys)); err != nil {
		return true, err
	}
	if len(keys) == 0 {
		return true, nil
	}
	if err := e.WriteTag(keyTag); err != nil {
		return true, err
	}
	for _, k := range keys {
		if err := e.writeRaw(keyTag, k.Interface()); err != nil {
			return true, err
		}
	}
	if err := e.writeLength(len(keys)); err != nil {
		return true, err
	}
	for _, k := range keys {
		if err := e.WriteValue(rv.MapIndex(k).Interface()); err != nil {
			return true, err
		}
	}
	return true, nil
}
