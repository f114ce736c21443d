package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"unicode/utf8"
)

// maxPrealloc caps slice capacity reserved up front from an untrusted length.
const maxPrealloc = 1024

// Decoder reads tagged values from a stream.
//
// A Decoder with a nil Resolver yields Handle values for 'j' instead of
// resolving them, which is what the side that does not own the objects wants.
type Decoder struct {
	r        io.Reader
	resolver Resolver
	scratch  [8]byte
}

// NewDecoder returns a Decoder reading from r and resolving handles through resolver.
func NewDecoder(r io.Reader, resolver Resolver) *Decoder {
	return &Decoder{r: r, resolver: resolver}
}

func (d *Decoder) fill(n int, field string) ([]byte, error) {
	buf := d.scratch[:n]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, &StreamUnderflowError{Field: field, Err: err}
	}
	return buf, nil
}

// ReadByte reads one raw byte.
func (d *Decoder) ReadByte() (byte, error) {
	buf, err := d.fill(1, "byte")
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBool reads one raw byte as a boolean, nonzero meaning true.
func (d *Decoder) ReadBool() (bool, error) {
	buf, err := d.fill(1, "bool")
	if err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// ReadInt32 reads a raw big-endian int32.
func (d *Decoder) ReadInt32() (int32, error) {
	buf, err := d.fill(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

// ReadInt64 reads a raw big-endian int64.
func (d *Decoder) ReadInt64() (int64, error) {
	buf, err := d.fill(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

// ReadFloat64 reads a raw big-endian IEEE-754 double.
func (d *Decoder) ReadFloat64() (float64, error) {
	buf, err := d.fill(8, "float64")
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
}

func (d *Decoder) readLength(field string) (int, error) {
	n, err := d.ReadInt32()
	if err != nil {
		if u, ok := err.(*StreamUnderflowError); ok {
			u.Field = field
		}
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative %s %d", ErrMalformed, field, n)
	}
	return int(n), nil
}

// ReadBytes reads an int32 length followed by that many raw bytes.
// A zero length yields an empty, non-nil slice.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.readLength("byte length")
	if err != nil {
		return nil, err
	}
	if l, ok := d.r.(interface{ Len() int }); ok && n > l.Len() {
		return nil, &StreamUnderflowError{Field: "bytes", Err: io.ErrUnexpectedEOF}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, &StreamUnderflowError{Field: "bytes", Err: err}
	}
	return buf, nil
}

// ReadString reads an int32 length followed by that many UTF-8 bytes.
func (d *Decoder) ReadString() (string, error) {
	buf, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: invalid UTF-8 string", ErrMalformed)
	}
	return string(buf), nil
}

// ReadTag reads one tag byte and checks that it is defined.
// An unknown tag consumes only the tag byte itself.
func (d *Decoder) ReadTag() (Tag, error) {
	buf, err := d.fill(1, "tag")
	if err != nil {
		return 0, err
	}
	tag := Tag(buf[0])
	if !tag.Valid() {
		return 0, &UnsupportedTypeError{Tag: tag}
	}
	return tag, nil
}

// ReadValue reads one tagged value.
func (d *Decoder) ReadValue() (any, error) {
	tag, err := d.ReadTag()
	if err != nil {
		return nil, err
	}
	return d.ReadRaw(tag)
}

// ReadRaw reads the payload of a value whose tag is already known.
func (d *Decoder) ReadRaw(tag Tag) (any, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagInt32:
		return d.ReadInt32()
	case TagInt64:
		return d.ReadInt64()
	case TagFloat64:
		return d.ReadFloat64()
	case TagBool:
		return d.ReadBool()
	case TagString:
		return d.ReadString()
	case TagDate:
		return d.readDate()
	case TagBytes:
		return d.ReadBytes()
	case TagReference:
		return d.readReference()
	case TagMap:
		return d.readMap()
	case TagList:
		return d.readList()
	case TagRows:
		return d.readRows()
	case TagObjects:
		return d.readObjects()
	}
	return nil, &UnsupportedTypeError{Tag: tag}
}

func (d *Decoder) readDate() (Date, error) {
	s, err := d.ReadString()
	if err != nil {
		return Date{}, err
	}
	date, err := ParseDate(s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q: %v", ErrMalformed, s, err)
	}
	return date, nil
}

func (d *Decoder) readReference() (any, error) {
	key, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	if d.resolver == nil {
		return Handle{Key: key}, nil
	}
	obj, err := d.resolver.Lookup(key)
	if err != nil {
		return nil, &UnknownReferenceError{Key: key, Err: err}
	}
	return obj, nil
}

func (d *Decoder) readMap() (map[any]any, error) {
	size, err := d.readLength("map size")
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return map[any]any{}, nil
	}
	keyTag, err := d.ReadTag()
	if err != nil {
		return nil, err
	}
	if !keyTag.scalar() {
		return nil, &UnsupportedTypeError{Tag: keyTag, Where: "map key"}
	}
	keys := make([]any, 0, min(size, maxPrealloc))
	for i := 0; i < size; i++ {
		k, err := d.ReadRaw(keyTag)
		if err != nil {
			return nil, err
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, fmt.Errorf("%w: map key of type %T is not comparable", ErrMalformed, k)
		}
		keys = append(keys, k)
	}
	count, err := d.readLength("map value count")
	if err != nil {
		return nil, err
	}
	if count != size {
		return nil, &MapSizeMismatchError{Keys: int32(size), Values: int32(count)}
	}
	out := make(map[any]any, len(keys))
	for _, k := range keys {
		v, err := d.ReadValue()
		if err != nil {
			return nil, err
		}
		if err := insert(out, k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// insert adds k to m, rejecting duplicate keys and keys that cannot be
// hashed. A comparable type can still hold an unhashable dynamic value,
// e.g. a struct with an interface field carrying a slice.
func insert(m map[any]any, k, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: unhashable map key %T", ErrMalformed, k)
		}
	}()
	if _, dup := m[k]; dup {
		return fmt.Errorf("%w: duplicate map key %v", ErrMalformed, k)
	}
	m[k] = v
	return nil
}

func readList[T any](d *Decoder, n int, read func() (T, error)) ([]T, error) {
	out := make([]T, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		v, err := read()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) readList() (any, error) {
	elemTag, err := d.ReadTag()
	if err != nil {
		if u, ok := err.(*UnsupportedTypeError); ok {
			u.Where = "list element"
		}
		return nil, err
	}
	n, err := d.readLength("list length")
	if err != nil {
		return nil, err
	}
	switch elemTag {
	case TagInt32:
		return readList(d, n, d.ReadInt32)
	case TagInt64:
		return readList(d, n, d.ReadInt64)
	case TagFloat64:
		return readList(d, n, d.ReadFloat64)
	case TagBool:
		return readList(d, n, d.ReadBool)
	case TagString:
		return readList(d, n, d.ReadString)
	case TagDate:
		return readList(d, n, d.readDate)
	case TagBytes:
		return readList(d, n, d.ReadBytes)
	}
	return readList(d, n, func() (any, error) { return d.ReadRaw(elemTag) })
}

func (d *Decoder) readRows() ([]Row, error) {
	n, err := d.readLength("row count")
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		cols, err := d.readLength("column count")
		if err != nil {
			return nil, err
		}
		row, err := readList(d, cols, d.ReadValue)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row(row))
	}
	return rows, nil
}

func (d *Decoder) readObjects() ([]any, error) {
	n, err := d.readLength("list length")
	if err != nil {
		return nil, err
	}
	return readList(d, n, d.ReadValue)
}
