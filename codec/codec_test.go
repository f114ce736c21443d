package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-bridge/tracker"
)

type opaque struct{ id int }

// frame builds raw wire bytes from tags, raw ints and strings.
type frame struct{ bytes.Buffer }

func (f *frame) tag(t Tag) *frame { f.WriteByte(byte(t)); return f }

func (f *frame) i32(v int32) *frame {
	_ = binary.Write(&f.Buffer, binary.BigEndian, v)
	return f
}

func (f *frame) i64(v int64) *frame {
	_ = binary.Write(&f.Buffer, binary.BigEndian, v)
	return f
}

func (f *frame) f64(v float64) *frame {
	_ = binary.Write(&f.Buffer, binary.BigEndian, math.Float64bits(v))
	return f
}

func (f *frame) str(s string) *frame {
	f.i32(int32(len(s)))
	f.WriteString(s)
	return f
}

func (f *frame) b(v bool) *frame {
	if v {
		f.WriteByte(1)
	} else {
		f.WriteByte(0)
	}
	return f
}

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, nil).WriteValue(v))
	out, err := NewDecoder(&buf, nil).ReadValue()
	require.NoError(t, err)
	require.Zero(t, buf.Len(), "trailing bytes after decode")
	return out
}

func TestPrimitiveRoundTrip(t *testing.T) {
	cases := []any{
		nil,
		int32(0), int32(-7), int32(math.MaxInt32), int32(math.MinInt32),
		int64(math.MaxInt64), int64(-1),
		3.25, math.Inf(-1), -0.0,
		true, false,
		"", "hello", "日本語",
		NewDate(2024, time.February, 29), NewDate(1, time.January, 1),
		Handle{Key: "17"},
	}
	for _, v := range cases {
		assert.Equal(t, v, roundTrip(t, v))
	}
}

func TestWideningEncode(t *testing.T) {
	assert.Equal(t, int32(5), roundTrip(t, int16(5)))
	assert.Equal(t, int32(200), roundTrip(t, uint8(200)))
	assert.Equal(t, int64(5), roundTrip(t, 5))
	assert.Equal(t, float64(float32(1.5)), roundTrip(t, float32(1.5)))

	var buf bytes.Buffer
	err := NewEncoder(&buf, nil).WriteValue(uint64(math.MaxUint64))
	require.ErrorIs(t, err, ErrUnencodable)
}

func TestDateIsTenBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, nil).WriteValue(NewDate(2023, time.July, 4)))
	want := new(frame).tag(TagDate).str("2023-07-04")
	assert.Equal(t, want.Bytes(), buf.Bytes())
}

func TestByteBuffer(t *testing.T) {
	for _, n := range []int{0, 1, 255, 4096} {
		in := bytes.Repeat([]byte{0xAB}, n)
		f := new(frame).tag(TagBytes).i32(int32(n))
		f.Write(in)

		out, err := NewDecoder(&f.Buffer, nil).ReadValue()
		require.NoError(t, err)
		got, ok := out.([]byte)
		require.True(t, ok)
		require.NotNil(t, got)
		assert.Len(t, got, n)
		assert.True(t, bytes.Equal(in, got))
	}
}

func TestHomogeneousList(t *testing.T) {
	f := new(frame).tag(TagList).tag(TagInt32).i32(3).i32(1).i32(2).i32(3)
	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, out)

	f = new(frame).tag(TagList).tag(TagString).i32(0)
	out, err = NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, []string{}, out)

	f = new(frame).tag(TagList).tag(TagFloat64).i32(2).f64(1.5).f64(-2)
	out, err = NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2}, out)
}

func TestTypedSliceRoundTrip(t *testing.T) {
	assert.Equal(t, []int32{4, 5}, roundTrip(t, []int32{4, 5}))
	assert.Equal(t, []int64{4, 5}, roundTrip(t, []int64{4, 5}))
	assert.Equal(t, []int64{4, 5}, roundTrip(t, []int{4, 5}))
	assert.Equal(t, []bool{true, false}, roundTrip(t, []bool{true, false}))
	assert.Equal(t, []string{"a", "b"}, roundTrip(t, []string{"a", "b"}))
	assert.Equal(t, [][]byte{{1}, {}}, roundTrip(t, [][]byte{{1}, {}}))
	assert.Equal(t, []Date{NewDate(2000, 1, 2)}, roundTrip(t, []Date{NewDate(2000, 1, 2)}))
}

func TestHeterogeneousList(t *testing.T) {
	in := []any{int32(1), "two", nil, 3.5, []int32{4}}
	assert.Equal(t, in, roundTrip(t, in))

	f := new(frame).tag(TagObjects).i32(0)
	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestRowSequence(t *testing.T) {
	rows := []Row{{int32(11)}, {true, 42.24, int32(99)}}
	out := roundTrip(t, rows)

	got, ok := out.([]Row)
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Len(t, got[0], 1)
	require.Len(t, got[1], 3)
	assert.Equal(t, int32(11), got[0][0])
	assert.Equal(t, true, got[1][0])
	assert.Equal(t, 42.24, got[1][1])
	assert.Equal(t, int32(99), got[1][2])
}

func TestMapDecode(t *testing.T) {
	f := new(frame).tag(TagMap).i32(3).tag(TagInt32).i32(11).i32(22).i32(33).
		i32(3).tag(TagBool).b(true).tag(TagFloat64).f64(42.42).tag(TagNull)

	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, map[any]any{int32(11): true, int32(22): 42.42, int32(33): nil}, out)
}

func TestEmptyMap(t *testing.T) {
	f := new(frame).tag(TagMap).i32(0)
	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, map[any]any{}, out)

	assert.Equal(t, map[any]any{}, roundTrip(t, map[string]int{}))
}

func TestMapRoundTrip(t *testing.T) {
	in := map[string]any{"a": int32(1), "b": "x", "c": nil}
	assert.Equal(t, map[any]any{"a": int32(1), "b": "x", "c": nil}, roundTrip(t, in))
}

func TestMapCountMismatch(t *testing.T) {
	f := new(frame).tag(TagMap).i32(2).tag(TagInt32).i32(1).i32(2).
		i32(1).tag(TagBool).b(true)

	_, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.ErrorIs(t, err, ErrMalformed)

	var mm *MapSizeMismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, int32(2), mm.Keys)
	assert.Equal(t, int32(1), mm.Values)
}

func TestMapRejectsBufferKeys(t *testing.T) {
	f := new(frame).tag(TagMap).i32(1).tag(TagBytes).str("k").i32(1).tag(TagNull)
	_, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.ErrorIs(t, err, ErrUnsupportedType)
}

type boxed struct{ V any }

func TestMapRejectsUnhashableReferenceKey(t *testing.T) {
	tr := tracker.New()
	key := tr.Register(boxed{V: []int{1}})

	f := new(frame).tag(TagMap).i32(1).tag(TagReference).str(key).i32(1).tag(TagNull)
	out, err := NewDecoder(&f.Buffer, tr).ReadValue()
	require.ErrorIs(t, err, ErrMalformed)
	assert.Nil(t, out)
}

func TestMapRejectsDuplicateKeys(t *testing.T) {
	f := new(frame).tag(TagMap).i32(2).tag(TagString).str("a").str("a").
		i32(2).tag(TagInt32).i32(1).tag(TagInt32).i32(2)
	_, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.ErrorIs(t, err, ErrMalformed)

	f = new(frame).tag(TagMap).i32(3).tag(TagNull).
		i32(3).tag(TagInt32).i32(1).tag(TagInt32).i32(2).tag(TagInt32).i32(3)
	_, err = NewDecoder(&f.Buffer, nil).ReadValue()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMapSingleNullKey(t *testing.T) {
	f := new(frame).tag(TagMap).i32(1).tag(TagNull).i32(1).tag(TagInt32).i32(3)
	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, map[any]any{nil: int32(3)}, out)
}

func TestMixedKeyMapTravelsAsHandle(t *testing.T) {
	tr := tracker.New()
	in := map[any]any{1: "a", "b": 2}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, tr).WriteValue(in))
	out, err := NewDecoder(&buf, tr).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReferenceResolves(t *testing.T) {
	tr := tracker.New()
	obj := &opaque{id: 1}
	key := tr.Register(obj)

	f := new(frame).tag(TagReference).str(key)
	out, err := NewDecoder(&f.Buffer, tr).ReadValue()
	require.NoError(t, err)
	assert.Same(t, obj, out)
}

func TestReferenceUnknown(t *testing.T) {
	tr := tracker.New()
	f := new(frame).tag(TagReference).str("99")
	out, err := NewDecoder(&f.Buffer, tr).ReadValue()
	require.Error(t, err)
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrUnknownReference)
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestReferenceWithoutResolverYieldsHandle(t *testing.T) {
	f := new(frame).tag(TagReference).str("5")
	out, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.NoError(t, err)
	assert.Equal(t, Handle{Key: "5"}, out)
}

func TestOpaqueEncodeMintsFreshKeys(t *testing.T) {
	tr := tracker.New()
	obj := &opaque{id: 7}

	var buf bytes.Buffer
	enc := NewEncoder(&buf, tr)
	require.NoError(t, enc.WriteValue(obj))
	require.NoError(t, enc.WriteValue(obj))

	dec := NewDecoder(bytes.NewReader(buf.Bytes()), nil)
	h1, err := dec.ReadValue()
	require.NoError(t, err)
	h2, err := dec.ReadValue()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	for _, h := range []any{h1, h2} {
		got, err := tr.Lookup(h.(Handle).Key)
		require.NoError(t, err)
		assert.Same(t, obj, got)
	}
}

func TestOpaqueWithoutBinder(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf, nil).WriteValue(&opaque{})
	require.ErrorIs(t, err, ErrUnencodable)
}

func TestOpaqueSlice(t *testing.T) {
	tr := tracker.New()
	a, b := &opaque{1}, &opaque{2}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, tr).WriteValue([]*opaque{a, b}))
	require.Equal(t, byte(TagList), buf.Bytes()[0])
	require.Equal(t, byte(TagReference), buf.Bytes()[1])

	out, err := NewDecoder(&buf, tr).ReadValue()
	require.NoError(t, err)
	objs, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, objs, 2)
	assert.Same(t, a, objs[0])
	assert.Same(t, b, objs[1])
}

func TestOpaqueSliceWithNilElements(t *testing.T) {
	tr := tracker.New()
	a := &opaque{1}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, tr).WriteValue([]*opaque{nil, a}))
	require.Equal(t, byte(TagObjects), buf.Bytes()[0])
	assert.Equal(t, 1, tr.Len())

	out, err := NewDecoder(&buf, tr).ReadValue()
	require.NoError(t, err)
	objs, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, objs, 2)
	assert.Nil(t, objs[0])
	assert.Same(t, a, objs[1])
}

func TestNilPointerIsNull(t *testing.T) {
	var p *opaque
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, tracker.New()).WriteValue(p))
	assert.Equal(t, []byte{byte(TagNull)}, buf.Bytes())
}

func TestUnsupportedTag(t *testing.T) {
	r := bytes.NewReader([]byte{'z', 0xCA, 0xFE})
	_, err := NewDecoder(r, nil).ReadValue()
	require.ErrorIs(t, err, ErrUnsupportedType)

	var ut *UnsupportedTypeError
	require.True(t, errors.As(err, &ut))
	assert.Equal(t, Tag('z'), ut.Tag)
	assert.Equal(t, 2, r.Len(), "bytes after the bad tag must stay unread")
}

func TestUnsupportedListElementTag(t *testing.T) {
	r := bytes.NewReader([]byte{byte(TagList), 'q', 0, 0, 0, 1})
	_, err := NewDecoder(r, nil).ReadValue()
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, 4, r.Len())
}

func TestStreamUnderflow(t *testing.T) {
	inputs := [][]byte{
		{},
		{byte(TagInt32), 0, 0},
		{byte(TagString), 0, 0, 0, 5, 'a', 'b'},
		{byte(TagList), byte(TagInt64), 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 1},
	}
	for _, in := range inputs {
		_, err := NewDecoder(bytes.NewReader(in), nil).ReadValue()
		require.ErrorIs(t, err, ErrStreamUnderflow, "input %v", in)
	}

	_, err := NewDecoder(bytes.NewReader(nil), nil).ReadValue()
	require.ErrorIs(t, err, io.EOF)
}

func TestNegativeLength(t *testing.T) {
	f := new(frame).tag(TagString).i32(-1)
	_, err := NewDecoder(&f.Buffer, nil).ReadValue()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestRawHeaderFields(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, nil)
	require.NoError(t, enc.WriteBool(true))
	require.NoError(t, enc.WriteInt32(-3))
	require.NoError(t, enc.WriteInt64(1<<40))
	require.NoError(t, enc.WriteString("Class"))

	dec := NewDecoder(&buf, nil)
	b, err := dec.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
	i, err := dec.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-3), i)
	g, err := dec.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), g)
	s, err := dec.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Class", s)
}
