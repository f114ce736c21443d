package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned for a tag byte the protocol does not define,
	// or a defined tag used where it is not allowed.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrStreamUnderflow is returned when the input ends before a required field.
	ErrStreamUnderflow = errors.New("stream underflow")
	// ErrUnknownReference is returned when a 'j' key is not in the registry.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrMalformed is returned for structurally invalid input such as negative lengths.
	ErrMalformed = errors.New("malformed value")
	// ErrUnencodable is returned when a value has no wire form and no Binder is set.
	ErrUnencodable = errors.New("value cannot be encoded")
)

// UnsupportedTypeError names the offending tag.
type UnsupportedTypeError struct {
	Tag   Tag
	Where string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("unsupported type tag %q (0x%02x)", byte(e.Tag), byte(e.Tag))
	}
	return fmt.Sprintf("unsupported %s tag %q (0x%02x)", e.Where, byte(e.Tag), byte(e.Tag))
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// StreamUnderflowError wraps io.EOF or io.ErrUnexpectedEOF with the field being read.
type StreamUnderflowError struct {
	Field string
	Err   error
}

func (e *StreamUnderflowError) Error() string {
	return fmt.Sprintf("stream underflow reading %s: %v", e.Field, e.Err)
}

func (e *StreamUnderflowError) Is(target error) bool { return target == ErrStreamUnderflow }

func (e *StreamUnderflowError) Unwrap() error { return e.Err }

// UnknownReferenceError carries the key that failed to resolve.
type UnknownReferenceError struct {
	Key string
	Err error
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown reference %q: %v", e.Key, e.Err)
}

func (e *UnknownReferenceError) Is(target error) bool { return target == ErrUnknownReference }

func (e *UnknownReferenceError) Unwrap() error { return e.Err }

// MapSizeMismatchError is returned when a map's declared key and value counts differ.
type MapSizeMismatchError struct {
	Keys   int32
	Values int32
}

func (e *MapSizeMismatchError) Error() string {
	return fmt.Sprintf("map declares %d keys but %d values", e.Keys, e.Values)
}

func (e *MapSizeMismatchError) Is(target error) bool { return target == ErrMalformed }
