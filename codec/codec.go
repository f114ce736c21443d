// Package codec implements the bridge's self-describing binary value format.
//
// Every value starts with a one-byte tag that fully determines how the rest
// of the value is laid out. Multi-byte numbers are big-endian and strings are
// UTF-8 with an int32 length prefix.
//
//	n  null                 (no payload)
//	i  int32                4 bytes
//	g  int64                8 bytes
//	d  float64              8 bytes IEEE-754
//	b  bool                 1 byte, 0 = false
//	c  string               int32 len + bytes
//	D  date                 int32 len + "yyyy-MM-dd"
//	r  byte buffer          int32 len + bytes
//	j  object handle        int32 len + decimal registry key
//	e  map                  int32 size; keyTag + size raw keys; int32 count + count tagged values
//	l  homogeneous list     elemTag + int32 len + len raw elements
//	R  row sequence         int32 rows; per row int32 cols + cols tagged values
//	O  heterogeneous list   int32 len + len tagged values
//
// Decoding yields these Go types: nil, int32, int64, float64, bool, string,
// Date, []byte, the referenced object (or a Handle when no Resolver is set),
// map[any]any, a typed slice for 'l', []Row for 'R' and []any for 'O'.
package codec

// Tag identifies the layout of one encoded value.
type Tag byte

const (
	TagNull      Tag = 'n'
	TagInt32     Tag = 'i'
	TagInt64     Tag = 'g'
	TagFloat64   Tag = 'd'
	TagBool      Tag = 'b'
	TagString    Tag = 'c'
	TagDate      Tag = 'D'
	TagBytes     Tag = 'r'
	TagReference Tag = 'j'
	TagMap       Tag = 'e'
	TagList      Tag = 'l'
	TagRows      Tag = 'R'
	TagObjects   Tag = 'O'
)

// Valid reports whether t is one of the protocol tags.
func (t Tag) Valid() bool {
	switch t {
	case TagNull, TagInt32, TagInt64, TagFloat64, TagBool, TagString, TagDate,
		TagBytes, TagReference, TagMap, TagList, TagRows, TagObjects:
		return true
	}
	return false
}

// scalar reports whether t may be used as a map key tag.
func (t Tag) scalar() bool {
	switch t {
	case TagNull, TagInt32, TagInt64, TagFloat64, TagBool, TagString, TagDate, TagReference:
		return true
	}
	return false
}

func (t Tag) String() string {
	return string(rune(t))
}

// Resolver turns a registry key received on the wire into the live object.
type Resolver interface {
	Lookup(key string) (any, error)
}

// Binder mints a registry key for a value that cannot be sent by value.
type Binder interface {
	Register(v any) string
}

// Handle is a registry key held by the side that does not own the object.
// Encoding a Handle writes its key as a 'j' value without registering anything.
type Handle struct {
	Key string
}

// Row is one record of a row sequence.
type Row []any
