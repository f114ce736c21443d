package message

import "fmt"

// Status is the leading int32 of every reply. Zero means success.
type Status int32

const (
	StatusOK               Status = 0
	StatusInvocationFailed Status = 1
	StatusNoSuchMethod     Status = 2
	StatusAmbiguousMethod  Status = 3
	StatusUnknownReference Status = 4
	StatusUnsupportedType  Status = 5
	StatusMalformedRequest Status = 6
	StatusRateLimited      Status = 7
	StatusInternal         Status = 8
)

var statusNames = map[Status]string{
	StatusOK:               "ok",
	StatusInvocationFailed: "invocation failed",
	StatusNoSuchMethod:     "no such method",
	StatusAmbiguousMethod:  "ambiguous method",
	StatusUnknownReference: "unknown reference",
	StatusUnsupportedType:  "unsupported type",
	StatusMalformedRequest: "malformed request",
	StatusRateLimited:      "rate limited",
	StatusInternal:         "internal error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int32(s))
}
