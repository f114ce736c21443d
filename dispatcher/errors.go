package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"mini-bridge/codec"
	"mini-bridge/message"
	"mini-bridge/tracker"
)

var (
	// ErrNoSuchMethod is returned when no member accepts the request's arguments.
	ErrNoSuchMethod = errors.New("no such method")
	// ErrAmbiguousMethod is returned when several members fit equally well.
	ErrAmbiguousMethod = errors.New("ambiguous method")
	// ErrInvocation is returned when the invoked member fails or panics.
	ErrInvocation = errors.New("invocation failed")
)

// NoSuchMethodError describes a request no member could serve.
type NoSuchMethodError struct {
	Class      string
	Method     string
	Args       []any
	Candidates int
	Reason     string
}

func (e *NoSuchMethodError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no method %s.%s: %s", e.Class, e.Method, e.Reason)
	}
	types := make([]string, len(e.Args))
	for i, a := range e.Args {
		types[i] = fmt.Sprintf("%T", a)
	}
	return fmt.Sprintf("no method %s.%s(%s) among %d candidates",
		e.Class, e.Method, strings.Join(types, ", "), e.Candidates)
}

func (e *NoSuchMethodError) Is(target error) bool { return target == ErrNoSuchMethod }

// AmbiguousMethodError lists the members that tied.
type AmbiguousMethodError struct {
	Class      string
	Method     string
	Candidates []string
}

func (e *AmbiguousMethodError) Error() string {
	return fmt.Sprintf("ambiguous call %s.%s: %s", e.Class, e.Method, strings.Join(e.Candidates, " | "))
}

func (e *AmbiguousMethodError) Is(target error) bool { return target == ErrAmbiguousMethod }

// InvocationError wraps the error returned, or the panic raised, by a member.
type InvocationError struct {
	Member string
	Cause  error
	Trace  string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Member, e.Cause)
}

func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

func (e *InvocationError) Unwrap() error { return e.Cause }

// StatusOf maps an error to the reply status sent to the remote caller.
func StatusOf(err error) message.Status {
	switch {
	case err == nil:
		return message.StatusOK
	case errors.Is(err, ErrInvocation):
		return message.StatusInvocationFailed
	case errors.Is(err, ErrNoSuchMethod):
		return message.StatusNoSuchMethod
	case errors.Is(err, ErrAmbiguousMethod):
		return message.StatusAmbiguousMethod
	case errors.Is(err, codec.ErrUnknownReference), errors.Is(err, tracker.ErrNotFound):
		return message.StatusUnknownReference
	case errors.Is(err, codec.ErrUnsupportedType):
		return message.StatusUnsupportedType
	case errors.Is(err, codec.ErrStreamUnderflow), errors.Is(err, codec.ErrMalformed):
		return message.StatusMalformedRequest
	}
	return message.StatusInternal
}

// FailureReply builds the reply reporting err.
func FailureReply(err error) *message.Reply {
	var trace string
	var ie *InvocationError
	if errors.As(err, &ie) {
		trace = ie.Trace
	}
	return message.Failure(StatusOf(err), err.Error(), trace)
}
