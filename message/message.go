// Package message defines the invocation request and reply exchanged with the remote side.
//
// Request body:
//
//	bool isStatic | int32 threadId | string className | string methodName | int32 argCount | argCount tagged values
//
// Reply body:
//
//	int32 status | status == 0: one tagged value
//	             | status != 0: 'c' message, optionally followed by 'c' trace
//
// Header fields are untagged; strings there are an int32 length plus UTF-8 bytes.
package message

import (
	"errors"
	"fmt"
	"io"

	"mini-bridge/codec"
)

// ConstructorName is the method name that asks for a new instance of ClassName.
const ConstructorName = "<init>"

// Request is one remote method invocation.
//
//   - IsStatic:            call ClassName.MethodName with Args.
//   - MethodName "<init>": construct ClassName from Args.
//   - otherwise:           Args[0] is the target object, Args[1:] the arguments.
type Request struct {
	IsStatic   bool
	ThreadID   int32
	ClassName  string
	MethodName string
	Args       []any
}

// Reply is the outcome of one Request.
type Reply struct {
	Status  Status
	Value   any    // set when Status is StatusOK
	Message string // set otherwise
	Trace   string
}

// OK returns a success reply carrying v.
func OK(v any) *Reply {
	return &Reply{Status: StatusOK, Value: v}
}

// Failure returns a failure reply.
func Failure(status Status, msg, trace string) *Reply {
	return &Reply{Status: status, Message: msg, Trace: trace}
}

// Err returns nil for a successful reply and a *RemoteError otherwise.
func (r *Reply) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &RemoteError{Status: r.Status, Message: r.Message, Trace: r.Trace}
}

// RemoteError is a failure reported by the other side.
type RemoteError struct {
	Status  Status
	Message string
	Trace   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Status, e.Message)
}

// ReadRequest decodes a request. On a decode error the fields read so far are
// returned alongside the error so the caller can still address a failure reply.
func ReadRequest(d *codec.Decoder) (*Request, error) {
	req := &Request{}
	var err error
	if req.IsStatic, err = d.ReadBool(); err != nil {
		return req, err
	}
	if req.ThreadID, err = d.ReadInt32(); err != nil {
		return req, err
	}
	if req.ClassName, err = d.ReadString(); err != nil {
		return req, err
	}
	if req.MethodName, err = d.ReadString(); err != nil {
		return req, err
	}
	argc, err := d.ReadInt32()
	if err != nil {
		return req, err
	}
	if argc < 0 {
		return req, fmt.Errorf("%w: negative argument count %d", codec.ErrMalformed, argc)
	}
	req.Args = make([]any, 0, min(int(argc), 64))
	for i := int32(0); i < argc; i++ {
		v, err := d.ReadValue()
		if err != nil {
			return req, fmt.Errorf("argument %d: %w", i, err)
		}
		req.Args = append(req.Args, v)
	}
	return req, nil
}

// WriteRequest encodes req.
func WriteRequest(e *codec.Encoder, req *Request) error {
	if err := e.WriteBool(req.IsStatic); err != nil {
		return err
	}
	if err := e.WriteInt32(req.ThreadID); err != nil {
		return err
	}
	if err := e.WriteString(req.ClassName); err != nil {
		return err
	}
	if err := e.WriteString(req.MethodName); err != nil {
		return err
	}
	if err := e.WriteInt32(int32(len(req.Args))); err != nil {
		return err
	}
	for i, arg := range req.Args {
		if err := e.WriteValue(arg); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// ReadReply decodes a reply.
func ReadReply(d *codec.Decoder) (*Reply, error) {
	status, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	reply := &Reply{Status: Status(status)}
	v, err := d.ReadValue()
	if err != nil {
		return nil, err
	}
	if reply.Status == StatusOK {
		reply.Value = v
		return reply, nil
	}
	reply.Message = fmt.Sprint(v)
	trace, err := d.ReadValue()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return nil, err
	default:
		if s, ok := trace.(string); ok {
			reply.Trace = s
		}
	}
	return reply, nil
}

// WriteReply encodes reply.
func WriteReply(e *codec.Encoder, reply *Reply) error {
	if err := e.WriteInt32(int32(reply.Status)); err != nil {
		return err
	}
	if reply.Status == StatusOK {
		return e.WriteValue(reply.Value)
	}
	if err := e.WriteValue(reply.Message); err != nil {
		return err
	}
	return e.WriteValue(reply.Trace)
}
