// Package dispatcher resolves invocation requests against registered Go
// functions and live objects, invokes them and turns the outcome into a reply.
//
// Request processing:
//
//	decode (codec, handles resolved through the tracker)
//	  → pick members (static / constructor / instance)
//	  → overload resolution by conversion cost
//	  → reflect.Call with panic recovery
//	  → reply (result encoded later; opaque results are registered in the tracker)
//
// No timeout is applied to the invoked member: a member that never returns
// holds its request goroutine until it does.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"runtime/debug"

	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/message"
	"mini-bridge/tracker"
)

// Dispatcher serves invocation requests.
type Dispatcher struct {
	catalog *Catalog
	objects *tracker.Tracker
	logger  *zap.Logger
}

// New returns a Dispatcher resolving handles through objects. With a nil
// tracker, handles pass through as codec.Handle values and results without a
// wire form cannot be encoded.
func New(objects *tracker.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		objects: objects,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt.Apply(d)
	}
	if d.catalog == nil {
		d.catalog = NewCatalog()
	}
	return d
}

// Catalog returns the entry points this dispatcher serves.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Objects returns the tracker backing handles.
func (d *Dispatcher) Objects() *tracker.Tracker {
	return d.objects
}

// NewDecoder returns a decoder resolving handles through the dispatcher's tracker.
func (d *Dispatcher) NewDecoder(r io.Reader) *codec.Decoder {
	if d.objects == nil {
		return codec.NewDecoder(r, nil)
	}
	return codec.NewDecoder(r, d.objects)
}

// NewEncoder returns an encoder registering opaque values in the dispatcher's tracker.
func (d *Dispatcher) NewEncoder(w io.Writer) *codec.Encoder {
	if d.objects == nil {
		return codec.NewEncoder(w, nil)
	}
	return codec.NewEncoder(w, d.objects)
}

// Dispatch resolves and invokes req. Failures are reported in the reply,
// never returned or panicked.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) *message.Reply {
	m, err := d.resolve(req)
	if err != nil {
		d.logger.Debug("resolution failed",
			zap.String("class", req.ClassName),
			zap.String("method", req.MethodName),
			zap.Error(err))
		return FailureReply(err)
	}
	v, err := invoke(withThreadID(ctx, req.ThreadID), m.member, m.in)
	if err != nil {
		return FailureReply(err)
	}
	return message.OK(v)
}

func (d *Dispatcher) resolve(req *message.Request) (*match, error) {
	switch {
	case req.IsStatic:
		members, err := d.catalog.lookupStatic(req.ClassName, req.MethodName)
		if err != nil {
			return nil, err
		}
		return resolve(req.ClassName, req.MethodName, members, nil, req.Args)
	case req.MethodName == message.ConstructorName:
		members, err := d.catalog.lookupConstructors(req.ClassName)
		if err != nil {
			return nil, err
		}
		return resolve(req.ClassName, req.MethodName, members, nil, req.Args)
	}

	if len(req.Args) == 0 || req.Args[0] == nil {
		return nil, &NoSuchMethodError{Class: req.ClassName, Method: req.MethodName, Reason: "instance call without a target"}
	}
	target, args := req.Args[0], req.Args[1:]
	members := d.catalog.lookupInstance(req.ClassName, target, req.MethodName)
	return resolve(req.ClassName, req.MethodName, members, target, args)
}

// invoke calls m, converting a returned error or a panic into an InvocationError.
func invoke(ctx context.Context, m *member, in []reflect.Value) (result any, err error) {
	m.numCalls.Inc()
	defer func() {
		if r := recover(); r != nil {
			err = &InvocationError{
				Member: m.signature(),
				Cause:  fmt.Errorf("panic: %v", r),
				Trace:  string(debug.Stack()),
			}
		}
	}()

	if m.ctx {
		in = append([]reflect.Value{reflect.ValueOf(&ctx).Elem()}, in...)
	}
	out := m.fn.Call(in)

	if n := len(out); n > 0 && m.typ.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			cause := e.Interface().(error)
			return nil, &InvocationError{Member: m.signature(), Cause: cause, Trace: fmt.Sprintf("%+v", cause)}
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// Serve reads one request from r and passes it to handler. A request that
// cannot be decoded gets a failure reply without reaching handler; a panic
// while decoding is reported as StatusInternal.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, handler func(context.Context, *message.Request) *message.Reply) *message.Reply {
	req, failure := d.readRequest(r)
	if failure != nil {
		return failure
	}
	return handler(ctx, req)
}

func (d *Dispatcher) readRequest(r io.Reader) (req *message.Request, failure *message.Reply) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("request decoding panicked", zap.Any("panic", p))
			req, failure = nil, message.Failure(message.StatusInternal, fmt.Sprintf("panic: %v", p), string(debug.Stack()))
		}
	}()
	req, err := message.ReadRequest(d.NewDecoder(r))
	if err != nil {
		d.logger.Warn("malformed request",
			zap.String("class", req.ClassName),
			zap.String("method", req.MethodName),
			zap.Error(err))
		return nil, FailureReply(err)
	}
	return req, nil
}

// Handle reads one request from r, dispatches it and writes the reply to w.
// The returned error only reports a failure to write the reply.
func (d *Dispatcher) Handle(ctx context.Context, r io.Reader, w io.Writer) error {
	reply := d.Serve(ctx, r, d.Dispatch)

	var buf bytes.Buffer
	if err := d.EncodeReply(&buf, reply); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// EncodeReply writes reply into buf. If the result value cannot be encoded,
// buf is reset, the handles minted for the partial result are released and a
// failure reply describing the problem is written instead.
func (d *Dispatcher) EncodeReply(buf *bytes.Buffer, reply *message.Reply) error {
	start := buf.Len()
	var minted *recorder
	enc := codec.NewEncoder(buf, nil)
	if d.objects != nil {
		minted = &recorder{objects: d.objects}
		enc = codec.NewEncoder(buf, minted)
	}
	err := message.WriteReply(enc, reply)
	if err == nil {
		return nil
	}
	d.logger.Error("cannot encode reply", zap.Error(err))
	buf.Truncate(start)
	if minted != nil {
		minted.releaseAll()
	}
	return message.WriteReply(d.NewEncoder(buf), FailureReply(err))
}

// recorder registers objects in the tracker and remembers their keys.
type recorder struct {
	objects *tracker.Tracker
	keys    []string
}

func (r *recorder) Register(obj any) string {
	key := r.objects.Register(obj)
	r.keys = append(r.keys, key)
	return key
}

func (r *recorder) releaseAll() {
	for _, key := range r.keys {
		_ = r.objects.Release(key)
	}
	r.keys = nil
}
