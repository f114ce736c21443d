// Package transport multiplexes bridge requests over one stream connection.
//
// Every request gets its own sequence number. A single receive goroutine
// reads reply frames and hands each one to the caller waiting on that
// sequence number, so replies may arrive in any order.
//
//	goroutine-1 ──Call(seq=1)──┐
//	goroutine-2 ──Call(seq=2)──┼──→ one conn ──→ server
//	goroutine-3 ──Call(seq=3)──┘
//
//	recvLoop: ←── reply(seq=2) → pending[2] → goroutine-2 wakes up
package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"mini-bridge/codec"
	"mini-bridge/internal/xsync"
	"mini-bridge/message"
	"mini-bridge/protocol"
)

// ErrClosed is returned for calls on, or pending on, a closed transport.
var ErrClosed = errors.New("transport: closed")

// DefaultHeartbeat is the interval between heartbeat frames.
const DefaultHeartbeat = 30 * time.Second

// Result is what a caller receives for one request.
type Result struct {
	Reply *message.Reply
	Err   error
}

// ClientTransport owns one connection to a bridge server.
type ClientTransport struct {
	conn      net.Conn
	binder    codec.Binder
	logger    *zap.Logger
	heartbeat time.Duration

	seq     atomic.Uint32
	pending *xsync.Map[uint32, chan Result]
	sending sync.Mutex // one frame at a time on conn

	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Error
}

// NewClientTransport starts the receive and heartbeat loops on conn.
func NewClientTransport(conn net.Conn, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		logger:    zap.NewNop(),
		heartbeat: DefaultHeartbeat,
		pending:   xsync.NewMap[uint32, chan Result](),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt.Apply(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop()
	}
	return t
}

// Send encodes req and writes it as one request frame. The returned channel
// receives exactly one Result.
func (t *ClientTransport) Send(req *message.Request) (uint32, <-chan Result, error) {
	select {
	case <-t.done:
		return 0, nil, t.closedErr()
	default:
	}

	var body bytes.Buffer
	if err := message.WriteRequest(codec.NewEncoder(&body, t.binder), req); err != nil {
		return 0, nil, err
	}

	seq := t.seq.Inc()
	header := &protocol.Header{
		MsgType: protocol.MsgTypeRequest,
		Seq:     seq,
		BodyLen: uint32(body.Len()),
	}

	// register before writing so the reply cannot beat us
	ch := make(chan Result, 1)
	t.pending.Set(seq, ch)

	t.sending.Lock()
	err := protocol.Encode(t.conn, header, body.Bytes())
	t.sending.Unlock()
	if err != nil {
		t.pending.LoadAndDelete(seq)
		return 0, nil, err
	}
	return seq, ch, nil
}

// Call sends req and waits for its reply or for ctx to end.
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (*message.Reply, error) {
	seq, ch, err := t.Send(req)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Reply, res.Err
	case <-ctx.Done():
		t.pending.LoadAndDelete(seq)
		return nil, ctx.Err()
	}
}

func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeReply {
			continue
		}

		ch, ok := t.pending.LoadAndDelete(header.Seq)
		if !ok {
			t.logger.Debug("reply without a waiting caller", zap.Uint32("seq", header.Seq))
			continue
		}
		// handles in the reply stay unresolved on this side
		reply, err := message.ReadReply(codec.NewDecoder(bytes.NewReader(body), nil))
		ch <- Result{Reply: reply, Err: err}
	}
}

func (t *ClientTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		t.sending.Unlock()
		if err != nil {
			t.logger.Debug("heartbeat failed", zap.Error(err))
			return
		}
	}
}

// shutdown fails every pending caller with err and marks the transport closed.
func (t *ClientTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.err.Store(err)
		close(t.done)
		_ = t.conn.Close()
	})
	for _, ch := range t.pending.Drain() {
		ch <- Result{Err: t.closedErr()}
	}
}

func (t *ClientTransport) closedErr() error {
	if err := t.err.Load(); err != nil && !errors.Is(err, ErrClosed) {
		return errors.Join(ErrClosed, err)
	}
	return ErrClosed
}

// Done is closed once the transport can no longer be used.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Close closes the connection and fails pending calls with ErrClosed.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

// RemoteAddr returns the server address.
func (t *ClientTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
