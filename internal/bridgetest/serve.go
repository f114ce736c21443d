// Package bridgetest serves bridge frames from a dispatcher for tests of
// packages that sit below the server.
package bridgetest

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"

	"mini-bridge/dispatcher"
	"mini-bridge/protocol"
)

// ServeConn answers request frames on conn with d until conn fails.
func ServeConn(conn net.Conn, d *dispatcher.Dispatcher) {
	var mu sync.Mutex
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		go func(seq uint32, body []byte) {
			var out bytes.Buffer
			if err := d.Handle(context.Background(), bytes.NewReader(body), &out); err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			_ = protocol.Encode(conn, &protocol.Header{
				MsgType: protocol.MsgTypeReply,
				Seq:     seq,
				BodyLen: uint32(out.Len()),
			}, out.Bytes())
		}(header.Seq, body)
	}
}

// Listen serves d on a loopback TCP port until the test ends and returns the address.
func Listen(t testing.TB, d *dispatcher.Dispatcher) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			go ServeConn(conn, d)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}
