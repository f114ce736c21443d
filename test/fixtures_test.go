package test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mini-bridge/server"
)

// inventory is a stateful object handed to remote callers by handle.
type inventory struct {
	mu    sync.Mutex
	items map[string]int64
}

func newInventory() *inventory {
	return &inventory{items: make(map[string]int64)}
}

func (inv *inventory) Put(name string, qty int64) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items[name] += qty
	return inv.items[name]
}

func (inv *inventory) Count(name string) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.items[name]
}

func (inv *inventory) Snapshot() map[string]int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make(map[string]int64, len(inv.items))
	for k, v := range inv.items {
		out[k] = v
	}
	return out
}

type arith struct{}

func (arith) Add(a, b int32) int32 { return a + b }

func (arith) Multiply(a, b int64) int64 { return a * b }

func (arith) Divide(a, b int64) (int64, error) {
	if b == 0 {
		return 0, fmt.Errorf("divide %d by zero", a)
	}
	return a / b, nil
}

// newServer starts a bridge exposing Arith and Inventory on a loopback port.
func newServer(tb testing.TB, opts ...server.Option) *server.Server {
	tb.Helper()
	svr, err := server.NewServer(opts...)
	if err != nil {
		tb.Fatal(err)
	}
	cat := svr.Dispatcher().Catalog()
	if err := cat.RegisterClass("Arith", arith{}); err != nil {
		tb.Fatal(err)
	}
	if err := cat.RegisterConstructor("Inventory", newInventory); err != nil {
		tb.Fatal(err)
	}
	if err := svr.Start("tcp", "127.0.0.1:0"); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = svr.Shutdown(ctx)
	})
	return svr
}
