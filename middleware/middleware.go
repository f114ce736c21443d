// Package middleware wraps request handling in an onion of cross-cutting
// concerns. Chain(A, B, C)(h) runs A, then B, then C around h.
package middleware

import (
	"context"

	"mini-bridge/message"
)

// HandlerFunc serves one decoded request. It always returns a reply.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Reply

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares, the first one outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
