package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"mini-bridge/message"
)

// Recover turns a panic further down the chain into a StatusInternal reply.
// Panics inside invoked members are already handled by the dispatcher; this
// guards the middlewares themselves.
func Recover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (reply *message.Reply) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())
					logger.Error("handler panic",
						zap.String("class", req.ClassName),
						zap.String("method", req.MethodName),
						zap.Any("panic", r))
					reply = message.Failure(message.StatusInternal, fmt.Sprintf("panic: %v", r), stack)
				}
			}()
			return next(ctx, req)
		}
	}
}
