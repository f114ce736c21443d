package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-bridge/message"
)

// Logging logs every request with its outcome and duration. Failures are
// logged at warn level, successes at debug level.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			start := time.Now()
			reply := next(ctx, req)

			fields := []zap.Field{
				zap.String("class", req.ClassName),
				zap.String("method", req.MethodName),
				zap.Bool("static", req.IsStatic),
				zap.Int32("thread", req.ThreadID),
				zap.Stringer("status", reply.Status),
				zap.Duration("duration", time.Since(start)),
			}
			if reply.Status != message.StatusOK {
				logger.Warn("request failed", append(fields, zap.String("error", reply.Message))...)
				return reply
			}
			logger.Debug("request served", fields...)
			return reply
		}
	}
}
