package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-bridge/message"
)

// RateLimit rejects requests beyond a token bucket of r requests per second
// with the given burst. Rejected requests get StatusRateLimited.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply {
			if !limiter.Allow() {
				return message.Failure(message.StatusRateLimited, "rate limit exceeded", "")
			}
			return next(ctx, req)
		}
	}
}
