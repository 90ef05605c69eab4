package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-binder/message"
	"mini-binder/rpcerr"
)

// RateLimitMiddleware admits calls through a token bucket of r tokens per
// second and the given burst. Rejected calls fail with ServerFault.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.ResponseFrame {
			if !limiter.Allow() {
				return message.Failure(rpcerr.KindServerFault, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
