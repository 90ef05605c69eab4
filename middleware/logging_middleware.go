package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-binder/message"
)

// LoggingMiddleware logs every call with its duration, and the failure if any.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.ResponseFrame {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("endpoint", req.Endpoint),
				zap.String("method", req.Method),
				zap.Uint32("method_id", req.Frame.MethodID),
				zap.Duration("duration", time.Since(start)),
			}
			if err := resp.Err(); err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("call", fields...)
			}
			return resp
		}
	}
}
