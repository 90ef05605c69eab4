package middleware

import (
	"context"
	"time"

	"mini-binder/message"
	"mini-binder/rpcerr"
)

// TimeOutMiddleware fails a call with ServerFault when the handler has not
// answered within timeout. The handler keeps running; its context is
// cancelled so cooperative implementations can stop early.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) *message.ResponseFrame {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.ResponseFrame, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure(rpcerr.KindServerFault, "request timed out")
			}
		}
	}
}
