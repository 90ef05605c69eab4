// Package middleware wraps endpoint dispatch with cross-cutting behaviour.
//
// Middlewares compose like an onion: Chain(A, B)(h) runs A's before-part, then
// B's, then h, then B's after-part, then A's.
package middleware

import (
	"context"

	"mini-binder/message"
)

// Request is one call frame on its way to an endpoint.
type Request struct {
	Endpoint string // endpoint the channel is attached to
	Method   string // resolved method name, "" when the identifier is unknown
	Frame    *message.CallFrame
}

type HandlerFunc func(ctx context.Context, req *Request) *message.ResponseFrame

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
