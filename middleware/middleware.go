// Package middleware implements the onion-style dispatch chain a servant
// call runs through before reaching the subject's method. It is built around
// the endpoint's own Call/Result pair so it has no dependency on any one
// wire format.
package middleware

import (
	"context"

	"github.com/sharpremote/sharpremote-go/grain"
)

// Call describes one incoming servant invocation as it enters the chain.
type Call struct {
	RpcID     grain.RpcID
	ServantID uint64
	Interface string
	Method    string
	Args      []byte
}

// Result is what the chain produces: Payload on success, Err set (and
// Payload ignored) to signal a Return|Exception frame should be emitted.
type Result struct {
	Payload []byte
	Err     error
}

// HandlerFunc is the shape every middleware wraps.
type HandlerFunc func(ctx context.Context, call *Call) *Result

// Middleware wraps a HandlerFunc to produce another HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
