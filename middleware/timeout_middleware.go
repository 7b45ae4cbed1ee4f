package middleware

import (
	"context"
	"fmt"
	"time"
)

// TimeoutMiddleware bounds how long a single servant dispatch may run by
// racing the handler against a context deadline in a dedicated goroutine.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Result {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *Result, 1)
			go func() {
				done <- next(ctx, call)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				return &Result{Err: fmt.Errorf("middleware: dispatch of %s.%s timed out after %s", call.Interface, call.Method, timeout)}
			}
		}
	}
}
