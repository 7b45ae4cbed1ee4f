package middleware

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrRateLimited is wrapped into a Result.Err when the bucket is empty, so
// RetryMiddleware can recognize it as transient (errors.Is).
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware builds a token-bucket dispatch limiter using
// golang.org/x/time/rate's Allow()-based admission, retargeted to
// Call/Result.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Result {
			if !limiter.Allow() {
				return &Result{Err: fmt.Errorf("%w: %s.%s", ErrRateLimited, call.Interface, call.Method)}
			}
			return next(ctx, call)
		}
	}
}
