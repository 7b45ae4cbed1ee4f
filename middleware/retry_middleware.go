package middleware

import (
	"context"
	"errors"
	"time"
)

// RetryMiddleware re-invokes the dispatch chain with exponential backoff
// when the result carries a transient error (ErrRateLimited today), leaving
// every other error — including a servant's own RemoteException — to
// propagate immediately. The retryable-error classification is narrow on
// purpose, since this chain runs server-side over dispatch rather than
// client-side over a transport response.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Result {
			result := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if result.Err == nil || !errors.Is(result.Err, ErrRateLimited) {
					return result
				}
				logLog.Warnw("retrying dispatch", "interface", call.Interface, "method", call.Method, "attempt", i+1, "err", result.Err)
				select {
				case <-time.After(baseDelay * time.Duration(uint(1)<<uint(i))):
				case <-ctx.Done():
					return result
				}
				result = next(ctx, call)
			}
			return result
		}
	}
}
