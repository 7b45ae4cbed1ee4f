package middleware

import (
	"context"
	"time"

	"github.com/sharpremote/sharpremote-go/internal/rlog"
)

var logLog = rlog.Named("middleware")

// LoggingMiddleware logs servant dispatch latency and failures, retargeted
// to Call/Result and routed through rlog instead of bare log.Printf.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Result {
			start := time.Now()
			result := next(ctx, call)
			duration := time.Since(start)
			logLog.Infow("dispatched call",
				"interface", call.Interface, "method", call.Method,
				"rpcId", call.RpcID, "duration", duration)
			if result.Err != nil {
				logLog.Warnw("call failed", "interface", call.Interface, "method", call.Method, "err", result.Err)
			}
			return result
		}
	}
}
