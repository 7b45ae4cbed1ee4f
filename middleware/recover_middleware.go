package middleware

import (
	"context"
	"fmt"

	"github.com/sharpremote/sharpremote-go/internal/errs"
)

// RecoverMiddleware turns a panic escaping a servant's invoke hook into an
// UnserializableException result instead of crashing the dispatch worker,
// per the design ("the runtime never swallows user exceptions: they either
// marshal back ... or surface as UnserializableException"). No pack example
// recovers panics into a typed error — Go servants can panic where the
// original's .NET servants would throw — so this middleware is new, but it
// sits in the chain the same way every other stage does.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (result *Result) {
			defer func() {
				if r := recover(); r != nil {
					logLog.Errorw("servant panicked", "interface", call.Interface, "method", call.Method, "panic", r)
					result = &Result{Err: &errs.UnserializableException{
						OriginalTypename: "panic",
						OriginalMessage:  fmt.Sprint(r),
						TargetSite:       call.Interface + "." + call.Method,
					}}
				}
			}()
			return next(ctx, call)
		}
	}
}
