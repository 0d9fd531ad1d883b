package middleware

import (
	"context"
	"time"

	"github.com/xraph/workpool/item"
)

// Timeout returns middleware that bounds each attempt to d. Items run
// without a deadline unless this middleware is installed. When the deadline
// passes the handler context is cancelled and the attempt fails with
// whatever the handler returns, normally context.DeadlineExceeded.
// A non-positive d makes the middleware a pass-through.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *item.Item, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
