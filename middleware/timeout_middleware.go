package middleware

import (
	"context"
	"time"

	"switchtec-mrpc/message"
)

// TimeOutMiddleware bounds an exchange with a context deadline.
//
// The handler runs on the caller's goroutine and is never abandoned: a request that
// has reached the wire must have its response read, so the deadline is enforced by
// the channel (slot wait, stream deadlines) rather than by walking away from it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
