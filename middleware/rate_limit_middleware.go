package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"switchtec-mrpc/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware paces exchanges with a token bucket (r per second, burst).
// Callers wait for a token; the wait is abandoned when ctx ends or cannot be met
// before its deadline.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, errors.Wrapf(ErrRateLimited, "command %d: %v", req.CommandID, err)
			}
			return next(ctx, req)
		}
	}
}
