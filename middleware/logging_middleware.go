package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"switchtec-mrpc/logger"
	"switchtec-mrpc/message"
)

func LoggingMiddleware() Middleware {
	log := logger.L().Named("mrpc")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []zap.Field{
				zap.Uint32("command", req.CommandID),
				zap.Int("requestLen", len(req.Payload)),
				zap.Int("replyLen", req.ReplyLen),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("exchange failed", append(fields, zap.Error(err))...)
				return reply, err
			}
			log.Debug("exchange", fields...)
			return reply, nil
		}
	}
}
