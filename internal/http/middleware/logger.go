package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Logger creates a logging middleware using zap. It logs the matched route
// pattern rather than the raw path so push tokens never reach the logs.
func Logger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		requestID := c.Locals(RequestIDKey)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("route", c.Route().Path),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", duration),
			zap.String("ip", c.IP()),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		}

		if rid, ok := requestID.(string); ok {
			fields = append(fields, zap.String("request_id", rid))
		}
		if user := CurrentUser(c); user != nil {
			fields = append(fields, zap.Uint("user_id", user.ID))
		}

		switch {
		case err != nil:
			logger.Error("request error", append(fields, zap.Error(err))...)
		case c.Response().StatusCode() >= fiber.StatusInternalServerError:
			logger.Warn("request failed", fields...)
		default:
			logger.Info("request", fields...)
		}

		return err
	}
}
