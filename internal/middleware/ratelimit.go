package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/cardgift/cardgift/internal/ratelimit"
)

// RateLimit gates a route per client IP through l. Limiter failures other
// than an exhausted window fail open.
func RateLimit(l ratelimit.Limiter, action string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l == nil {
			return c.Next()
		}
		err := l.Allow(c.UserContext(), "http:"+action+":"+c.IP())
		switch {
		case err == nil:
			return c.Next()
		case errors.Is(err, ratelimit.ErrRateLimitExceeded):
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"code":    "RATE_LIMIT_EXCEEDED",
				"error":   "too many requests, try again later",
			})
		default:
			logger.Warn("rate limiter unavailable", slog.String("action", action), slog.Any("error", err))
			return c.Next()
		}
	}
}
