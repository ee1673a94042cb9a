package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit writes one structured line per request. The level follows the
// outcome: error for 5xx or handler errors, warn for 4xx, info otherwise.
// The wallet header is logged because it decides quota claims.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if wallet := c.Get("X-Wallet-Address"); wallet != "" {
			attrs = append(attrs, slog.String("wallet", wallet))
		}

		level := slog.LevelInfo
		switch status := c.Response().StatusCode(); {
		case err != nil || status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.Log(c.UserContext(), level, "request completed", attrs...)
		return err
	}
}
