package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/cardgift/cardgift/internal/config"
)

// CORS allows the configured origins to call the API from a browser.
func CORS(cfg config.Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Idempotency-Key, X-Wallet-Address, X-Backup-Password, X-Request-ID",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		ExposeHeaders:    RequestIDHeader,
		AllowCredentials: false,
	})
}

// SecurityHeaders sets the static hardening headers on every response.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")
		return c.Next()
	}
}
