package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardgift/cardgift/internal/dataservice"
)

// RegisterSecurityRoutes exposes the security event log.
func RegisterSecurityRoutes(r fiber.Router, h *dataservice.Handler) {
	r.Get("/security/stats", h.SecurityStats)
	r.Get("/security/logs", h.SecurityLogs)
}
