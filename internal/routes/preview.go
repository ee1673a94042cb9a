package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardgift/cardgift/internal/preview"
)

// RegisterPreviewRoutes mounts the share preview endpoint for every method.
func RegisterPreviewRoutes(r fiber.Router, h *preview.Handler) {
	r.All("/api/generate-preview", h.Handle)
}
