package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardgift/cardgift/internal/dataservice"
)

// RegisterCardRoutes wires card endpoints.
func RegisterCardRoutes(r fiber.Router, h *dataservice.Handler, createLimit fiber.Handler) {
	r.Post("/cards", createLimit, h.CreateCard)
	r.Get("/cards/:id", h.GetCard)
	r.Post("/cards/:id/view", h.ViewCard)
	r.Delete("/cards/:id", h.DeleteCard)
}
