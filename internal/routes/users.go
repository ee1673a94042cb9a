package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cardgift/cardgift/internal/dataservice"
)

// RegisterUserRoutes wires user, referral and backup endpoints.
func RegisterUserRoutes(r fiber.Router, h *dataservice.Handler, registerLimit fiber.Handler) {
	r.Post("/users", registerLimit, h.RegisterUser)
	r.Get("/users/:id", h.GetUser)
	r.Delete("/users/:id", h.ClearUser)
	r.Post("/users/:id/activate", h.ActivateUser)
	r.Get("/users/:id/limit", h.CheckLimit)
	r.Get("/users/:id/cards", h.UserCards)
	r.Get("/users/:id/referrals", h.Referrals)
	r.Get("/users/:id/contacts", h.Contacts)
	r.Get("/users/:id/backup", h.Backup)
	r.Post("/users/:id/restore", h.Restore)
}
