package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const statusOK = "ok"

// RegisterHealthRoutes adds liveness/readiness style endpoints. Backends that
// are not configured are omitted from the report.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		report := fiber.Map{}
		healthy := true
		check := func(name string, err error) {
			if err != nil {
				healthy = false
				report[name] = err.Error()
				return
			}
			report[name] = statusOK
		}

		if d.DB != nil {
			check("postgres", d.DB.Ping(ctx))
		}
		if d.Redis != nil {
			check("redis", d.Redis.Ping(ctx).Err())
		}
		if d.Mongo != nil {
			check("mongo", d.Mongo.Ping(ctx, nil))
		}

		// A disconnected ledger degrades writes to local-only; it does not
		// make the service unready.
		ledgerStatus := "disabled"
		if d.Gateway != nil {
			ledgerStatus = "disconnected"
			if d.Gateway.IsConnected() {
				ledgerStatus = "connected"
			}
		}
		report["ledger"] = ledgerStatus
		if d.Service.CryptoDegraded() {
			report["crypto"] = "degraded"
		} else {
			report["crypto"] = statusOK
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    report,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
