package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cardgift/cardgift/internal/config"
	"github.com/cardgift/cardgift/internal/dataservice"
	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/middleware"
	"github.com/cardgift/cardgift/internal/preview"
	"github.com/cardgift/cardgift/internal/ratelimit"
)

// Deps aggregates shared dependencies required to wire routes. Only Service
// is required; connections are used for health reporting and idempotency.
type Deps struct {
	Cfg     config.Config
	Service *dataservice.Service
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Mongo   *mongo.Client
	Gateway ledger.Gateway
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Service == nil {
		return errors.New("routes: data service is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if !d.Cfg.IsDevelopment() && d.Cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("a persistent store is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(d.Logger))
	}
	app.Use(middleware.SecurityHeaders())

	// The preview endpoint answers its own preflight with 200, so it is
	// mounted ahead of the global CORS handler.
	RegisterPreviewRoutes(app, preview.NewHandler(d.Cfg.PublicBaseURL, d.Cfg.IsDevelopment(), d.Logger))

	app.Use(middleware.CORS(d.Cfg))
	if d.Redis != nil {
		app.Use(middleware.Idempotency(d.Redis, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	handler := dataservice.NewHandler(d.Service)

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	api.Get("/network", func(c *fiber.Ctx) error {
		return c.JSON(NetworkParams(d.Cfg))
	})

	RegisterUserRoutes(api, handler, middleware.RateLimit(d.Limiter, "register", d.Logger))
	RegisterCardRoutes(api, handler, middleware.RateLimit(d.Limiter, "create_card", d.Logger))
	RegisterSecurityRoutes(api, handler)

	return nil
}

// NetworkParams is the chain the ledger wallet is expected to be on.
func NetworkParams(cfg config.Config) ledger.NetworkParams {
	return ledger.NetworkParams{
		ChainID:        cfg.Ledger.ChainID,
		ChainName:      cfg.Ledger.ChainName,
		CurrencySymbol: cfg.Ledger.CurrencySymbol,
		RPCURL:         cfg.Ledger.RPCURL,
		ExplorerURL:    cfg.Ledger.ExplorerURL,
	}
}
