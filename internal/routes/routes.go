package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kompanio/timebank/internal/accounts"
	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/config"
	"github.com/kompanio/timebank/internal/flows"
	"github.com/kompanio/timebank/internal/identity"
	"github.com/kompanio/timebank/internal/media"
	"github.com/kompanio/timebank/internal/middleware"
	"github.com/kompanio/timebank/internal/notification"
	"github.com/kompanio/timebank/internal/payments"
	"github.com/kompanio/timebank/internal/store"
	"github.com/kompanio/timebank/internal/trigger"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg        config.Config
	Store      *store.Store
	Dispatcher *trigger.Dispatcher
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Objects    media.ObjectStore
	Logger     *slog.Logger
}

// Setup configures middlewares, registers store triggers and wires all
// application routes. Triggers must be registered before the dispatcher runs.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil || d.Dispatcher == nil {
		return fmt.Errorf("store and dispatcher are required")
	}
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Services
	notifier := notification.NewLoggerNotifier(d.Logger)
	provider := identity.NewLocalProvider(identity.NewStoreRepository(d.Store), d.Cfg.JWTSecret, d.Cfg.TokenTTL)
	engine := balance.NewEngine(d.Store, d.Logger)
	flowSvc := flows.NewService(d.Store, engine, d.Logger)
	paymentSvc := payments.NewService(d.Store, payments.NewAuthorizer(d.Store, nil), notifier, d.Logger)
	accountSvc := accounts.NewService(d.Store, provider, engine, notifier, d.Logger, d.Cfg.PhotoURL)
	identitySvc := identity.NewService(provider, d.Store, notifier, d.Logger)

	engine.Register(d.Dispatcher)
	flowSvc.Register(d.Dispatcher)
	paymentSvc.Register(d.Dispatcher)
	accountSvc.Register(d.Dispatcher)

	app.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDKey).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	auth := middleware.BearerAuth(provider)
	if d.Cfg.AdminKey == "" {
		d.Logger.Warn("ADMIN_API_KEY not set, moderator endpoints are open")
	}
	admin := middleware.AdminKey(d.Cfg.AdminKey)

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	RegisterIdentityRoutes(app, auth, identity.NewHandler(identitySvc, provider),
		middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRate, d.Logger))
	RegisterPaymentRoutes(app, auth, admin, payments.NewHandler(paymentSvc), idempotency)
	RegisterAccountRoutes(app, auth, admin, accounts.NewHandler(accountSvc))
	RegisterFlowRoutes(app, admin, flows.NewHandler(flowSvc))
	if d.Objects != nil {
		RegisterMediaRoutes(app, admin, media.NewHandler(d.Objects, media.NewThumbnailer(d.Objects, d.Logger), d.Cfg.PhotoURLTTL))
	}

	return nil
}
