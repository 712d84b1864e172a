package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/api/handlers"
	"github.com/artempl88/sozdaibota-sub000/internal/api/middleware"
	"github.com/artempl88/sozdaibota-sub000/internal/auth"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

// Deps is everything the HTTP layer needs
type Deps struct {
	Services       *services.Services
	JWT            *auth.JWTService
	AdminKeyHash   string
	Telegram       *notify.Telegram // nil unless the reviewer channel runs in webhook mode
	WebhookSecret  string
	WSPollInterval time.Duration
	CORSOrigins    string
	Logger         *logrus.Logger
}

// NewApp creates the fiber app with the common middleware stack
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Sozdaibota",
		ErrorHandler: customErrorHandler(deps.Logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))

	SetupRoutes(app, deps)
	return app
}

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, deps Deps) {
	svc := deps.Services
	logger := deps.Logger

	api := app.Group("/api/v1")

	// ========================================
	// Public routes
	// ========================================

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "sozdaibota",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(svc.Metrics.Handler()))

	api.Post("/sessions", middleware.IntakeRateLimit(), handlers.SubmitIntake(svc, deps.JWT, logger))

	// ========================================
	// Client routes (session token required)
	// ========================================

	sessionAuth := middleware.SessionAuth(deps.JWT)
	api.Post("/sessions/:id/messages", sessionAuth, middleware.MessageRateLimit(), handlers.PostMessage(svc, logger))
	api.Get("/sessions/:id/history", sessionAuth, handlers.GetHistory(svc, logger))

	// ========================================
	// Reviewer routes (admin key required)
	// ========================================

	admin := api.Group("/admin",
		middleware.APIRateLimit(120, time.Minute),
		middleware.AdminAuth(deps.AdminKeyHash),
		middleware.AdminAudit(svc.Audit),
	)
	admin.Get("/sessions/:id", handlers.AdminGetSession(svc, logger))
	admin.Get("/sessions/:id/audit", handlers.AdminSessionAudit(svc, logger))
	admin.Put("/sessions/:id/estimate", handlers.AdminEditEstimate(svc, logger))
	admin.Post("/sessions/:id/decision", handlers.AdminDecision(svc, logger))

	if deps.Telegram != nil {
		api.Post("/telegram/webhook", handlers.TelegramWebhook(deps.Telegram, svc.Decisions, deps.WebhookSecret, logger))
	}

	// ========================================
	// WebSocket delivery stream
	// ========================================

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	stream := handlers.NewStreamHandler(svc.Intake, deps.WSPollInterval, logger)
	app.Get("/ws/sessions/:id", sessionAuth, websocket.New(stream.Stream))
}

func customErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal server error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		} else if logger != nil {
			logger.WithError(err).WithField("path", c.Path()).Error("Unhandled error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
}
