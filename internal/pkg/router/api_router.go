package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/AcademyPlans/app/controllers"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/middleware"
)

type ApiRouter struct {
	svc *controllers.Services
	cfg Config
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        h.cfg.RateLimitMax,
		Expiration: h.cfg.RateLimitWindow,
		Storage:    h.cfg.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	auth := middleware.ServiceTokenMiddleware(h.cfg.ServiceToken)

	plans := controllers.NewPlanController(h.svc)
	subs := controllers.NewSubscriptionController(h.svc)
	usage := controllers.NewUsageController(h.svc)
	players := controllers.NewPlayerController(h.svc)
	billing := controllers.NewBillingController(h.svc)

	v1.Get("/plans", auth, plans.HandleListPlans)

	academies := v1.Group("/academies/:id", auth)
	academies.Get("/subscription", subs.HandleGetSubscription)
	academies.Get("/subscription/history", subs.HandleGetHistory)
	academies.Post("/subscription/upgrade", subs.HandleUpgrade)
	academies.Post("/subscription/cancel", subs.HandleCancel)
	academies.Post("/subscription/reactivate", subs.HandleReactivate)
	academies.Get("/usage", usage.HandleGetUsage)
	academies.Get("/players", players.HandleListPlayers)
	academies.Post("/players", players.HandleCreatePlayer)
	academies.Delete("/players/:playerId", players.HandleDeactivatePlayer)

	// Provider callbacks authenticate by signature.
	v1.Post("/billing/webhook", billing.HandleWebhook)
	v1.Post("/billing/stripe/webhook", billing.HandleStripeWebhook)
	v1.Post("/billing/intents/:id/verify", auth, billing.HandleVerifyIntent)
}

func NewApiRouter(svc *controllers.Services, cfg Config) *ApiRouter {
	return &ApiRouter{svc: svc, cfg: cfg}
}
