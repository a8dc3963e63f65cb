package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ManuelReschke/AcademyPlans/app/controllers"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/billing"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/cache"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/env"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lifecycle"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/plans"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/quota"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/router"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/sweeper"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/usage"
)

func main() {
	app, sweep := NewApplication()

	if err := sweep.Start(); err != nil {
		log.Fatalf("[Main] %v", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Main] %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("[Main] Shutting down gracefully...")

	sweep.Stop()
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
}

func NewApplication() (*fiber.App, *sweeper.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	catalog := plans.NewCatalog(repos.Plan, plans.WithCache(rdb, env.GetEnvDuration("PLAN_CACHE_TTL", 5*time.Minute)))
	seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := plans.Seed(seedCtx, repos.Plan, plans.DefaultPlans(env.GetEnvInt("FREE_PLAN_PLAYER_LIMIT", 3))); err != nil {
		log.Errorf("[Main] Seeding plans failed: %v", err)
	} else if n > 0 {
		log.Infof("[Main] Seeded %d default plans", n)
		catalog.Invalidate(seedCtx)
	}
	cancel()

	var locker lock.Locker = lock.NewLocal()
	if env.GetEnvBool("DISTRIBUTED_LOCKS", true) {
		locker = lock.NewRedis(rdb, env.GetEnvDuration("LOCK_TTL", 30*time.Second))
	}

	store := subscription.NewStore(db, subscription.WithPublisher(subscription.NewRedisPublisher(rdb)))

	engineOpts := []lifecycle.Option{
		lifecycle.WithConfig(lifecycle.ConfigFromEnv()),
		lifecycle.WithMetrics(m),
	}
	reconcilerOpts := []billing.ReconcilerOption{billing.WithMetrics(m)}

	var stripeProvider *billing.Stripe
	if cfg := billing.StripeConfigFromEnv(); cfg.Enabled() {
		stripeProvider = billing.NewStripe(cfg)
		engineOpts = append(engineOpts, lifecycle.WithCheckout(stripeProvider), lifecycle.WithRenewalCharger(stripeProvider))
		reconcilerOpts = append(reconcilerOpts, billing.WithVerifier(stripeProvider))
		log.Info("[Main] Stripe checkout enabled")
	} else {
		log.Warn("[Main] STRIPE_SECRET_KEY not set, upgrades wait for manual confirmation")
	}

	engine := lifecycle.New(store, catalog, repos.Academy, locker, engineOpts...)
	enforcer := quota.NewEnforcer(engine, catalog, usage.NewCounter(repos.Player),
		quota.WithMetrics(m),
		quota.WithRetry(env.GetEnvInt("QUOTA_RETRY_ATTEMPTS", 3), env.GetEnvDuration("QUOTA_RETRY_BASE", 50*time.Millisecond)),
	)
	reconciler := billing.NewReconciler(engine, store, reconcilerOpts...)

	svc := &controllers.Services{
		Engine:        engine,
		Catalog:       catalog,
		Quota:         enforcer,
		Reconciler:    reconciler,
		Repos:         repos,
		Locker:        locker,
		Stripe:        stripeProvider,
		WebhookSecret: env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""),
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	routerCfg := router.ConfigFromEnv()
	routerCfg.LimiterStorage = router.NewLimiterStorage()
	router.InstallRouter(app, svc, m, routerCfg)

	sweep := sweeper.NewManager(engine, sweeper.ConfigFromEnv(),
		sweeper.WithLocker(locker),
		sweeper.WithMetrics(m),
	)
	return app, sweep
}
