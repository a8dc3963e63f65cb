package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/AcademyPlans/app/controllers"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/cache"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/env"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Config holds the HTTP surface settings.
type Config struct {
	ServiceToken    string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// LimiterStorage shares rate limit counters between instances. Nil
	// keeps them in memory.
	LimiterStorage fiber.Storage
}

// ConfigFromEnv reads SERVICE_API_TOKEN, RATE_LIMIT_MAX and RATE_LIMIT_WINDOW.
func ConfigFromEnv() Config {
	return Config{
		ServiceToken:    env.GetEnv("SERVICE_API_TOKEN", ""),
		RateLimitMax:    env.GetEnvInt("RATE_LIMIT_MAX", 120),
		RateLimitWindow: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func InstallRouter(app *fiber.App, svc *controllers.Services, m *metrics.Metrics, cfg Config) {
	app.Use(m.Middleware())
	if m != nil {
		app.Get("/metrics", m.Handler())
	}
	setup(app, NewApiRouter(svc, cfg))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

// NewLimiterStorage keeps rate limit counters in Redis next to the cache,
// using database 2. It returns nil when the cache is not set up.
func NewLimiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	if cacheClient == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	password := env.GetEnv("CACHE_PASSWORD", "")
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	log.Infof("[Router] Rate limiter storage on redis %s:%d db 2", host, port)
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 2,
		Reset:    false,
	})
}
