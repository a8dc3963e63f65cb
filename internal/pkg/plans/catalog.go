// Package plans is the read-only plan catalog. Plans are immutable once
// referenced, so the active list is safe to cache.
package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

const activePlansKey = "plans:active:v1"

// FreePlanSlug identifies the default tier every academy starts on.
const FreePlanSlug = "free"

// Catalog resolves plans from the database with an optional Redis
// read-through cache of the active list.
type Catalog struct {
	repo     repository.PlanRepository
	rdb      *redis.Client
	cacheTTL time.Duration
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCache enables the Redis plan-list cache. A zero ttl disables it.
func WithCache(rdb *redis.Client, ttl time.Duration) Option {
	return func(c *Catalog) {
		c.rdb = rdb
		c.cacheTTL = ttl
	}
}

func NewCatalog(repo repository.PlanRepository, opts ...Option) *Catalog {
	c := &Catalog{repo: repo}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListPlans returns the plans currently offered, cheapest first.
func (c *Catalog) ListPlans(ctx context.Context) ([]models.Plan, error) {
	if cached, ok := c.readCache(ctx); ok {
		return cached, nil
	}

	list, err := c.repo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list plans: %v", apperr.ErrUnavailable, err)
	}
	c.writeCache(ctx, list)
	return list, nil
}

// GetPlan resolves a plan by id. Retired plans still resolve so existing
// subscriptions keep their terms.
func (c *Catalog) GetPlan(ctx context.Context, id uint) (*models.Plan, error) {
	plan, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("plan %d", id))
	}
	return plan, nil
}

// GetPlanBySlug resolves an active plan by slug.
func (c *Catalog) GetPlanBySlug(ctx context.Context, slug string) (*models.Plan, error) {
	plan, err := c.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("plan %q", slug))
	}
	return plan, nil
}

// FreePlan returns the default tier.
func (c *Catalog) FreePlan(ctx context.Context) (*models.Plan, error) {
	return c.GetPlanBySlug(ctx, FreePlanSlug)
}

// Invalidate drops the cached plan list after catalog administration.
func (c *Catalog) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, activePlansKey).Err(); err != nil {
		log.Warnf("[Plans] Failed to invalidate plan cache: %v", err)
	}
}

func (c *Catalog) readCache(ctx context.Context) ([]models.Plan, bool) {
	if c.rdb == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, activePlansKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Plans] Cache read failed, falling back to database: %v", err)
		}
		return nil, false
	}
	var list []models.Plan
	if err := json.Unmarshal(raw, &list); err != nil {
		log.Warnf("[Plans] Dropping undecodable cache entry: %v", err)
		return nil, false
	}
	return list, true
}

func (c *Catalog) writeCache(ctx context.Context, list []models.Plan) {
	if c.rdb == nil || c.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, activePlansKey, raw, c.cacheTTL).Err(); err != nil {
		log.Warnf("[Plans] Cache write failed: %v", err)
	}
}

func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrUnavailable, what, err)
}
