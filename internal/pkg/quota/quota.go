// Package quota decides whether an academy may add players under its
// current plan.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
)

// Usage thresholds in percent of the plan limit.
const (
	NearLimitPercent = 80.0
	AtLimitPercent   = 100.0
)

// SubscriptionSource returns the effective subscription of an academy,
// with lazy expiry already applied.
type SubscriptionSource interface {
	Current(ctx context.Context, academyID uint) (*models.Subscription, error)
}

// PlanSource resolves plans by id.
type PlanSource interface {
	GetPlan(ctx context.Context, id uint) (*models.Plan, error)
}

// Counter reports live usage.
type Counter interface {
	CountActivePlayers(ctx context.Context, academyID uint) (int64, error)
}

// UsageSnapshot is the usage of an academy against its plan limit.
// Percentage is nil for unlimited plans.
type UsageSnapshot struct {
	AcademyID     uint     `json:"academy_id"`
	Count         int64    `json:"count"`
	Limit         int      `json:"limit"`
	Percentage    *float64 `json:"percentage"`
	NearLimit     bool     `json:"near_limit"`
	AtOrOverLimit bool     `json:"at_or_over_limit"`
}

// Decision is the result of a quota check.
type Decision struct {
	Allowed bool          `json:"allowed"`
	Usage   UsageSnapshot `json:"usage"`
	Reason  string        `json:"reason,omitempty"`
	PlanID  uint          `json:"plan_id"`
}

// ExceededError carries the denied decision. It matches apperr.ErrQuotaExceeded.
type ExceededError struct {
	Decision *Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: %s", apperr.ErrQuotaExceeded, e.Decision.Reason)
}

func (e *ExceededError) Unwrap() error { return apperr.ErrQuotaExceeded }

// Enforcer evaluates quota decisions.
type Enforcer struct {
	subs    SubscriptionSource
	plans   PlanSource
	counter Counter
	metrics *metrics.Metrics

	retryAttempts int
	retryBase     time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

// WithRetry sets how often CheckQuotaWithRetry retries an unavailable
// player store and the initial backoff.
func WithRetry(attempts int, base time.Duration) Option {
	return func(e *Enforcer) {
		e.retryAttempts = attempts
		e.retryBase = base
	}
}

func NewEnforcer(subs SubscriptionSource, plans PlanSource, counter Counter, opts ...Option) *Enforcer {
	e := &Enforcer{
		subs:          subs,
		plans:         plans,
		counter:       counter,
		retryAttempts: 3,
		retryBase:     50 * time.Millisecond,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckQuota reports whether delta more players fit under the current plan.
// Unlimited plans are allowed without counting.
func (e *Enforcer) CheckQuota(ctx context.Context, academyID uint, delta int64) (*Decision, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: negative delta %d", apperr.ErrInvalidInput, delta)
	}

	plan, err := e.effectivePlan(ctx, academyID)
	if err != nil {
		return nil, err
	}

	if plan.IsUnlimited() {
		d := &Decision{
			Allowed: true,
			PlanID:  plan.ID,
			Usage:   UsageSnapshot{AcademyID: academyID, Limit: models.UnlimitedPlayers},
		}
		e.metrics.ObserveQuota(true)
		return d, nil
	}

	count, err := e.counter.CountActivePlayers(ctx, academyID)
	if err != nil {
		return nil, err
	}

	d := Evaluate(academyID, count, plan.PlayerLimit, delta)
	d.PlanID = plan.ID
	if !d.Allowed {
		d.Reason = fmt.Sprintf("plan %q allows %d players, academy has %d and requested %d more", plan.Name, plan.PlayerLimit, count, delta)
	}
	e.metrics.ObserveQuota(d.Allowed)
	return d, nil
}

// CheckQuotaWithRetry is CheckQuota with exponential backoff on
// apperr.ErrUnavailable. Only this pure read is retried.
func (e *Enforcer) CheckQuotaWithRetry(ctx context.Context, academyID uint, delta int64) (*Decision, error) {
	wait := e.retryBase
	var lastErr error
	for attempt := 0; attempt <= e.retryAttempts; attempt++ {
		d, err := e.CheckQuota(ctx, academyID, delta)
		if err == nil || !apperr.IsUnavailable(err) {
			return d, err
		}
		lastErr = err
		if attempt == e.retryAttempts {
			break
		}
		log.Warnf("[Quota] Usage unavailable for academy %d (attempt %d/%d): %v", academyID, attempt+1, e.retryAttempts+1, err)
		if sErr := e.sleep(ctx, wait); sErr != nil {
			return nil, errors.Join(lastErr, sErr)
		}
		wait *= 2
	}
	return nil, lastErr
}

// Guard is the hook for the create-player path. It returns an
// *ExceededError when one more player does not fit.
func (e *Enforcer) Guard(ctx context.Context, academyID uint) (*Decision, error) {
	d, err := e.CheckQuotaWithRetry(ctx, academyID, 1)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return d, &ExceededError{Decision: d}
	}
	return d, nil
}

// Usage returns the current snapshot, counting players even on unlimited
// plans.
func (e *Enforcer) Usage(ctx context.Context, academyID uint) (*UsageSnapshot, error) {
	plan, err := e.effectivePlan(ctx, academyID)
	if err != nil {
		return nil, err
	}
	count, err := e.counter.CountActivePlayers(ctx, academyID)
	if err != nil {
		return nil, err
	}
	snap := Snapshot(academyID, count, plan.PlayerLimit)
	return &snap, nil
}

func (e *Enforcer) effectivePlan(ctx context.Context, academyID uint) (*models.Plan, error) {
	sub, err := e.subs.Current(ctx, academyID)
	if err != nil {
		return nil, err
	}
	return e.plans.GetPlan(ctx, sub.PlanID)
}

// Evaluate applies the quota rule: allowed iff count+delta <= limit, and
// always allowed when limit is unlimited.
func Evaluate(academyID uint, count int64, limit int, delta int64) *Decision {
	snap := Snapshot(academyID, count, limit)
	allowed := limit == models.UnlimitedPlayers || count+delta <= int64(limit)
	return &Decision{Allowed: allowed, Usage: snap}
}

// Snapshot computes usage thresholds. A zero limit counts as fully used.
func Snapshot(academyID uint, count int64, limit int) UsageSnapshot {
	snap := UsageSnapshot{AcademyID: academyID, Count: count, Limit: limit}
	if limit == models.UnlimitedPlayers {
		return snap
	}

	pct := AtLimitPercent
	if limit > 0 {
		pct = float64(count) * 100 / float64(limit)
	}
	snap.Percentage = &pct
	snap.NearLimit = pct >= NearLimitPercent
	snap.AtOrOverLimit = pct >= AtLimitPercent
	return snap
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
