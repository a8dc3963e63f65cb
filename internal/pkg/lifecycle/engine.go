// Package lifecycle owns every transition of an academy subscription:
// upgrades through payment intents, cancellation, reactivation, expiry and
// renewal. Each transition runs under the academy lock, replaces the
// versioned subscription row and appends exactly one history record in the
// same transaction.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/env"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
)

// Config holds the lifecycle tunables.
type Config struct {
	IntentTTL   time.Duration
	FreeWindow  time.Duration
	LockTimeout time.Duration
	BatchSize   int
}

// DefaultConfig returns a 30 minute payment window and a 365 day free period.
func DefaultConfig() Config {
	return Config{
		IntentTTL:   30 * time.Minute,
		FreeWindow:  365 * 24 * time.Hour,
		LockTimeout: 10 * time.Second,
		BatchSize:   100,
	}
}

// ConfigFromEnv reads INTENT_TTL, FREE_PLAN_WINDOW, LOCK_TIMEOUT and SWEEP_BATCH_SIZE.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		IntentTTL:   env.GetEnvDuration("INTENT_TTL", def.IntentTTL),
		FreeWindow:  env.GetEnvDuration("FREE_PLAN_WINDOW", def.FreeWindow),
		LockTimeout: env.GetEnvDuration("LOCK_TIMEOUT", def.LockTimeout),
		BatchSize:   env.GetEnvInt("SWEEP_BATCH_SIZE", def.BatchSize),
	}
}

// PlanSource resolves catalog plans.
type PlanSource interface {
	GetPlan(ctx context.Context, id uint) (*models.Plan, error)
	FreePlan(ctx context.Context) (*models.Plan, error)
}

// AcademyDirectory answers whether an academy exists.
type AcademyDirectory interface {
	Exists(ctx context.Context, id uint) (bool, error)
}

// CheckoutRequest describes the payment a provider session must collect.
type CheckoutRequest struct {
	IntentID  string
	AcademyID uint
	PlanName  string
	Cycle     string
	Amount    int64
	Currency  string
}

// CheckoutSession is the provider side of a payment intent.
type CheckoutSession struct {
	Ref string
	URL string
}

// CheckoutProvider starts an external payment flow.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// Charge statuses returned by a RenewalCharger.
const (
	ChargeSucceeded = "succeeded"
	ChargePending   = "pending"
	ChargeFailed    = "failed"
)

// ChargeResult is the synchronous answer of a renewal charge.
type ChargeResult struct {
	Status        string
	Provider      string
	ProviderTxnID string
	SessionRef    string
	AmountPaid    int64
	Currency      string
	Reason        string
}

// RenewalCharger charges the stored payment method for a renewal intent.
type RenewalCharger interface {
	ChargeRenewal(ctx context.Context, intent *models.PaymentIntent) (*ChargeResult, error)
}

// Receipt is the provider evidence a transition was driven by. It is stored
// with the transition so a provider transaction applies at most once.
type Receipt struct {
	Provider       string
	ProviderTxnID  string
	Outcome        string
	AmountPaid     int64
	Currency       string
	PayloadJSON    string
	SignatureValid bool
	Result         string
}

func (r *Receipt) Event(intentRef string) *models.PaymentEvent {
	return &models.PaymentEvent{
		Provider:       r.Provider,
		ProviderTxnID:  r.ProviderTxnID,
		IntentRef:      intentRef,
		Outcome:        r.Outcome,
		AmountPaid:     r.AmountPaid,
		Currency:       r.Currency,
		PayloadJSON:    r.PayloadJSON,
		SignatureValid: r.SignatureValid,
		Result:         r.Result,
	}
}

// PendingUpgrade is returned by RequestUpgrade.
type PendingUpgrade struct {
	Intent      *models.PaymentIntent `json:"intent"`
	CheckoutURL string                `json:"checkout_url,omitempty"`
}

// Engine implements the subscription state machine.
type Engine struct {
	store     subscription.Store
	plans     PlanSource
	academies AcademyDirectory
	locker    lock.Locker
	checkout  CheckoutProvider
	charger   RenewalCharger
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckout sets the provider that opens checkout sessions for upgrades.
func WithCheckout(p CheckoutProvider) Option {
	return func(e *Engine) { e.checkout = p }
}

// WithRenewalCharger sets the charger used for auto-renewals.
func WithRenewalCharger(c RenewalCharger) Option {
	return func(e *Engine) { e.charger = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store subscription.Store, plans PlanSource, academies AcademyDirectory, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		plans:     plans,
		academies: academies,
		locker:    locker,
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// LockTimeout is how long mutations wait for a per-academy lock.
func (e *Engine) LockTimeout() time.Duration {
	return e.cfg.LockTimeout
}

// withAcademy runs fn while holding the academy lock.
func (e *Engine) withAcademy(ctx context.Context, academyID uint, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()

	unlock, err := e.locker.Lock(lockCtx, lock.AcademyKey(academyID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: academy %d is busy: %v", apperr.ErrConflict, academyID, err)
		}
		return fmt.Errorf("%w: lock academy %d: %v", apperr.ErrUnavailable, academyID, err)
	}
	defer unlock()
	return fn()
}

func (e *Engine) requireAcademy(ctx context.Context, academyID uint) error {
	ok, err := e.academies.Exists(ctx, academyID)
	if err != nil {
		return fmt.Errorf("%w: look up academy %d: %v", apperr.ErrUnavailable, academyID, err)
	}
	if !ok {
		return fmt.Errorf("%w: academy %d", apperr.ErrNotFound, academyID)
	}
	return nil
}

func (e *Engine) committed(recs ...*models.SubscriptionHistoryRecord) {
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		e.metrics.ObserveTransition(rec.Action)
		log.Infof("[Lifecycle] Academy %d: %s (%s -> %s, plan %d)", rec.AcademyID, rec.Action, rec.PreviousStatus, rec.NewStatus, rec.NewPlanID)
	}
}

func historyRecord(sub *models.Subscription, action string, prevPlanID uint, prevStatus, notes string) *models.SubscriptionHistoryRecord {
	rec := &models.SubscriptionHistoryRecord{
		SubscriptionID: sub.ID,
		AcademyID:      sub.AcademyID,
		Action:         action,
		NewPlanID:      sub.PlanID,
		PreviousStatus: prevStatus,
		NewStatus:      sub.Status,
		Notes:          notes,
	}
	if prevPlanID != 0 {
		p := prevPlanID
		rec.PreviousPlanID = &p
	}
	return rec
}

// moveToFree puts sub on the free plan for a fresh free window.
func (e *Engine) moveToFree(sub *models.Subscription, free *models.Plan, now time.Time) {
	sub.PlanID = free.ID
	sub.Status = models.SubscriptionStatusFreeActive
	sub.BillingCycle = models.BillingCycleFree
	sub.StartDate = now
	sub.EndDate = models.CycleEnd(now, models.BillingCycleFree, e.cfg.FreeWindow)
	sub.AutoRenew = false
}
