package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lifecycle"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/metrics"
)

// Lifecycle is the part of the engine payment events drive.
type Lifecycle interface {
	ConfirmUpgrade(ctx context.Context, intentID string, receipt *lifecycle.Receipt) (*models.Subscription, error)
	FailUpgrade(ctx context.Context, intentID, reason string, receipt *lifecycle.Receipt) (*models.Subscription, error)
	ExpireIntent(ctx context.Context, intentID string, receipt *lifecycle.Receipt) (*models.Subscription, error)
}

// IntentStore resolves intents and receipts.
type IntentStore interface {
	GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindReceipt(ctx context.Context, providerTxnID string) (*models.PaymentEvent, error)
	SaveReceipt(ctx context.Context, event *models.PaymentEvent) (bool, error)
}

// PaymentVerifier asks the provider for the state of an intent's payment.
// A nil event means the payment is not settled yet.
type PaymentVerifier interface {
	FetchPayment(ctx context.Context, intent *models.PaymentIntent) (*PaymentEvent, error)
}

// Reconciler applies provider payment events to subscriptions.
type Reconciler struct {
	engine   Lifecycle
	store    IntentStore
	verifier PaymentVerifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithVerifier(v PaymentVerifier) ReconcilerOption {
	return func(r *Reconciler) { r.verifier = v }
}

func WithMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock overrides the time source used to judge intent expiry.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a reconciler on top of the lifecycle engine.
func NewReconciler(engine Lifecycle, store IntentStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{engine: engine, store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// maxAttempts bounds re-evaluation after losing a race against another
// delivery or the intent sweeper.
const maxAttempts = 3

// HandlePaymentEvent reconciles one provider event. Duplicates, late and
// unknown events are acknowledged with a Result; an error is returned only
// when the event could not be processed and should be redelivered.
func (r *Reconciler) HandlePaymentEvent(ctx context.Context, in PaymentEvent) (*Result, error) {
	ev, err := normalizeEvent(in)
	if err != nil {
		return nil, err
	}
	if ev.IntentRef == "" {
		return nil, fmt.Errorf("%w: payment event without intent reference", apperr.ErrInvalidInput)
	}
	if ev.ProviderTxnID == "" {
		return nil, fmt.Errorf("%w: payment event without transaction id", apperr.ErrInvalidInput)
	}

	var res *Result
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err = r.reconcile(ctx, ev)
		if err == nil || !errors.Is(err, apperr.ErrIntentAlreadyConsumed) {
			break
		}
		log.Infof("[Billing] Event %s raced on intent %s, re-evaluating", ev.ProviderTxnID, ev.IntentRef)
	}
	if err != nil {
		log.Errorf("[Billing] Event %s for intent %s failed: %v", ev.ProviderTxnID, ev.IntentRef, err)
		return nil, err
	}

	r.metrics.ObservePaymentEvent(res.Status)
	if res.NeedsReview {
		log.Warnf("[Billing] Event %s for intent %s needs review: %s", ev.ProviderTxnID, ev.IntentRef, res.Status)
	} else {
		log.Infof("[Billing] Event %s for intent %s: %s", ev.ProviderTxnID, ev.IntentRef, res.Status)
	}
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, ev PaymentEvent) (*Result, error) {
	if prior, err := r.store.FindReceipt(ctx, ev.ProviderTxnID); err == nil {
		return &Result{Status: models.PaymentResultAlreadyProcessed, IntentID: prior.IntentRef}, nil
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	intent, err := r.store.GetIntent(ctx, ev.IntentRef)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		return r.acknowledge(ctx, ev, &Result{Status: models.PaymentResultAlreadyProcessed, IntentID: ev.IntentRef}, "unknown intent")
	}
	if intent.IsConsumed() {
		return r.consumed(ctx, ev, intent)
	}

	success := ev.Outcome == models.PaymentOutcomeSuccess
	if intent.IsExpiredAt(r.now()) {
		return r.expire(ctx, ev, intent)
	}

	// A payment whose currency cannot be checked is not accepted.
	if success && ev.Currency != intent.Currency {
		paid := ev.Currency
		if paid == "" {
			paid = "no currency"
		}
		reason := fmt.Sprintf("currency mismatch: paid %s, expected %s", paid, intent.Currency)
		return r.fail(ctx, ev, intent, models.PaymentResultCurrencyMismatch, reason,
			fmt.Errorf("%w: %s", apperr.ErrAmountMismatch, reason))
	}
	if success && ev.AmountPaid != intent.ExpectedAmount {
		reason := fmt.Sprintf("amount mismatch: paid %d, expected %d %s", ev.AmountPaid, intent.ExpectedAmount, intent.Currency)
		return r.fail(ctx, ev, intent, models.PaymentResultAmountMismatch, reason,
			fmt.Errorf("%w: %s", apperr.ErrAmountMismatch, reason))
	}

	if !success {
		reason := ev.Reason
		if reason == "" {
			reason = "payment declined by provider"
		}
		return r.fail(ctx, ev, intent, models.PaymentResultFailed, reason, nil)
	}

	sub, err := r.engine.ConfirmUpgrade(ctx, intent.ID, receiptFor(ev, models.PaymentResultConfirmed))
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrIntentExpired):
			return r.expire(ctx, ev, intent)
		case apperr.IsInvalidStateTransition(err):
			return r.acknowledge(ctx, ev, &Result{Status: models.PaymentResultNeedsReview, IntentID: intent.ID, NeedsReview: true, Rejection: err}, err.Error())
		}
		return nil, err
	}
	return &Result{Status: models.PaymentResultConfirmed, IntentID: intent.ID, Subscription: sub}, nil
}

// consumed handles events for an intent that already has an outcome. Money
// reported for an intent that did not succeed is flagged for review.
func (r *Reconciler) consumed(ctx context.Context, ev PaymentEvent, intent *models.PaymentIntent) (*Result, error) {
	res := &Result{Status: models.PaymentResultAlreadyProcessed, IntentID: intent.ID}
	if ev.Outcome == models.PaymentOutcomeSuccess && intent.Outcome != models.IntentOutcomeSucceeded {
		res.NeedsReview = true
		if intent.Outcome == models.IntentOutcomeExpired {
			res.Status = models.PaymentResultIntentExpired
			res.Rejection = fmt.Errorf("%w: intent %s", apperr.ErrIntentExpired, intent.ID)
		}
	}
	note := "intent already " + intent.Outcome
	if res.NeedsReview {
		stored := *res
		stored.Status = models.PaymentResultNeedsReview
		if _, err := r.acknowledge(ctx, ev, &stored, note); err != nil {
			return nil, err
		}
		return res, nil
	}
	return r.acknowledge(ctx, ev, res, note)
}

// expire closes an intent whose window elapsed. A late success is treated
// like a failure and flagged for review.
func (r *Reconciler) expire(ctx context.Context, ev PaymentEvent, intent *models.PaymentIntent) (*Result, error) {
	success := ev.Outcome == models.PaymentOutcomeSuccess
	stored := models.PaymentResultIntentExpired
	if success {
		stored = models.PaymentResultNeedsReview
	}
	sub, err := r.engine.ExpireIntent(ctx, intent.ID, receiptFor(ev, stored))
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:       models.PaymentResultIntentExpired,
		IntentID:     intent.ID,
		Subscription: sub,
		NeedsReview:  success,
		Rejection:    fmt.Errorf("%w: intent %s expired at %s", apperr.ErrIntentExpired, intent.ID, intent.ExpiresAt.Format(time.RFC3339)),
	}, nil
}

func (r *Reconciler) fail(ctx context.Context, ev PaymentEvent, intent *models.PaymentIntent, status, reason string, rejection error) (*Result, error) {
	sub, err := r.engine.FailUpgrade(ctx, intent.ID, reason, receiptFor(ev, status))
	if err != nil {
		if errors.Is(err, apperr.ErrIntentExpired) {
			return r.expire(ctx, ev, intent)
		}
		return nil, err
	}
	return &Result{Status: status, IntentID: intent.ID, Subscription: sub, Rejection: rejection}, nil
}

// acknowledge stores an event that applied no transition so later
// deliveries take the fast path.
func (r *Reconciler) acknowledge(ctx context.Context, ev PaymentEvent, res *Result, note string) (*Result, error) {
	event := receiptFor(ev, res.Status).Event(ev.IntentRef)
	event.ProcessingError = note
	if _, err := r.store.SaveReceipt(ctx, event); err != nil {
		return nil, err
	}
	return res, nil
}

// Verify asks the provider about an intent and reconciles the answer, for
// clients returning from checkout before the webhook arrives.
func (r *Reconciler) Verify(ctx context.Context, intentID string) (*Result, error) {
	intent, err := r.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsConsumed() {
		status := models.PaymentResultAlreadyProcessed
		if intent.Outcome == models.IntentOutcomeSucceeded {
			status = models.PaymentResultConfirmed
		}
		return &Result{Status: status, IntentID: intent.ID}, nil
	}
	if r.verifier == nil {
		return nil, fmt.Errorf("%w: no payment provider configured", apperr.ErrUnavailable)
	}

	ev, err := r.verifier.FetchPayment(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: verify intent %s: %v", apperr.ErrUnavailable, intent.ID, err)
	}
	if ev == nil {
		return &Result{Status: ResultPending, IntentID: intent.ID}, nil
	}
	if ev.IntentRef == "" {
		ev.IntentRef = intent.ID
	}
	return r.HandlePaymentEvent(ctx, *ev)
}

func receiptFor(ev PaymentEvent, result string) *lifecycle.Receipt {
	return &lifecycle.Receipt{
		Provider:       ev.Provider,
		ProviderTxnID:  ev.ProviderTxnID,
		Outcome:        ev.Outcome,
		AmountPaid:     ev.AmountPaid,
		Currency:       ev.Currency,
		PayloadJSON:    ev.PayloadJSON,
		SignatureValid: ev.SignatureValid,
		Result:         result,
	}
}
