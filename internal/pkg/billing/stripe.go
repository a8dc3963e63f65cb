package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/env"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lifecycle"
)

// StripeSignatureHeader is the header Stripe signs webhook deliveries with.
const StripeSignatureHeader = "Stripe-Signature"

const metadataIntentID = "intent_id"

// StripeConfig holds the Stripe credentials and redirect targets. The
// redirect URLs may contain {INTENT_ID}.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

func StripeConfigFromEnv() StripeConfig {
	return StripeConfig{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		SuccessURL:    env.GetEnv("CHECKOUT_SUCCESS_URL", "http://localhost:8080/billing/return?intent={INTENT_ID}"),
		CancelURL:     env.GetEnv("CHECKOUT_CANCEL_URL", "http://localhost:8080/billing/cancel?intent={INTENT_ID}"),
	}
}

// Enabled reports whether a secret key is configured.
func (c StripeConfig) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Stripe collects payments through hosted Checkout sessions. It opens
// sessions for upgrades and renewals and reads them back for verification.
type Stripe struct {
	cfg      StripeConfig
	sessions checkoutSessions
}

func NewStripe(cfg StripeConfig) *Stripe {
	return &Stripe{
		cfg:      cfg,
		sessions: &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey},
	}
}

// CreateCheckoutSession opens a one-off payment for the intent.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req lifecycle.CheckoutRequest) (*lifecycle.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.IntentID),
		SuccessURL:        stripe.String(withIntent(s.cfg.SuccessURL, req.IntentID)),
		CancelURL:         stripe.String(withIntent(s.cfg.CancelURL, req.IntentID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s (%s)", req.PlanName, req.Cycle)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataIntentID, req.IntentID)
	params.AddMetadata("academy_id", strconv.FormatUint(uint64(req.AcademyID), 10))

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &lifecycle.CheckoutSession{Ref: sess.ID, URL: sess.URL}, nil
}

// ChargeRenewal opens a checkout session for a renewal intent. The renewal
// stays pending until the session is paid or the intent expires.
func (s *Stripe) ChargeRenewal(ctx context.Context, intent *models.PaymentIntent) (*lifecycle.ChargeResult, error) {
	sess, err := s.CreateCheckoutSession(ctx, lifecycle.CheckoutRequest{
		IntentID:  intent.ID,
		AcademyID: intent.AcademyID,
		PlanName:  "Subscription renewal",
		Cycle:     intent.BillingCycle,
		Amount:    intent.ExpectedAmount,
		Currency:  intent.Currency,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Stripe] Renewal checkout %s opened for academy %d", sess.Ref, intent.AcademyID)
	return &lifecycle.ChargeResult{
		Status:     lifecycle.ChargePending,
		Provider:   models.PaymentProviderStripe,
		SessionRef: sess.Ref,
	}, nil
}

// FetchPayment reads the intent's checkout session. Open sessions yield no
// event.
func (s *Stripe) FetchPayment(ctx context.Context, intent *models.PaymentIntent) (*PaymentEvent, error) {
	if intent.ProviderSessionRef == "" {
		return nil, nil
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(intent.ProviderSessionRef, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get session %s: %w", intent.ProviderSessionRef, err)
	}
	ev := eventFromSession(sess)
	if ev != nil && ev.IntentRef == "" {
		ev.IntentRef = intent.ID
	}
	return ev, nil
}

// ParseWebhook verifies a Stripe delivery and converts checkout session
// events. Other event types return a nil event.
func (s *Stripe) ParseWebhook(payload []byte, signatureHeader string) (*PaymentEvent, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret not configured", apperr.ErrUnavailable)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: stripe signature verification failed: %v", apperr.ErrInvalidInput, err)
	}
	if event.Data == nil {
		return nil, nil
	}

	var sess stripe.CheckoutSession
	var ev *PaymentEvent
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.expired":
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", apperr.ErrInvalidInput, err)
		}
		ev = eventFromSession(&sess)
	case "checkout.session.async_payment_failed":
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", apperr.ErrInvalidInput, err)
		}
		ev = sessionEvent(&sess, models.PaymentOutcomeFailure, "asynchronous payment failed")
	default:
		log.Debugf("[Stripe] Ignoring event %s of type %s", event.ID, event.Type)
		return nil, nil
	}
	if ev == nil {
		return nil, nil
	}
	ev.PayloadJSON = string(payload)
	ev.SignatureValid = true
	return ev, nil
}

func eventFromSession(sess *stripe.CheckoutSession) *PaymentEvent {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return sessionEvent(sess, models.PaymentOutcomeSuccess, "")
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return sessionEvent(sess, models.PaymentOutcomeFailure, "checkout session expired")
	default:
		return nil
	}
}

// sessionEvent keys the event on the session id so the webhook and an
// explicit verify of the same payment collapse into one receipt.
func sessionEvent(sess *stripe.CheckoutSession, outcome, reason string) *PaymentEvent {
	intentRef := sess.Metadata[metadataIntentID]
	if intentRef == "" {
		intentRef = sess.ClientReferenceID
	}
	return &PaymentEvent{
		Provider:      models.PaymentProviderStripe,
		ProviderTxnID: sess.ID,
		IntentRef:     intentRef,
		Outcome:       outcome,
		AmountPaid:    sess.AmountTotal,
		Currency:      string(sess.Currency),
		Reason:        reason,
	}
}

func withIntent(url, intentID string) string {
	return strings.ReplaceAll(url, "{INTENT_ID}", intentID)
}
