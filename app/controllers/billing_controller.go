package controllers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/billing"
)

// BillingController receives payment provider callbacks and explicit
// verification requests.
type BillingController struct {
	svc *Services
}

func NewBillingController(svc *Services) *BillingController {
	return &BillingController{svc: svc}
}

func resultBody(res *billing.Result) fiber.Map {
	body := fiber.Map{
		"received":     true,
		"status":       res.Status,
		"intent_id":    res.IntentID,
		"needs_review": res.NeedsReview,
	}
	if res.Subscription != nil {
		body["subscription"] = res.Subscription
	}
	if res.Rejection != nil {
		body["rejection"] = apperr.Code(res.Rejection)
		body["message"] = res.Rejection.Error()
	}
	return body
}

// HandleWebhook accepts provider-neutral payment events signed with the
// shared webhook secret. Duplicates and late events are acknowledged with
// 200; only processing faults ask the provider to redeliver.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	if strings.TrimSpace(bc.svc.WebhookSecret) == "" {
		return respondError(c, fmt.Errorf("%w: payment webhook secret not configured", apperr.ErrUnavailable))
	}
	payload := c.Body()
	if !billing.VerifyWebhookSignature(payload, c.Get(billing.SignatureHeader), bc.svc.WebhookSecret) {
		log.Warnf("[Billing] Rejected webhook with invalid signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
	}

	var ev billing.PaymentEvent
	if err := parseBody(c, &ev); err != nil {
		return respondError(c, err)
	}
	ev.PayloadJSON = string(payload)
	ev.SignatureValid = true

	res, err := bc.svc.Reconciler.HandlePaymentEvent(c.UserContext(), ev)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resultBody(res))
}

// HandleStripeWebhook accepts Stripe checkout session events.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	if bc.svc.Stripe == nil {
		return respondError(c, fmt.Errorf("%w: stripe is not configured", apperr.ErrUnavailable))
	}
	ev, err := bc.svc.Stripe.ParseWebhook(c.Body(), c.Get(billing.StripeSignatureHeader))
	if err != nil {
		if apperr.IsExpected(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": err.Error()})
		}
		return respondError(c, err)
	}
	if ev == nil {
		return c.JSON(fiber.Map{"received": true, "ignored": true})
	}

	res, err := bc.svc.Reconciler.HandlePaymentEvent(c.UserContext(), *ev)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resultBody(res))
}

// HandleVerifyIntent asks the provider about an intent, for clients that
// return from checkout before the webhook was delivered.
func (bc *BillingController) HandleVerifyIntent(c *fiber.Ctx) error {
	intentID := strings.TrimSpace(c.Params("id"))
	if intentID == "" {
		return respondError(c, fmt.Errorf("%w: intent id required", apperr.ErrInvalidInput))
	}
	res, err := bc.svc.Reconciler.Verify(c.UserContext(), intentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resultBody(res))
}
