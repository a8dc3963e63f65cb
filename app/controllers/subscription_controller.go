package controllers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

// SubscriptionController exposes the academy subscription lifecycle.
type SubscriptionController struct {
	svc *Services
}

func NewSubscriptionController(svc *Services) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

type upgradeRequest struct {
	PlanID       uint   `json:"plan_id" validate:"required_without=Plan"`
	Plan         string `json:"plan" validate:"omitempty,max=50"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly lifetime"`
}

func (sc *SubscriptionController) render(c *fiber.Ctx, sub *models.Subscription) error {
	plan, err := sc.svc.Catalog.GetPlan(c.UserContext(), sub.PlanID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscription":   sub,
		"plan":           planView(plan),
		"days_remaining": sub.DaysRemainingAt(time.Now()),
	})
}

// HandleGetSubscription returns the academy's subscription, creating the
// free default on first access.
func (sc *SubscriptionController) HandleGetSubscription(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	sub, err := sc.svc.Engine.Current(c.UserContext(), academyID)
	if err != nil {
		return respondError(c, err)
	}
	return sc.render(c, sub)
}

func (sc *SubscriptionController) HandleGetHistory(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	recs, err := sc.svc.Engine.History(c.UserContext(), academyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"history": recs})
}

// HandleUpgrade opens a payment intent and returns the checkout link.
func (sc *SubscriptionController) HandleUpgrade(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req upgradeRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx := c.UserContext()
	planID := req.PlanID
	if planID == 0 {
		plan, err := sc.svc.Catalog.GetPlanBySlug(ctx, req.Plan)
		if err != nil {
			if apperr.IsNotFound(err) {
				return respondError(c, fmt.Errorf("%w: unknown plan %q", apperr.ErrInvalidInput, req.Plan))
			}
			return respondError(c, err)
		}
		planID = plan.ID
	}

	pending, err := sc.svc.Engine.RequestUpgrade(ctx, academyID, planID, req.BillingCycle)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":       models.SubscriptionStatusPendingUpgrade,
		"intent":       pending.Intent,
		"checkout_url": pending.CheckoutURL,
	})
}

func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	sub, err := sc.svc.Engine.Cancel(c.UserContext(), academyID)
	if err != nil {
		return respondError(c, err)
	}
	return sc.render(c, sub)
}

func (sc *SubscriptionController) HandleReactivate(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	sub, err := sc.svc.Engine.Reactivate(c.UserContext(), academyID)
	if err != nil {
		return respondError(c, err)
	}
	return sc.render(c, sub)
}
