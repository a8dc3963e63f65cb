package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/AcademyPlans/app/models"
)

// PlanView is a plan as presented to clients, with the yearly price
// resolved.
type PlanView struct {
	ID           uint     `json:"id"`
	Slug         string   `json:"slug"`
	Name         string   `json:"name"`
	Price        int64    `json:"price"`
	YearlyPrice  *int64   `json:"yearly_price,omitempty"`
	Currency     string   `json:"currency"`
	BillingCycle string   `json:"billing_cycle"`
	PlayerLimit  int      `json:"player_limit"`
	Unlimited    bool     `json:"unlimited"`
	Features     []string `json:"features"`
}

func planView(p *models.Plan) PlanView {
	v := PlanView{
		ID:           p.ID,
		Slug:         p.Slug,
		Name:         p.Name,
		Price:        p.Price,
		Currency:     p.Currency,
		BillingCycle: p.BillingCycle,
		PlayerLimit:  p.PlayerLimit,
		Unlimited:    p.IsUnlimited(),
		Features:     p.Features,
	}
	if amount, err := p.AmountFor(models.BillingCycleYearly); err == nil {
		v.YearlyPrice = &amount
	}
	if v.Features == nil {
		v.Features = []string{}
	}
	return v
}

func planViews(list []models.Plan) []PlanView {
	out := make([]PlanView, 0, len(list))
	for i := range list {
		out = append(out, planView(&list[i]))
	}
	return out
}

// PlanController serves the plan catalog.
type PlanController struct {
	svc *Services
}

func NewPlanController(svc *Services) *PlanController {
	return &PlanController{svc: svc}
}

// HandleListPlans returns the active plans ordered by price.
func (pc *PlanController) HandleListPlans(c *fiber.Ctx) error {
	list, err := pc.svc.Catalog.ListPlans(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": planViews(list)})
}
