package plans

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
)

// Feature flags advertised by the default tiers.
const (
	FeatureRoster          = "roster"
	FeatureAttendance      = "attendance"
	FeatureReports         = "reports"
	FeatureParentPortal    = "parent_portal"
	FeaturePrioritySupport = "priority_support"
)

// DefaultPlans returns the catalog installed on an empty database. The free
// player limit is configurable; prices are in cents.
func DefaultPlans(freeLimit int) []models.Plan {
	return []models.Plan{
		{Slug: FreePlanSlug, Name: "Free", Price: 0, Currency: "USD", BillingCycle: models.BillingCycleFree, PlayerLimit: freeLimit, Features: []string{FeatureRoster}, IsActive: true},
		{Slug: "basic", Name: "Basic", Price: 2900, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: 25, Features: []string{FeatureRoster, FeatureAttendance}, IsActive: true},
		{Slug: "pro", Name: "Pro", Price: 7900, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: 100, Features: []string{FeatureRoster, FeatureAttendance, FeatureReports}, IsActive: true},
		{Slug: "elite", Name: "Elite", Price: 14900, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: models.UnlimitedPlayers, Features: []string{FeatureRoster, FeatureAttendance, FeatureReports, FeatureParentPortal, FeaturePrioritySupport}, IsActive: true},
	}
}

// Seed installs plans when the plan table is empty. It returns the number of
// rows created.
func Seed(ctx context.Context, repo repository.PlanRepository, plans []models.Plan) (int, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count plans: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for i := range plans {
		if err := repo.Create(ctx, &plans[i]); err != nil {
			return i, fmt.Errorf("create plan %s: %w", plans[i].Slug, err)
		}
	}
	log.Infof("[Plans] Seeded %d default plans", len(plans))
	return len(plans), nil
}

// HasFeature reports whether plan advertises feature.
func HasFeature(plan *models.Plan, feature string) bool {
	if plan == nil {
		return false
	}
	for _, f := range plan.Features {
		if f == feature {
			return true
		}
	}
	return false
}
