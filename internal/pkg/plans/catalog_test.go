package plans

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database/dbtest"
)

func seededCatalog(t *testing.T, opts ...Option) (*Catalog, repository.PlanRepository) {
	t.Helper()
	repo := repository.NewPlanRepository(dbtest.New(t))
	n, err := Seed(context.Background(), repo, DefaultPlans(3))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return NewCatalog(repo, opts...), repo
}

func TestSeedIsIdempotent(t *testing.T) {
	_, repo := seededCatalog(t)
	n, err := Seed(context.Background(), repo, DefaultPlans(3))
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestListPlansAndYearlyPricing(t *testing.T) {
	catalog, _ := seededCatalog(t)
	list, err := catalog.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 4)

	yearly := map[string]int64{}
	for i := range list {
		if list[i].IsFree() {
			continue
		}
		amount, err := list[i].AmountFor(models.BillingCycleYearly)
		require.NoError(t, err)
		yearly[list[i].Slug] = amount
	}
	assert.Equal(t, map[string]int64{"basic": 27840, "pro": 75840, "elite": 143040}, yearly)
}

func TestGetPlanNotFound(t *testing.T) {
	catalog, _ := seededCatalog(t)

	_, err := catalog.GetPlan(context.Background(), 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = catalog.GetPlanBySlug(context.Background(), "platinum")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	free, err := catalog.FreePlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, free.PlayerLimit)
	assert.True(t, HasFeature(free, FeatureRoster))
	assert.False(t, HasFeature(free, FeatureReports))
}

func TestListPlansReadThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	catalog, repo := seededCatalog(t, WithCache(rdb, time.Minute))
	ctx := context.Background()

	first, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(activePlansKey))

	// A plan added behind the cache is only visible after invalidation.
	require.NoError(t, repo.Create(ctx, &models.Plan{Slug: "club", Name: "Club", Price: 19900, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: 500, IsActive: true}))
	cached, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, len(first))

	catalog.Invalidate(ctx)
	fresh, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, len(first)+1)
}

func TestListPlansFallsBackWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	catalog, _ := seededCatalog(t, WithCache(rdb, time.Minute))
	mr.Close()

	list, err := catalog.ListPlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 4)
}
