package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database/dbtest"
)

func TestPlayerRepositoryCountsOnlyActive(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.New(t))

	academy := &models.Academy{Name: "North FC"}
	require.NoError(t, repos.Academy.Create(ctx, academy))
	other := &models.Academy{Name: "South FC"}
	require.NoError(t, repos.Academy.Create(ctx, other))

	for _, name := range []string{"Ana", "Ben", "Cleo"} {
		require.NoError(t, repos.Player.Create(ctx, &models.Player{AcademyID: academy.ID, Name: name, Status: models.PLAYER_STATUS_ACTIVE}))
	}
	require.NoError(t, repos.Player.Create(ctx, &models.Player{AcademyID: other.ID, Name: "Dora", Status: models.PLAYER_STATUS_ACTIVE}))

	count, err := repos.Player.CountActiveByAcademy(ctx, academy.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	players, err := repos.Player.ListByAcademy(ctx, academy.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, players, 3)
	require.NoError(t, repos.Player.Deactivate(ctx, players[0].ID))

	count, err = repos.Player.CountActiveByAcademy(ctx, academy.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	empty, err := repos.Player.CountActiveByAcademy(ctx, 999)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestAcademyRepositoryExistsAndListIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewAcademyRepository(dbtest.New(t))

	var ids []uint
	for _, name := range []string{"A1", "A2", "A3"} {
		a := &models.Academy{Name: name}
		require.NoError(t, repo.Create(ctx, a))
		ids = append(ids, a.ID)
	}

	ok, err := repo.Exists(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, 4242)
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := repo.ListIDs(ctx, ids[0], 10)
	require.NoError(t, err)
	assert.Equal(t, ids[1:], page)
}

func TestPlanRepositoryGetActiveOrdersByPrice(t *testing.T) {
	ctx := context.Background()
	repo := NewPlanRepository(dbtest.New(t))

	require.NoError(t, repo.Create(ctx, &models.Plan{Slug: "pro", Name: "Pro", Price: 7900, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: 100, IsActive: true}))
	require.NoError(t, repo.Create(ctx, &models.Plan{Slug: "free", Name: "Free", Currency: "USD", BillingCycle: models.BillingCycleFree, PlayerLimit: 3, IsActive: true, Features: []string{"roster"}}))
	retired := &models.Plan{Slug: "legacy", Name: "Legacy", Price: 5000, Currency: "USD", BillingCycle: models.BillingCycleMonthly, PlayerLimit: 50, IsActive: true}
	require.NoError(t, repo.Create(ctx, retired))
	require.NoError(t, dbtestRetire(ctx, repo, retired))

	plans, err := repo.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "free", plans[0].Slug)
	assert.Equal(t, []string{"roster"}, plans[0].Features)
	assert.Equal(t, "pro", plans[1].Slug)

	// Retired plans stay resolvable by ID for existing subscriptions.
	got, err := repo.GetByID(ctx, retired.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = repo.GetBySlug(ctx, "legacy")
	assert.Error(t, err)
}

func dbtestRetire(ctx context.Context, repo PlanRepository, plan *models.Plan) error {
	return repo.(*planRepository).db.WithContext(ctx).Model(plan).Update("is_active", false).Error
}

func TestFactorySharesRepositories(t *testing.T) {
	db := dbtest.New(t)
	f := NewFactory(db)
	first := f.Repositories()
	assert.Same(t, first, f.Repositories())

	assert.Panics(t, func() { GetGlobalRepositories() })
	InitializeFactory(db)
	InitializeFactory(dbtest.New(t))
	global := GetGlobalRepositories()
	assert.Same(t, global, GetGlobalRepositories())

	ctx := context.Background()
	require.NoError(t, global.Academy.Create(ctx, &models.Academy{Name: "Global FC"}))
	ids, err := first.Academy.ListIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
