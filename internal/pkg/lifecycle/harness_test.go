package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/plans"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine  *Engine
	store   subscription.Store
	catalog *plans.Catalog
	repos   *repository.Repositories
	clock   *testClock
	plan    map[string]*models.Plan
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	_, err := plans.Seed(ctx, repos.Plan, plans.DefaultPlans(3))
	require.NoError(t, err)

	clk := &testClock{t: start}
	store := subscription.NewStore(db, subscription.WithClock(clk.Now))
	catalog := plans.NewCatalog(repos.Plan)

	h := &harness{
		store:   store,
		catalog: catalog,
		repos:   repos,
		clock:   clk,
		plan:    map[string]*models.Plan{},
	}
	all, err := catalog.ListPlans(ctx)
	require.NoError(t, err)
	for i := range all {
		h.plan[all[i].Slug] = &all[i]
	}

	opts = append([]Option{WithClock(clk.Now)}, opts...)
	h.engine = New(store, catalog, repos.Academy, lock.NewLocal(), opts...)
	return h
}

func (h *harness) academy(t *testing.T) uint {
	t.Helper()
	a := &models.Academy{Name: "Academy " + t.Name()}
	require.NoError(t, h.repos.Academy.Create(context.Background(), a))
	return a.ID
}

func (h *harness) addPlayers(t *testing.T, academyID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.repos.Player.Create(context.Background(), &models.Player{AcademyID: academyID, Name: "Player", Status: models.PLAYER_STATUS_ACTIVE}))
	}
}

func (h *harness) history(t *testing.T, academyID uint) []string {
	t.Helper()
	recs, err := h.engine.History(context.Background(), academyID)
	require.NoError(t, err)
	actions := make([]string, 0, len(recs))
	for _, r := range recs {
		actions = append(actions, r.Action)
	}
	return actions
}

// activate puts an academy on slug through a confirmed upgrade.
func (h *harness) activate(t *testing.T, academyID uint, slug, cycle string) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	pending, err := h.engine.RequestUpgrade(ctx, academyID, h.plan[slug].ID, cycle)
	require.NoError(t, err)
	sub, err := h.engine.ConfirmUpgrade(ctx, pending.Intent.ID, nil)
	require.NoError(t, err)
	return sub
}

type stubCharger struct {
	result *ChargeResult
	err    error
	calls  int
}

func (s *stubCharger) ChargeRenewal(_ context.Context, intent *models.PaymentIntent) (*ChargeResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	if res.Status == ChargeSucceeded && res.AmountPaid == 0 {
		res.AmountPaid = intent.ExpectedAmount
		res.Currency = intent.Currency
	}
	return &res, nil
}

type stubCheckout struct {
	requests []CheckoutRequest
	err      error
}

func (s *stubCheckout) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	return &CheckoutSession{Ref: "cs_" + req.IntentID[:8], URL: "https://pay.example/" + req.IntentID}, nil
}
