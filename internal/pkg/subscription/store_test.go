package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database/dbtest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSub(academyID uint) *models.Subscription {
	end := t0.AddDate(0, 1, 0)
	return &models.Subscription{
		AcademyID:    academyID,
		PlanID:       2,
		Status:       models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly,
		StartDate:    t0,
		EndDate:      &end,
		AutoRenew:    true,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.SubscriptionStatusFreeActive, models.SubscriptionStatusPendingUpgrade, true},
		{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusActive, true},
		{models.SubscriptionStatusActive, models.SubscriptionStatusCancelRequested, true},
		{models.SubscriptionStatusCancelRequested, models.SubscriptionStatusExpired, true},
		{models.SubscriptionStatusExpired, models.SubscriptionStatusFreeActive, true},
		{models.SubscriptionStatusFreeActive, models.SubscriptionStatusCancelRequested, false},
		{models.SubscriptionStatusFreeActive, models.SubscriptionStatusActive, false},
		{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusCancelRequested, true},
		{models.SubscriptionStatusExpired, models.SubscriptionStatusCancelRequested, false},
		{models.SubscriptionStatusCancelRequested, models.SubscriptionStatusCancelRequested, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	err := CheckTransition(models.SubscriptionStatusFreeActive, models.SubscriptionStatusCancelRequested)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	assert.Equal(t, []string{
		models.SubscriptionStatusCancelRequested,
		models.SubscriptionStatusExpired,
		models.SubscriptionStatusPendingUpgrade,
	}, ValidTransitionsFrom(models.SubscriptionStatusActive))
}

func TestReplaceRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t))

	sub := newSub(1)
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error { return tx.Create(sub) }))
	assert.Equal(t, uint(1), sub.Version)

	stale := sub.Clone()
	sub.Status = models.SubscriptionStatusCancelRequested
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error { return tx.Replace(sub) }))
	assert.Equal(t, uint(2), sub.Version)

	stale.AutoRenew = false
	err := store.Atomic(ctx, func(tx Tx) error { return tx.Replace(stale) })
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := store.GetActive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelRequested, got.Status)
	assert.True(t, got.AutoRenew)
	assert.Equal(t, uint(2), got.Version)
}

func TestCreateSecondSubscriptionConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t))

	require.NoError(t, store.Atomic(ctx, func(tx Tx) error { return tx.Create(newSub(5)) }))
	err := store.Atomic(ctx, func(tx Tx) error { return tx.Create(newSub(5)) })
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = store.GetActive(ctx, 6)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAtomicRollsBackTogether(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t))
	sub := newSub(1)
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error { return tx.Create(sub) }))

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(tx Tx) error {
		sub.Status = models.SubscriptionStatusCancelRequested
		if err := tx.Replace(sub); err != nil {
			return err
		}
		if err := tx.Append(&models.SubscriptionHistoryRecord{SubscriptionID: sub.ID, AcademyID: 1, Action: models.HistoryActionCancelled, NewPlanID: 2, NewStatus: sub.Status}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetActive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)

	history, err := store.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConsumeIntentOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t), WithClock(func() time.Time { return t0 }))

	intent := &models.PaymentIntent{ID: "8f0c1f3e-8a34-4e55-9d3a-2f1f0b6a7c11", AcademyID: 1, SubscriptionID: 1, Kind: models.IntentKindUpgrade, TargetPlanID: 3, BillingCycle: models.BillingCycleMonthly, ExpectedAmount: 7900, Currency: "USD", ExpiresAt: t0.Add(30 * time.Minute)}
	intent.SnapshotFrom(newSub(1))
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error { return tx.CreateIntent(intent) }))

	require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
		open, err := tx.OpenIntent(1)
		if err != nil {
			return err
		}
		return tx.ConsumeIntent(open, models.IntentOutcomeSucceeded)
	}))

	err := store.Atomic(ctx, func(tx Tx) error { return tx.ConsumeIntent(intent, models.IntentOutcomeFailed) })
	assert.ErrorIs(t, err, apperr.ErrIntentAlreadyConsumed)

	// Consumed intents stay resolvable for idempotent confirmations.
	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConsumed())
	assert.Equal(t, models.IntentOutcomeSucceeded, got.Outcome)

	err = store.Atomic(ctx, func(tx Tx) error {
		_, err := tx.OpenIntent(1)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = store.GetIntent(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordReceiptDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t))

	event := func() *models.PaymentEvent {
		return &models.PaymentEvent{Provider: models.PaymentProviderStripe, ProviderTxnID: "txn_1", IntentRef: "i-1", Outcome: models.PaymentOutcomeSuccess, AmountPaid: 7900, Currency: "USD"}
	}
	var first, second bool
	require.NoError(t, store.Atomic(ctx, func(tx Tx) (err error) {
		first, err = tx.RecordReceipt(event())
		return err
	}))
	second, err := store.SaveReceipt(ctx, event())
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	got, err := store.FindReceipt(ctx, "txn_1")
	require.NoError(t, err)
	assert.NotNil(t, got.ProcessedAt)

	_, err = store.FindReceipt(ctx, "txn_2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListDueAndStaleIntents(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.New(t))

	due := newSub(1)
	notDue := newSub(2)
	later := t0.AddDate(0, 2, 0)
	notDue.EndDate = &later
	lifetime := newSub(3)
	lifetime.EndDate = nil
	free := newSub(4)
	free.Status = models.SubscriptionStatusFreeActive
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
		for _, s := range []*models.Subscription{due, notDue, lifetime, free} {
			if err := tx.Create(s); err != nil {
				return err
			}
		}
		return tx.CreateIntent(&models.PaymentIntent{ID: "stale", AcademyID: 2, SubscriptionID: notDue.ID, Kind: models.IntentKindUpgrade, TargetPlanID: 3, BillingCycle: models.BillingCycleMonthly, Currency: "USD", ExpiresAt: t0, PrevStartDate: t0})
	}))

	list, err := store.ListDue(ctx, t0.AddDate(0, 1, 0), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint(1), list[0].AcademyID)

	stale, err := store.ListStaleIntents(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)

	none, err := store.ListStaleIntents(ctx, t0.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPublisherReceivesCommittedRecordsOnly(t *testing.T) {
	ctx := context.Background()
	var published []string
	store := NewStore(dbtest.New(t), WithPublisher(PublisherFunc(func(_ context.Context, rec *models.SubscriptionHistoryRecord) error {
		published = append(published, rec.Action)
		return nil
	})))
	sub := newSub(1)
	require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
		if err := tx.Create(sub); err != nil {
			return err
		}
		return tx.Append(&models.SubscriptionHistoryRecord{SubscriptionID: sub.ID, AcademyID: 1, Action: models.HistoryActionCreated, NewPlanID: 2, NewStatus: sub.Status})
	}))
	_ = store.Atomic(ctx, func(tx Tx) error {
		_ = tx.Append(&models.SubscriptionHistoryRecord{SubscriptionID: sub.ID, AcademyID: 1, Action: models.HistoryActionCancelled, NewPlanID: 2, NewStatus: sub.Status})
		return errors.New("rolled back")
	})

	assert.Equal(t, []string{models.HistoryActionCreated}, published)
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	pubsub := rdb.Subscribe(ctx, HistoryChannel)
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisPublisher(rdb).Publish(ctx, &models.SubscriptionHistoryRecord{ID: 9, AcademyID: 4, Action: models.HistoryActionUpgraded, NewPlanID: 3, NewStatus: models.SubscriptionStatusActive}))

	select {
	case msg := <-pubsub.Channel():
		var rec models.SubscriptionHistoryRecord
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &rec))
		assert.Equal(t, uint(9), rec.ID)
		assert.Equal(t, models.HistoryActionUpgraded, rec.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
