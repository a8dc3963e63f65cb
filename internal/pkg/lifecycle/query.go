package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
)

// Current returns the effective subscription of an academy. An academy
// without a row gets the free plan, a free window that elapsed is rolled
// forward and a paid period that ended is expired before returning.
func (e *Engine) Current(ctx context.Context, academyID uint) (*models.Subscription, error) {
	sub, err := e.store.GetActive(ctx, academyID)
	if apperr.IsNotFound(err) {
		sub, err = e.createDefault(ctx, academyID)
	}
	if err != nil {
		return nil, err
	}

	now := e.clock()
	switch {
	case sub.IsPaid() && sub.IsDue(now):
		return e.ExpireIfDue(ctx, academyID, now)
	case sub.Status == models.SubscriptionStatusFreeActive && sub.IsDue(now):
		return e.rollFreeWindow(ctx, academyID, now)
	}
	return sub, nil
}

// History returns the audit ledger of an academy, oldest first.
func (e *Engine) History(ctx context.Context, academyID uint) ([]models.SubscriptionHistoryRecord, error) {
	if err := e.requireAcademy(ctx, academyID); err != nil {
		return nil, err
	}
	return e.store.History(ctx, academyID)
}

func (e *Engine) createDefault(ctx context.Context, academyID uint) (*models.Subscription, error) {
	if err := e.requireAcademy(ctx, academyID); err != nil {
		return nil, err
	}
	free, err := e.plans.FreePlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve free plan: %w", err)
	}

	var sub *models.Subscription
	var rec *models.SubscriptionHistoryRecord
	err = e.withAcademy(ctx, academyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			existing, gErr := tx.GetActive(academyID)
			if gErr == nil {
				sub = existing
				return nil
			}
			if !apperr.IsNotFound(gErr) {
				return gErr
			}

			sub = &models.Subscription{AcademyID: academyID}
			e.moveToFree(sub, free, e.clock())
			if cErr := tx.Create(sub); cErr != nil {
				return cErr
			}
			rec = historyRecord(sub, models.HistoryActionCreated, 0, "", "default free plan")
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	e.committed(rec)
	return sub, nil
}

func (e *Engine) rollFreeWindow(ctx context.Context, academyID uint, now time.Time) (*models.Subscription, error) {
	free, err := e.plans.FreePlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve free plan: %w", err)
	}

	var sub *models.Subscription
	var rec *models.SubscriptionHistoryRecord
	err = e.withAcademy(ctx, academyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			var gErr error
			sub, gErr = tx.GetActive(academyID)
			if gErr != nil {
				return gErr
			}
			if sub.Status != models.SubscriptionStatusFreeActive || !sub.IsDue(now) {
				return nil
			}
			prevPlan, prevStatus := sub.PlanID, sub.Status
			e.moveToFree(sub, free, now)
			if rErr := tx.Replace(sub); rErr != nil {
				return rErr
			}
			rec = historyRecord(sub, models.HistoryActionRenewed, prevPlan, prevStatus, "free window renewed")
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	e.committed(rec)
	return sub, nil
}
