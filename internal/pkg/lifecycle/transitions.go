package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
)

// Cancel stops auto-renewal of an active paid plan. The academy keeps the
// plan until the period ends; endDate is left untouched.
func (e *Engine) Cancel(ctx context.Context, academyID uint) (*models.Subscription, error) {
	return e.simpleTransition(ctx, academyID, models.SubscriptionStatusCancelRequested, func(sub *models.Subscription) (string, string, error) {
		if sub.Status != models.SubscriptionStatusActive {
			return "", "", fmt.Errorf("%w: only an active plan can be cancelled, academy is %s", apperr.ErrInvalidStateTransition, sub.Status)
		}
		if sub.EndDate == nil {
			return "", "", fmt.Errorf("%w: lifetime plans cannot be cancelled", apperr.ErrInvalidStateTransition)
		}
		sub.AutoRenew = false
		return models.HistoryActionCancelled, "service continues until " + sub.EndDate.Format(time.RFC3339), nil
	})
}

// Reactivate withdraws a pending cancellation before the period ends.
func (e *Engine) Reactivate(ctx context.Context, academyID uint) (*models.Subscription, error) {
	return e.simpleTransition(ctx, academyID, models.SubscriptionStatusActive, func(sub *models.Subscription) (string, string, error) {
		if sub.Status != models.SubscriptionStatusCancelRequested {
			return "", "", fmt.Errorf("%w: nothing to reactivate from %s", apperr.ErrInvalidStateTransition, sub.Status)
		}
		sub.AutoRenew = true
		return models.HistoryActionRenewed, "cancellation withdrawn", nil
	})
}

// simpleTransition moves the subscription to status without a payment.
// mutate adjusts the row and names the history action.
func (e *Engine) simpleTransition(ctx context.Context, academyID uint, status string, mutate func(sub *models.Subscription) (string, string, error)) (*models.Subscription, error) {
	if _, err := e.Current(ctx, academyID); err != nil {
		return nil, err
	}

	var sub *models.Subscription
	var rec *models.SubscriptionHistoryRecord
	err := e.withAcademy(ctx, academyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			var err error
			sub, err = tx.GetActive(academyID)
			if err != nil {
				return err
			}
			if err := subscription.CheckTransition(sub.Status, status); err != nil {
				return err
			}

			prevPlan, prevStatus := sub.PlanID, sub.Status
			action, notes, err := mutate(sub)
			if err != nil {
				return err
			}
			sub.Status = status
			if err := tx.Replace(sub); err != nil {
				return err
			}
			rec = historyRecord(sub, action, prevPlan, prevStatus, notes)
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	e.committed(rec)
	return sub, nil
}

// ExpireIfDue ends a paid period at or after its endDate and records it as
// expired. Without auto-renew the academy drops to the free plan. With
// auto-renew a renewal intent is opened and charged; a failed charge also
// ends on the free plan.
// Calling it before the period ends is a no-op.
func (e *Engine) ExpireIfDue(ctx context.Context, academyID uint, now time.Time) (*models.Subscription, error) {
	now = now.UTC()
	sub, err := e.store.GetActive(ctx, academyID)
	if err != nil {
		return nil, err
	}
	if !sub.IsPaid() || !sub.IsDue(now) {
		return sub, nil
	}

	free, err := e.plans.FreePlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve free plan: %w", err)
	}
	plan, err := e.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	var rec *models.SubscriptionHistoryRecord
	var renewal *models.PaymentIntent
	err = e.withAcademy(ctx, academyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			var err error
			sub, err = tx.GetActive(academyID)
			if err != nil {
				return err
			}
			if !sub.IsPaid() || !sub.IsDue(now) {
				return nil
			}
			if err := subscription.CheckTransition(sub.Status, models.SubscriptionStatusExpired); err != nil {
				return err
			}

			if sub.AutoRenew && sub.Status == models.SubscriptionStatusActive {
				if amount, aErr := plan.AmountFor(sub.BillingCycle); aErr == nil {
					renewal = &models.PaymentIntent{
						ID:             uuid.NewString(),
						AcademyID:      academyID,
						Kind:           models.IntentKindRenewal,
						TargetPlanID:   plan.ID,
						BillingCycle:   sub.BillingCycle,
						ExpectedAmount: amount,
						Currency:       plan.Currency,
						ExpiresAt:      now.Add(e.cfg.IntentTTL),
					}
					renewal.SnapshotFrom(sub)
					prevStatus := sub.Status
					sub.Status = models.SubscriptionStatusPendingUpgrade
					if err := tx.Replace(sub); err != nil {
						return err
					}
					if err := tx.CreateIntent(renewal); err != nil {
						return err
					}
					rec = historyRecord(sub, models.HistoryActionExpired, sub.PlanID, prevStatus,
						fmt.Sprintf("%s period ended, renewal of %d %s requested", plan.Name, amount, plan.Currency))
					return tx.Append(rec)
				}
				log.Warnf("[Lifecycle] Academy %d: plan %s cannot renew on %s, expiring", academyID, plan.Slug, sub.BillingCycle)
			}

			prevPlan, prevStatus := sub.PlanID, sub.Status
			e.moveToFree(sub, free, now)
			if err := subscription.CheckTransition(models.SubscriptionStatusExpired, sub.Status); err != nil {
				return err
			}
			if err := tx.Replace(sub); err != nil {
				return err
			}
			rec = historyRecord(sub, models.HistoryActionExpired, prevPlan, prevStatus, fmt.Sprintf("%s period ended, moved to free plan", plan.Name))
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	e.committed(rec)

	if renewal != nil {
		return e.chargeRenewal(ctx, renewal)
	}
	return sub, nil
}

// chargeRenewal runs outside the academy lock; the confirm and fail paths
// take it again.
func (e *Engine) chargeRenewal(ctx context.Context, intent *models.PaymentIntent) (*models.Subscription, error) {
	if e.charger == nil {
		log.Infof("[Lifecycle] Academy %d: renewal intent %s awaiting payment", intent.AcademyID, intent.ID)
		return e.store.GetActive(ctx, intent.AcademyID)
	}

	res, err := e.charger.ChargeRenewal(ctx, intent)
	if err != nil {
		log.Warnf("[Lifecycle] Academy %d: renewal charge error: %v", intent.AcademyID, err)
		return e.FailUpgrade(ctx, intent.ID, "renewal charge failed: "+err.Error(), nil)
	}

	var receipt *Receipt
	if res.ProviderTxnID != "" {
		provider := res.Provider
		if provider == "" {
			provider = models.PaymentProviderManual
		}
		receipt = &Receipt{
			Provider:      provider,
			ProviderTxnID: res.ProviderTxnID,
			AmountPaid:    res.AmountPaid,
			Currency:      res.Currency,
		}
	}

	switch res.Status {
	case ChargeSucceeded:
		if receipt != nil {
			receipt.Outcome = models.PaymentOutcomeSuccess
			receipt.Result = models.PaymentResultConfirmed
		}
		return e.ConfirmUpgrade(ctx, intent.ID, receipt)
	case ChargePending:
		if res.SessionRef != "" {
			if aErr := e.store.Atomic(ctx, func(tx subscription.Tx) error {
				return tx.AttachSessionRef(intent.ID, res.SessionRef)
			}); aErr != nil {
				log.Warnf("[Lifecycle] Academy %d: could not attach session to renewal %s: %v", intent.AcademyID, intent.ID, aErr)
			}
		}
		return e.store.GetActive(ctx, intent.AcademyID)
	default:
		if receipt != nil {
			receipt.Outcome = models.PaymentOutcomeFailure
			receipt.Result = models.PaymentResultFailed
		}
		reason := res.Reason
		if reason == "" {
			reason = "renewal charge declined"
		}
		return e.FailUpgrade(ctx, intent.ID, reason, receipt)
	}
}

// ExpireDue expires every subscription whose period ended by now and
// returns how many were handled.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	seen := make(map[uint]bool)
	handled := 0
	for {
		due, err := e.store.ListDue(ctx, now, e.cfg.BatchSize)
		if err != nil {
			return handled, err
		}

		progressed := 0
		for i := range due {
			if seen[due[i].AcademyID] {
				continue
			}
			seen[due[i].AcademyID] = true
			progressed++
			if _, err := e.ExpireIfDue(ctx, due[i].AcademyID, now); err != nil {
				log.Errorf("[Lifecycle] Expire academy %d failed: %v", due[i].AcademyID, err)
				continue
			}
			handled++
		}

		if len(due) < e.cfg.BatchSize || progressed == 0 {
			return handled, nil
		}
		if err := ctx.Err(); err != nil {
			return handled, err
		}
	}
}

// ExpireStaleIntents closes every open intent whose payment window elapsed
// by now and returns how many were closed.
func (e *Engine) ExpireStaleIntents(ctx context.Context, now time.Time) (int, error) {
	stale, err := e.store.ListStaleIntents(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	closed := 0
	for i := range stale {
		if _, err := e.ExpireIntent(ctx, stale[i].ID, nil); err != nil {
			log.Errorf("[Lifecycle] Expire intent %s failed: %v", stale[i].ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}
