package lifecycle

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/subscription"
)

// RequestUpgrade opens a payment intent for planID and moves the
// subscription to pending_upgrade. A second request while one is pending
// supersedes the open intent. An empty cycle means the plan's own cycle.
func (e *Engine) RequestUpgrade(ctx context.Context, academyID, planID uint, cycle string) (*PendingUpgrade, error) {
	plan, err := e.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %s is no longer offered", apperr.ErrInvalidInput, plan.Slug)
	}
	if plan.IsFree() {
		return nil, fmt.Errorf("%w: the free plan needs no payment, cancel the paid plan instead", apperr.ErrInvalidInput)
	}
	if cycle == "" {
		cycle = plan.BillingCycle
	}
	amount, err := plan.AmountFor(cycle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	// Applies the free default and lazy expiry first.
	if _, err := e.Current(ctx, academyID); err != nil {
		return nil, err
	}

	var result *PendingUpgrade
	err = e.withAcademy(ctx, academyID, func() error {
		sub, gErr := e.store.GetActive(ctx, academyID)
		if gErr != nil {
			return gErr
		}
		if vErr := checkUpgradeAllowed(sub, plan, cycle); vErr != nil {
			return vErr
		}

		now := e.clock()
		intent := &models.PaymentIntent{
			ID:             uuid.NewString(),
			AcademyID:      academyID,
			Kind:           models.IntentKindUpgrade,
			TargetPlanID:   plan.ID,
			BillingCycle:   cycle,
			ExpectedAmount: amount,
			Currency:       plan.Currency,
			ExpiresAt:      now.Add(e.cfg.IntentTTL),
		}

		var session *CheckoutSession
		if e.checkout != nil {
			var cErr error
			session, cErr = e.checkout.CreateCheckoutSession(ctx, CheckoutRequest{
				IntentID:  intent.ID,
				AcademyID: academyID,
				PlanName:  plan.Name,
				Cycle:     cycle,
				Amount:    amount,
				Currency:  plan.Currency,
			})
			if cErr != nil {
				return fmt.Errorf("%w: create checkout session: %v", apperr.ErrUnavailable, cErr)
			}
			intent.ProviderSessionRef = session.Ref
		}

		aErr := e.store.Atomic(ctx, func(tx subscription.Tx) error {
			cur, err := tx.GetActive(academyID)
			if err != nil {
				return err
			}
			if err := checkUpgradeAllowed(cur, plan, cycle); err != nil {
				return err
			}

			prior := cur
			if cur.Status == models.SubscriptionStatusPendingUpgrade {
				open, err := tx.OpenIntent(academyID)
				if err != nil {
					return err
				}
				if err := tx.ConsumeIntent(open, models.IntentOutcomeSuperseded); err != nil {
					return err
				}
				prior = cur.Clone()
				open.RestoreInto(prior)
				log.Infof("[Lifecycle] Academy %d: intent %s superseded by %s", academyID, open.ID, intent.ID)
			}
			intent.SnapshotFrom(prior)

			cur.Status = models.SubscriptionStatusPendingUpgrade
			if err := tx.Replace(cur); err != nil {
				return err
			}
			return tx.CreateIntent(intent)
		})
		if aErr != nil {
			return aErr
		}

		result = &PendingUpgrade{Intent: intent}
		if session != nil {
			result.CheckoutURL = session.URL
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Academy %d: upgrade to plan %d (%s) pending, intent %s", academyID, planID, cycle, result.Intent.ID)
	return result, nil
}

func checkUpgradeAllowed(sub *models.Subscription, plan *models.Plan, cycle string) error {
	if sub.IsPaid() && sub.PlanID == plan.ID && sub.BillingCycle == cycle {
		return fmt.Errorf("%w: academy %d is already on plan %s (%s)", apperr.ErrInvalidStateTransition, sub.AcademyID, plan.Slug, cycle)
	}
	return subscription.CheckTransition(sub.Status, models.SubscriptionStatusPendingUpgrade)
}

// ConfirmUpgrade applies a paid intent: the subscription becomes active on
// the target plan for a new period. Confirming an already confirmed intent
// is a no-op success.
func (e *Engine) ConfirmUpgrade(ctx context.Context, intentID string, receipt *Receipt) (*models.Subscription, error) {
	intent, err := e.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	// A receipt still has to be checked against the ledger under the lock.
	if intent.IsConsumed() && receipt == nil {
		return e.consumedResult(ctx, intent, models.IntentOutcomeSucceeded)
	}
	now := e.clock()
	if !intent.IsConsumed() && intent.IsExpiredAt(now) {
		return nil, fmt.Errorf("%w: %s expired at %s", apperr.ErrIntentExpired, intent.ID, intent.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	target, err := e.plans.GetPlan(ctx, intent.TargetPlanID)
	if err != nil {
		return nil, err
	}
	previous, err := e.plans.GetPlan(ctx, intent.PrevPlanID)
	if err != nil {
		return nil, err
	}

	action := models.HistoryActionUpgraded
	switch {
	case intent.Kind == models.IntentKindRenewal:
		action = models.HistoryActionRenewed
	case target.Rank() < previous.Rank():
		action = models.HistoryActionDowngraded
	}

	var sub *models.Subscription
	var rec *models.SubscriptionHistoryRecord
	var noop bool
	err = e.withAcademy(ctx, intent.AcademyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			fresh, err := tx.GetIntent(intentID)
			if err != nil {
				return err
			}
			if fresh.IsConsumed() {
				if unservedPayment(receipt, fresh) {
					return fmt.Errorf("%w: %s closed as %s before the payment was applied", apperr.ErrIntentAlreadyConsumed, fresh.ID, fresh.Outcome)
				}
				noop = true
				return recordReceipt(tx, receipt, intentID, models.PaymentResultAlreadyProcessed)
			}
			if err := recordReceipt(tx, receipt, intentID, ""); err != nil {
				return err
			}

			sub, err = tx.GetActive(intent.AcademyID)
			if err != nil {
				return err
			}
			if sub.Status != models.SubscriptionStatusPendingUpgrade {
				return fmt.Errorf("%w: academy %d is %s, not awaiting payment", apperr.ErrInvalidStateTransition, sub.AcademyID, sub.Status)
			}
			if err := tx.ConsumeIntent(fresh, models.IntentOutcomeSucceeded); err != nil {
				return err
			}

			prevPlan, prevStatus := sub.PlanID, sub.Status
			sub.PlanID = target.ID
			sub.Status = models.SubscriptionStatusActive
			sub.BillingCycle = fresh.BillingCycle
			sub.StartDate = now
			sub.EndDate = models.CycleEnd(now, fresh.BillingCycle, e.cfg.FreeWindow)
			sub.AutoRenew = sub.EndDate != nil
			if err := tx.Replace(sub); err != nil {
				return err
			}

			notes := fmt.Sprintf("%s %s, paid %d %s", target.Name, fresh.BillingCycle, fresh.ExpectedAmount, fresh.Currency)
			if receipt != nil {
				notes = fmt.Sprintf("%s %s, paid %d %s (txn %s)", target.Name, fresh.BillingCycle, receipt.AmountPaid, receipt.Currency, receipt.ProviderTxnID)
			}
			rec = historyRecord(sub, action, prevPlan, prevStatus, notes)
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	if noop {
		fresh, gErr := e.store.GetIntent(ctx, intentID)
		if gErr != nil {
			return nil, gErr
		}
		return e.consumedResult(ctx, fresh, models.IntentOutcomeSucceeded)
	}
	e.committed(rec)
	return sub, nil
}

// FailUpgrade reverts the subscription to its state before the intent and
// records payment_failed. A failed renewal falls back to the free plan.
// Failing an already failed intent is a no-op success.
func (e *Engine) FailUpgrade(ctx context.Context, intentID, reason string, receipt *Receipt) (*models.Subscription, error) {
	if reason == "" {
		reason = "payment failed"
	}
	return e.closeIntent(ctx, intentID, models.IntentOutcomeFailed, reason, receipt)
}

// ExpireIntent closes an intent whose payment window elapsed. The
// subscription reverts exactly as for a failed payment.
func (e *Engine) ExpireIntent(ctx context.Context, intentID string, receipt *Receipt) (*models.Subscription, error) {
	return e.closeIntent(ctx, intentID, models.IntentOutcomeExpired, "payment window closed", receipt)
}

func (e *Engine) closeIntent(ctx context.Context, intentID, outcome, reason string, receipt *Receipt) (*models.Subscription, error) {
	intent, err := e.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsConsumed() && receipt == nil {
		return e.consumedResult(ctx, intent, outcome)
	}

	var free *models.Plan
	if intent.Kind == models.IntentKindRenewal {
		if free, err = e.plans.FreePlan(ctx); err != nil {
			return nil, fmt.Errorf("resolve free plan: %w", err)
		}
	}

	var sub *models.Subscription
	var rec *models.SubscriptionHistoryRecord
	var noop bool
	err = e.withAcademy(ctx, intent.AcademyID, func() error {
		return e.store.Atomic(ctx, func(tx subscription.Tx) error {
			fresh, err := tx.GetIntent(intentID)
			if err != nil {
				return err
			}
			if fresh.IsConsumed() {
				if unservedPayment(receipt, fresh) {
					return fmt.Errorf("%w: %s closed as %s before the payment was applied", apperr.ErrIntentAlreadyConsumed, fresh.ID, fresh.Outcome)
				}
				noop = true
				return recordReceipt(tx, receipt, intentID, models.PaymentResultAlreadyProcessed)
			}
			if err := recordReceipt(tx, receipt, intentID, ""); err != nil {
				return err
			}

			sub, err = tx.GetActive(intent.AcademyID)
			if err != nil {
				return err
			}
			if sub.Status != models.SubscriptionStatusPendingUpgrade {
				return fmt.Errorf("%w: academy %d is %s, not awaiting payment", apperr.ErrInvalidStateTransition, sub.AcademyID, sub.Status)
			}
			if err := tx.ConsumeIntent(fresh, outcome); err != nil {
				return err
			}

			prevPlan, prevStatus := sub.PlanID, sub.Status
			if free != nil {
				e.moveToFree(sub, free, e.clock())
			} else {
				fresh.RestoreInto(sub)
			}
			if err := subscription.CheckTransition(prevStatus, sub.Status); err != nil {
				return err
			}
			if err := tx.Replace(sub); err != nil {
				return err
			}

			notes := fmt.Sprintf("%s: %s", fresh.Kind, reason)
			rec = historyRecord(sub, models.HistoryActionPaymentFailed, prevPlan, prevStatus, notes)
			return tx.Append(rec)
		})
	})
	if err != nil {
		return nil, err
	}
	if noop {
		fresh, gErr := e.store.GetIntent(ctx, intentID)
		if gErr != nil {
			return nil, gErr
		}
		return e.consumedResult(ctx, fresh, outcome)
	}
	e.committed(rec)
	return sub, nil
}

// consumedResult makes repeated deliveries idempotent. A repeat of the same
// kind of outcome returns the current subscription; a contradicting outcome
// is reported as already consumed. Any non-success closing counts as the
// same kind as a failure.
func (e *Engine) consumedResult(ctx context.Context, intent *models.PaymentIntent, want string) (*models.Subscription, error) {
	succeeded := intent.Outcome == models.IntentOutcomeSucceeded
	if succeeded != (want == models.IntentOutcomeSucceeded) {
		return nil, fmt.Errorf("%w: %s closed as %s", apperr.ErrIntentAlreadyConsumed, intent.ID, intent.Outcome)
	}
	sub, err := e.store.GetActive(ctx, intent.AcademyID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// recordReceipt stores receipt inside the transition. A provider
// transaction seen before aborts the transition. A non-empty result
// overrides the receipt's own.
func recordReceipt(tx subscription.Tx, receipt *Receipt, intentID, result string) error {
	if receipt == nil {
		return nil
	}
	event := receipt.Event(intentID)
	if result != "" {
		event.Result = result
	}
	created, err := tx.RecordReceipt(event)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: provider transaction %s already applied", apperr.ErrIntentAlreadyConsumed, receipt.ProviderTxnID)
	}
	return nil
}

// unservedPayment reports a successful payment for an intent that was
// closed without success. Its receipt is not stored as a plain duplicate so
// the caller can flag the payment for review.
func unservedPayment(receipt *Receipt, intent *models.PaymentIntent) bool {
	return receipt != nil && receipt.Outcome == models.PaymentOutcomeSuccess && intent.Outcome != models.IntentOutcomeSucceeded
}
