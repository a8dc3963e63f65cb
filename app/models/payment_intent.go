package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment intent kinds.
const (
	IntentKindUpgrade = "upgrade"
	IntentKindRenewal = "renewal"
)

// Payment intent outcomes. An intent without an outcome is still open.
const (
	IntentOutcomeSucceeded  = "succeeded"
	IntentOutcomeFailed     = "failed"
	IntentOutcomeExpired    = "expired"
	IntentOutcomeSuperseded = "superseded"
)

// PaymentIntent is a provisional record of a plan change awaiting payment.
// Consuming an intent soft-deletes it; the row stays resolvable with
// Unscoped lookups so duplicate confirmations are recognised.
type PaymentIntent struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AcademyID          uint      `gorm:"not null;index" json:"academy_id"`
	SubscriptionID     uint      `gorm:"not null;index" json:"subscription_id"`
	Kind               string    `gorm:"type:varchar(16);not null;default:'upgrade'" json:"kind"`
	TargetPlanID       uint      `gorm:"not null" json:"target_plan_id"`
	BillingCycle       string    `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	ExpectedAmount     int64     `gorm:"not null" json:"expected_amount"`
	Currency           string    `gorm:"type:char(3);not null" json:"currency"`
	ProviderSessionRef string    `gorm:"type:varchar(191);default:'';index" json:"provider_session_ref"`
	ExpiresAt          time.Time `gorm:"not null;index" json:"expires_at"`
	Outcome            string    `gorm:"type:varchar(16);default:''" json:"outcome"`

	// Snapshot of the subscription taken when the intent was created.
	PrevPlanID       uint       `gorm:"not null" json:"prev_plan_id"`
	PrevStatus       string     `gorm:"type:varchar(32);not null" json:"prev_status"`
	PrevBillingCycle string     `gorm:"type:varchar(16);not null" json:"prev_billing_cycle"`
	PrevStartDate    time.Time  `gorm:"not null" json:"prev_start_date"`
	PrevEndDate      *time.Time `gorm:"default:null" json:"prev_end_date,omitempty"`
	PrevAutoRenew    bool       `json:"prev_auto_renew"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsConsumed reports whether the intent already has an outcome.
func (i *PaymentIntent) IsConsumed() bool {
	return i.Outcome != "" || i.DeletedAt.Valid
}

// IsExpiredAt reports whether the confirmation window closed.
func (i *PaymentIntent) IsExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// SnapshotFrom copies the restorable subscription fields into the intent.
func (i *PaymentIntent) SnapshotFrom(sub *Subscription) {
	i.SubscriptionID = sub.ID
	i.PrevPlanID = sub.PlanID
	i.PrevStatus = sub.Status
	i.PrevBillingCycle = sub.BillingCycle
	i.PrevStartDate = sub.StartDate
	i.PrevAutoRenew = sub.AutoRenew
	i.PrevEndDate = nil
	if sub.EndDate != nil {
		end := *sub.EndDate
		i.PrevEndDate = &end
	}
}

// RestoreInto writes the snapshot back onto sub.
func (i *PaymentIntent) RestoreInto(sub *Subscription) {
	sub.PlanID = i.PrevPlanID
	sub.Status = i.PrevStatus
	sub.BillingCycle = i.PrevBillingCycle
	sub.StartDate = i.PrevStartDate
	sub.AutoRenew = i.PrevAutoRenew
	sub.EndDate = nil
	if i.PrevEndDate != nil {
		end := *i.PrevEndDate
		sub.EndDate = &end
	}
}
