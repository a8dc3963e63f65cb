package models

import (
	"math"
	"time"
)

// Subscription status constants.
const (
	SubscriptionStatusFreeActive      = "free_active"
	SubscriptionStatusPendingUpgrade  = "pending_upgrade"
	SubscriptionStatusActive          = "active"
	SubscriptionStatusCancelRequested = "cancel_requested"
	SubscriptionStatusExpired         = "expired"
)

// Subscription binds one academy to one plan over a time window. There is
// exactly one row per academy; transitions replace it under a version check.
type Subscription struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AcademyID    uint       `gorm:"not null;uniqueIndex:ux_subscriptions_academy" json:"academy_id"`
	PlanID       uint       `gorm:"not null;index" json:"plan_id"`
	Status       string     `gorm:"type:varchar(32);not null;default:'free_active';index:idx_subscriptions_status_end,priority:1" json:"status"`
	BillingCycle string     `gorm:"type:varchar(16);not null;default:'free'" json:"billing_cycle"`
	StartDate    time.Time  `gorm:"not null" json:"start_date"`
	EndDate      *time.Time `gorm:"default:null;index:idx_subscriptions_status_end,priority:2" json:"end_date,omitempty"`
	AutoRenew    bool       `gorm:"default:false" json:"auto_renew"`
	Version      uint       `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the subscription is in a paid state.
func (s *Subscription) IsPaid() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusCancelRequested
}

// IsDue reports whether the billing period ended at or before now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.EndDate != nil && !now.Before(*s.EndDate)
}

// DaysRemainingAt returns the whole days left in the current period, rounded
// up. Lifetime subscriptions report -1.
func (s *Subscription) DaysRemainingAt(now time.Time) int {
	if s.EndDate == nil {
		return -1
	}
	left := s.EndDate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// Clone returns a copy safe to mutate.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.EndDate != nil {
		end := *s.EndDate
		c.EndDate = &end
	}
	return &c
}
