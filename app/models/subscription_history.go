package models

import "time"

// History actions.
const (
	HistoryActionCreated       = "created"
	HistoryActionUpgraded      = "upgraded"
	HistoryActionDowngraded    = "downgraded"
	HistoryActionCancelled     = "cancelled"
	HistoryActionRenewed       = "renewed"
	HistoryActionPaymentFailed = "payment_failed"
	HistoryActionExpired       = "expired"
)

// SubscriptionHistoryRecord is one entry of the append-only audit ledger.
// Every state transition writes exactly one record.
type SubscriptionHistoryRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:idx_subscription_history" json:"subscription_id"`
	AcademyID      uint      `gorm:"not null;index:idx_subscription_history_academy" json:"academy_id"`
	Action         string    `gorm:"type:varchar(32);not null;index" json:"action"`
	PreviousPlanID *uint     `gorm:"default:null" json:"previous_plan_id,omitempty"`
	NewPlanID      uint      `gorm:"not null" json:"new_plan_id"`
	PreviousStatus string    `gorm:"type:varchar(32);default:''" json:"previous_status"`
	NewStatus      string    `gorm:"type:varchar(32);not null" json:"new_status"`
	Notes          string    `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName keeps the ledger table name stable.
func (SubscriptionHistoryRecord) TableName() string {
	return "subscription_history"
}
