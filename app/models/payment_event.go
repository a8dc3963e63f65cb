package models

import "time"

// Payment provider constants.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderManual = "manual"
)

// Payment event outcomes as reported by the provider.
const (
	PaymentOutcomeSuccess = "success"
	PaymentOutcomeFailure = "failure"
)

// Reconciliation results stored on processed events.
const (
	PaymentResultConfirmed        = "confirmed"
	PaymentResultFailed           = "failed"
	PaymentResultAmountMismatch   = "amount_mismatch"
	PaymentResultCurrencyMismatch = "currency_mismatch"
	PaymentResultIntentExpired    = "intent_expired"
	PaymentResultAlreadyProcessed = "already_processed"
	PaymentResultNeedsReview      = "needs_review"
)

// PaymentEvent stores provider payment deliveries keyed by the provider
// transaction id so at-least-once delivery becomes an exactly-once effect.
type PaymentEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderTxnID   string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_txn" json:"provider_txn_id"`
	IntentRef       string     `gorm:"type:varchar(191);not null;index" json:"intent_ref"`
	Outcome         string     `gorm:"type:varchar(16);not null" json:"outcome"`
	AmountPaid      int64      `gorm:"not null;default:0" json:"amount_paid"`
	Currency        string     `gorm:"type:char(3);default:''" json:"currency"`
	PayloadJSON     string     `gorm:"type:text" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	Result          string     `gorm:"type:varchar(32);default:'';index" json:"result"`
	ProcessedAt     *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
