// Package billing reconciles payment provider events with the subscription
// lifecycle. Every provider delivery is keyed by its transaction id so
// at-least-once delivery applies at most one transition.
package billing

import (
	"github.com/ManuelReschke/AcademyPlans/app/models"
)

// ResultPending is reported by Verify while the provider has not settled
// the payment yet.
const ResultPending = "pending"

// PaymentEvent is a provider-neutral payment notification.
type PaymentEvent struct {
	Provider       string `json:"provider" validate:"omitempty,max=20"`
	ProviderTxnID  string `json:"provider_txn_id" validate:"max=191"`
	IntentRef      string `json:"intent_ref" validate:"required,max=191"`
	Outcome        string `json:"outcome" validate:"required,max=32"`
	AmountPaid     int64  `json:"amount_paid" validate:"gte=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	Reason         string `json:"reason,omitempty"`
	PayloadJSON    string `json:"-"`
	SignatureValid bool   `json:"-"`
}

// Result describes how an event was reconciled.
type Result struct {
	Status       string               `json:"status"`
	IntentID     string               `json:"intent_id"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	NeedsReview  bool                 `json:"needs_review"`
	// Rejection holds the domain error an event was resolved with, such as
	// apperr.ErrAmountMismatch or apperr.ErrIntentExpired. The event itself
	// is still acknowledged.
	Rejection error `json:"-"`
}
