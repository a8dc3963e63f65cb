// Package subscription persists the per-academy subscription row, its
// append-only history ledger, payment intents and payment receipts.
package subscription

import (
	"context"
	"time"

	"github.com/ManuelReschke/AcademyPlans/app/models"
)

// Tx is the view of the store inside one atomic unit. A subscription change
// and its history record are always written through the same Tx.
type Tx interface {
	GetActive(academyID uint) (*models.Subscription, error)
	Create(sub *models.Subscription) error
	// Replace writes sub if its Version still matches the stored row and
	// bumps the version. A lost race yields apperr.ErrConflict.
	Replace(sub *models.Subscription) error
	Append(rec *models.SubscriptionHistoryRecord) error

	CreateIntent(intent *models.PaymentIntent) error
	// GetIntent also resolves consumed intents.
	GetIntent(id string) (*models.PaymentIntent, error)
	OpenIntent(academyID uint) (*models.PaymentIntent, error)
	// ConsumeIntent stores the outcome and soft-deletes the intent. Only
	// one caller can consume an intent; later ones get
	// apperr.ErrIntentAlreadyConsumed.
	ConsumeIntent(intent *models.PaymentIntent, outcome string) error
	AttachSessionRef(intentID, ref string) error

	// RecordReceipt inserts a payment event keyed by its provider
	// transaction id and reports whether it was new.
	RecordReceipt(event *models.PaymentEvent) (bool, error)
}

// Store is the subscription persistence boundary.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetActive(ctx context.Context, academyID uint) (*models.Subscription, error)
	GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	History(ctx context.Context, academyID uint) ([]models.SubscriptionHistoryRecord, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListStaleIntents(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)

	FindReceipt(ctx context.Context, providerTxnID string) (*models.PaymentEvent, error)
	// SaveReceipt records an event that applied no transition.
	SaveReceipt(ctx context.Context, event *models.PaymentEvent) (bool, error)
}

// HistoryPublisher receives history records after their transaction commits.
type HistoryPublisher interface {
	Publish(ctx context.Context, rec *models.SubscriptionHistoryRecord) error
}
