package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

type gormStore struct {
	db        *gorm.DB
	publisher HistoryPublisher
	now       func() time.Time
}

// Option configures the gorm store.
type Option func(*gormStore)

// WithPublisher forwards committed history records to p.
func WithPublisher(p HistoryPublisher) Option {
	return func(s *gormStore) { s.publisher = p }
}

// WithClock overrides the timestamp source for consumed intents and receipts.
func WithClock(now func() time.Time) Option {
	return func(s *gormStore) { s.now = now }
}

// NewStore creates a subscription store backed by GORM.
func NewStore(db *gorm.DB, opts ...Option) Store {
	s := &gormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *gormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx := &gormTx{now: s.now}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx.db = db
		return fn(tx)
	})
	if err != nil {
		return err
	}

	if s.publisher != nil {
		for _, rec := range tx.appended {
			if pErr := s.publisher.Publish(ctx, rec); pErr != nil {
				log.Warnf("[Subscription] Failed to publish history record %d: %v", rec.ID, pErr)
			}
		}
	}
	return nil
}

func (s *gormStore) GetActive(ctx context.Context, academyID uint) (*models.Subscription, error) {
	return getActive(s.db.WithContext(ctx), academyID)
}

func (s *gormStore) GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return getIntent(s.db.WithContext(ctx), id)
}

func (s *gormStore) History(ctx context.Context, academyID uint) ([]models.SubscriptionHistoryRecord, error) {
	var records []models.SubscriptionHistoryRecord
	err := s.db.WithContext(ctx).Where("academy_id = ?", academyID).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, unavailable("load history", err)
	}
	return records, nil
}

func (s *gormStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ? AND end_date IS NOT NULL AND end_date <= ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusCancelRequested}, now).
		Order("end_date ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, unavailable("list due subscriptions", err)
	}
	return subs, nil
}

func (s *gormStore) ListStaleIntents(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("outcome = ? AND expires_at <= ?", "", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, unavailable("list stale intents", err)
	}
	return intents, nil
}

func (s *gormStore) FindReceipt(ctx context.Context, providerTxnID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := s.db.WithContext(ctx).Where("provider_txn_id = ?", providerTxnID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: receipt %s", apperr.ErrNotFound, providerTxnID)
		}
		return nil, unavailable("find receipt", err)
	}
	return &event, nil
}

func (s *gormStore) SaveReceipt(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	return recordReceipt(s.db.WithContext(ctx), event, s.now())
}

type gormTx struct {
	db       *gorm.DB
	now      func() time.Time
	appended []*models.SubscriptionHistoryRecord
}

func (t *gormTx) GetActive(academyID uint) (*models.Subscription, error) {
	return getActive(t.db, academyID)
}

func (t *gormTx) Create(sub *models.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "academy_id"}},
		DoNothing: true,
	}).Create(sub)
	if res.Error != nil {
		return unavailable("create subscription", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: academy %d already has a subscription", apperr.ErrConflict, sub.AcademyID)
	}
	return nil
}

func (t *gormTx) Replace(sub *models.Subscription) error {
	updatedAt := t.now().UTC()
	res := t.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"plan_id":       sub.PlanID,
			"status":        sub.Status,
			"billing_cycle": sub.BillingCycle,
			"start_date":    sub.StartDate,
			"end_date":      sub.EndDate,
			"auto_renew":    sub.AutoRenew,
			"version":       sub.Version + 1,
			"updated_at":    updatedAt,
		})
	if res.Error != nil {
		return unavailable("replace subscription", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: subscription %d changed since version %d", apperr.ErrConflict, sub.ID, sub.Version)
	}
	sub.Version++
	sub.UpdatedAt = updatedAt
	return nil
}

func (t *gormTx) Append(rec *models.SubscriptionHistoryRecord) error {
	if err := t.db.Create(rec).Error; err != nil {
		return unavailable("append history", err)
	}
	t.appended = append(t.appended, rec)
	return nil
}

func (t *gormTx) CreateIntent(intent *models.PaymentIntent) error {
	if err := t.db.Create(intent).Error; err != nil {
		return unavailable("create intent", err)
	}
	return nil
}

func (t *gormTx) GetIntent(id string) (*models.PaymentIntent, error) {
	return getIntent(t.db, id)
}

func (t *gormTx) OpenIntent(academyID uint) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := t.db.Where("academy_id = ? AND outcome = ?", academyID, "").
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: open intent for academy %d", apperr.ErrNotFound, academyID)
		}
		return nil, unavailable("find open intent", err)
	}
	return &intent, nil
}

func (t *gormTx) ConsumeIntent(intent *models.PaymentIntent, outcome string) error {
	consumedAt := t.now().UTC()
	res := t.db.Model(&models.PaymentIntent{}).
		Where("id = ? AND outcome = ?", intent.ID, "").
		Updates(map[string]interface{}{
			"outcome":    outcome,
			"deleted_at": consumedAt,
			"updated_at": consumedAt,
		})
	if res.Error != nil {
		return unavailable("consume intent", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrIntentAlreadyConsumed, intent.ID)
	}
	intent.Outcome = outcome
	intent.DeletedAt = gorm.DeletedAt{Time: consumedAt, Valid: true}
	return nil
}

func (t *gormTx) AttachSessionRef(intentID, ref string) error {
	res := t.db.Model(&models.PaymentIntent{}).Where("id = ?", intentID).Update("provider_session_ref", ref)
	if res.Error != nil {
		return unavailable("attach session ref", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: open payment intent %s", apperr.ErrNotFound, intentID)
	}
	return nil
}

func (t *gormTx) RecordReceipt(event *models.PaymentEvent) (bool, error) {
	return recordReceipt(t.db, event, t.now())
}

func getActive(db *gorm.DB, academyID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Where("academy_id = ?", academyID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: subscription for academy %d", apperr.ErrNotFound, academyID)
		}
		return nil, unavailable("load subscription", err)
	}
	return &sub, nil
}

func getIntent(db *gorm.DB, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := db.Unscoped().Where("id = ?", id).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment intent %s", apperr.ErrNotFound, id)
		}
		return nil, unavailable("load intent", err)
	}
	return &intent, nil
}

func recordReceipt(db *gorm.DB, event *models.PaymentEvent, now time.Time) (bool, error) {
	if event.ProcessedAt == nil {
		processed := now.UTC()
		event.ProcessedAt = &processed
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_txn_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, unavailable("record receipt", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperr.ErrUnavailable, op, err)
}
