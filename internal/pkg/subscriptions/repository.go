package subscriptions

import (
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var entitlingStatuses = []string{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
	models.SubscriptionStatusPastDue,
}

// Repository provides DB operations used by the subscription service.
type Repository interface {
	UpsertByExternalID(sub *models.Subscription) error
	Create(sub *models.Subscription) error
	FindByID(id uint) (*models.Subscription, error)
	ListForProviderReconciliation(providers []string, limit int) ([]models.Subscription, error)
	ListManualRenewalDue(cutoff time.Time, limit int) ([]models.Subscription, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	ExpireIfEntitling(id uint) (bool, error)
	CancelIfNotTerminal(id uint, at time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertByExternalID(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_provider"},
			{Name: "external_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"scope",
			"owner_id",
			"plan_code",
			"status",
			"external_customer_id",
			"external_plan_id",
			"renewal_mode",
			"billing_cycle",
			"currency",
			"amount_minor",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"last_webhook_event_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("payment_provider = ? AND external_subscription_id = ?",
		sub.PaymentProvider, sub.ExternalSubscriptionID).First(sub).Error
}

func (r *gormRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) FindByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListForProviderReconciliation(providers []string, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ?", entitlingStatuses).
		Where("renewal_mode = ?", models.RenewalModeProvider).
		Where("external_subscription_id IS NOT NULL").
		Where("payment_provider IN ?", providers).
		Order("updated_at asc").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListManualRenewalDue(cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ?", entitlingStatuses).
		Where("renewal_mode = ?", models.RenewalModeManual).
		Where("current_period_end IS NOT NULL AND current_period_end <= ?", cutoff).
		Order("current_period_end asc").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ExpireIfEntitling(id uint) (bool, error) {
	// Guarded transition: re-running the sweep cannot expire a row twice.
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, entitlingStatuses).
		Update("status", models.SubscriptionStatusExpired)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CancelIfNotTerminal(id uint, at time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status NOT IN ?", id,
			[]string{models.SubscriptionStatusCanceled, models.SubscriptionStatusExpired}).
		Updates(map[string]interface{}{
			"status":      models.SubscriptionStatusCanceled,
			"canceled_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// gormCapabilityStore adapts the entitlements package to the service.
type gormCapabilityStore struct {
	db *gorm.DB
}

// NewCapabilityStore creates a capability store backed by GORM.
func NewCapabilityStore(db *gorm.DB) CapabilityStore {
	return &gormCapabilityStore{db: db}
}

func (s *gormCapabilityStore) GrantScope(userID uint, scope string) error {
	return entitlements.GrantScope(s.db, userID, scope)
}

func (s *gormCapabilityStore) RevokeScope(userID uint, scope string) error {
	return entitlements.RevokeScope(s.db, userID, scope)
}
