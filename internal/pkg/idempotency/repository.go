package idempotency

import (
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the idempotency store.
type Repository interface {
	CreateIfNotExists(rec *models.IdempotencyKey) (bool, *models.IdempotencyKey, error)
	FinalizeOnce(scope string, actorID uint, key, status string, responseCode int, responsePayload, errorPayload string) (bool, error)
	ReclaimFailed(id uint) (bool, error)
	TouchLastSeen(id uint) error
	ListStaleProcessing(olderThan time.Time, limit int) ([]models.IdempotencyKey, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an idempotency repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateIfNotExists(rec *models.IdempotencyKey) (bool, *models.IdempotencyKey, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "operation_scope"},
			{Name: "actor_id"},
			{Name: "idem_key"},
		},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.IdempotencyKey
	if err := r.db.Where("operation_scope = ? AND actor_id = ? AND idem_key = ?",
		rec.OperationScope, rec.ActorID, rec.IdemKey).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) FinalizeOnce(scope string, actorID uint, key, status string, responseCode int, responsePayload, errorPayload string) (bool, error) {
	// Guarded transition: only a processing row can be finalized, so a second
	// finalize is a no-op.
	tx := r.db.Model(&models.IdempotencyKey{}).
		Where("operation_scope = ? AND actor_id = ? AND idem_key = ? AND status = ?",
			scope, actorID, key, models.IdempotencyStatusProcessing).
		Updates(map[string]interface{}{
			"status":           status,
			"response_code":    responseCode,
			"response_payload": responsePayload,
			"error_payload":    errorPayload,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ReclaimFailed moves a failed row back to processing for a retry. The
// guard keeps concurrent retries of the same key to a single winner.
func (r *gormRepository) ReclaimFailed(id uint) (bool, error) {
	tx := r.db.Model(&models.IdempotencyKey{}).
		Where("id = ? AND status = ?", id, models.IdempotencyStatusFailed).
		Updates(map[string]interface{}{
			"status":           models.IdempotencyStatusProcessing,
			"response_code":    0,
			"response_payload": "",
			"error_payload":    "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) TouchLastSeen(id uint) error {
	return r.db.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		UpdateColumn("last_seen_at", time.Now()).Error
}

func (r *gormRepository) ListStaleProcessing(olderThan time.Time, limit int) ([]models.IdempotencyKey, error) {
	var recs []models.IdempotencyKey
	err := r.db.Where("status = ? AND created_at < ?", models.IdempotencyStatusProcessing, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
