package webhooks

import (
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger persists every received webhook event. The unique constraint on
// (provider, external_event_id) makes the insert double as the claim: exactly
// one delivery of an event wins it, every redelivery sees RowsAffected == 0.
// A row that failed processing can be re-claimed by a redelivery, so a
// transient error does not park the event forever.
type Ledger interface {
	ClaimEvent(event *models.WebhookEvent) (bool, error)
	MarkProcessed(id uint) error
	MarkFailed(id uint, processingError string) error
	FindByProviderEvent(provider, externalEventID string) (*models.WebhookEvent, error)
	ListFailed(limit int) ([]models.WebhookEvent, error)
}

type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates a webhook ledger backed by GORM.
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) ClaimEvent(event *models.WebhookEvent) (bool, error) {
	tx := l.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	// The event exists. If its processing failed, this redelivery may
	// re-claim it; the guarded update keeps concurrent redeliveries to one
	// winner.
	existing, err := l.FindByProviderEvent(event.Provider, event.ExternalEventID)
	if err != nil {
		return false, err
	}
	if existing.Status != models.WebhookStatusFailed {
		return false, nil
	}
	reclaim := l.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status = ?", existing.ID, models.WebhookStatusFailed).
		Updates(map[string]interface{}{
			"status":           models.WebhookStatusClaimed,
			"processing_error": "",
		})
	if reclaim.Error != nil {
		return false, reclaim.Error
	}
	if reclaim.RowsAffected == 0 {
		return false, nil
	}
	event.ID = existing.ID
	return true, nil
}

func (l *gormLedger) MarkProcessed(id uint) error {
	now := time.Now()
	return l.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.WebhookStatusProcessed,
			"processed_at": now,
		}).Error
}

func (l *gormLedger) MarkFailed(id uint, processingError string) error {
	return l.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.WebhookStatusFailed,
			"processing_error": processingError,
		}).Error
}

func (l *gormLedger) FindByProviderEvent(provider, externalEventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := l.db.Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (l *gormLedger) ListFailed(limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := l.db.Where("status = ?", models.WebhookStatusFailed).
		Order("first_seen_at asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
