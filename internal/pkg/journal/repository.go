package journal

import (
	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the journal service.
type Repository interface {
	CreateEntryIfNotExists(entry *models.JournalEntry) (bool, *models.JournalEntry, error)
	FindByIdempotencyKey(key string) (*models.JournalEntry, error)
	FindBySource(sourceKind, sourceID string) (*models.JournalEntry, error)
	ListUnjournaledTransactions(limit int) ([]models.PaymentTransaction, error)
	ListUnjournaledPayouts(limit int) ([]models.Payout, error)
	FindWalletByID(id uint) (*models.Wallet, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a journal repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEntryIfNotExists(entry *models.JournalEntry) (bool, *models.JournalEntry, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Omit("Postings").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(entry)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		if !created {
			return nil
		}
		for i := range entry.Postings {
			entry.Postings[i].JournalEntryID = entry.ID
		}
		return tx.Create(&entry.Postings).Error
	})
	if err != nil {
		return false, nil, err
	}

	stored, err := r.FindByIdempotencyKey(entry.IdempotencyKey)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormRepository) FindByIdempotencyKey(key string) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	err := r.db.Preload("Postings").Where("idempotency_key = ?", key).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) FindBySource(sourceKind, sourceID string) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	err := r.db.Preload("Postings").
		Where("source_kind = ? AND source_id = ?", sourceKind, sourceID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) ListUnjournaledTransactions(limit int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.db.
		Where("status = ?", models.TransactionStatusSucceeded).
		Where("NOT EXISTS (SELECT 1 FROM journal_entries je WHERE je.source_kind = ? AND je.source_id = payment_transactions.reference)",
			models.SourceKindTransaction).
		Order("id asc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *gormRepository) ListUnjournaledPayouts(limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.
		Where("status = ?", models.PayoutStatusCompleted).
		Where("NOT EXISTS (SELECT 1 FROM journal_entries je WHERE je.source_kind = ? AND je.source_id = payouts.identity_key)",
			models.SourceKindPayout).
		Order("id asc").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (r *gormRepository) FindWalletByID(id uint) (*models.Wallet, error) {
	return models.FindWalletByID(r.db, id)
}
