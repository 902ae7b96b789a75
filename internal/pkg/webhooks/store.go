package webhooks

import (
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormTransactionStore struct {
	db *gorm.DB
}

// NewTransactionStore creates a transaction store backed by GORM.
func NewTransactionStore(db *gorm.DB) TransactionStore {
	return &gormTransactionStore{db: db}
}

func (s *gormTransactionStore) FindTransactionByReference(reference string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := s.db.Where("reference = ?", reference).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *gormTransactionStore) MarkTransactionSucceeded(reference string, at time.Time) (bool, error) {
	tx := s.db.Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status = ?", reference, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":       models.TransactionStatusSucceeded,
			"succeeded_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormTransactionStore) MarkTransactionRefunded(reference string) (bool, error) {
	tx := s.db.Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status = ?", reference, models.TransactionStatusSucceeded).
		Update("status", models.TransactionStatusRefunded)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormTransactionStore) GrantEntitlement(ent *models.PurchaseEntitlement) (bool, error) {
	tx := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_reference"}},
		DoNothing: true,
	}).Create(ent)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormTransactionStore) FindWalletByUserID(userID uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *gormTransactionStore) CreditWallet(walletID uint, amountMinor int64) error {
	return models.CreditWallet(s.db, walletID, amountMinor)
}

func (s *gormTransactionStore) DebitWalletIfSufficient(walletID uint, amountMinor int64) (bool, error) {
	return models.DebitWalletIfSufficient(s.db, walletID, amountMinor)
}
