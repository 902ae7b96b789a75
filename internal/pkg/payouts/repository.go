package payouts

import (
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the payout service.
type Repository interface {
	CreatePayoutIfNotExists(p *models.Payout) (bool, error)
	FindByIdentityKey(identityKey string) (*models.Payout, error)
	MarkProcessing(id uint) (bool, error)
	MarkCompleted(id uint, transferRef string, at time.Time) (bool, error)
	MarkFailed(id uint, cause string) error
	SetTransferRef(id uint, transferRef string) error
	ListFailedPayouts(limit int) ([]models.Payout, error)
	ListStaleProcessing(olderThan time.Time, limit int) ([]models.Payout, error)
	ListEligibleWallets(mode string, limit int) ([]models.Wallet, error)
	FindWalletByID(id uint) (*models.Wallet, error)
	CreditWallet(walletID uint, amountMinor int64) error
	DebitWalletIfSufficient(walletID uint, amountMinor int64) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payout repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreatePayoutIfNotExists(p *models.Payout) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_key"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindByIdentityKey(identityKey string) (*models.Payout, error) {
	var p models.Payout
	if err := r.db.Where("identity_key = ?", identityKey).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkProcessing claims the payout for one worker. Only pending and failed
// rows can be claimed, so a payout is never transferred twice concurrently.
func (r *gormRepository) MarkProcessing(id uint) (bool, error) {
	tx := r.db.Model(&models.Payout{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.PayoutStatusPending, models.PayoutStatusFailed}).
		Updates(map[string]interface{}{
			"status":        models.PayoutStatusProcessing,
			"failure_cause": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkCompleted(id uint, transferRef string, at time.Time) (bool, error) {
	tx := r.db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusCompleted,
			"transfer_ref": transferRef,
			"completed_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkFailed(id uint, cause string) error {
	return r.db.Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.PayoutStatusFailed,
			"failure_cause": cause,
		}).Error
}

func (r *gormRepository) SetTransferRef(id uint, transferRef string) error {
	return r.db.Model(&models.Payout{}).
		Where("id = ?", id).
		Update("transfer_ref", transferRef).Error
}

func (r *gormRepository) ListFailedPayouts(limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.Where("status = ?", models.PayoutStatusFailed).
		Order("created_at asc").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (r *gormRepository) ListStaleProcessing(olderThan time.Time, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.Where("status = ? AND updated_at < ?", models.PayoutStatusProcessing, olderThan).
		Order("updated_at asc").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (r *gormRepository) ListEligibleWallets(mode string, limit int) ([]models.Wallet, error) {
	q := r.db.
		Where("payout_provider <> '' AND payout_recipient_ref <> ''").
		Order("id asc").
		Limit(limit)

	if mode == ModeThreshold {
		q = q.Where("payout_threshold_minor > 0 AND balance_minor >= payout_threshold_minor")
	} else {
		q = q.Where("payout_frequency = ? AND balance_minor > 0", mode)
	}

	var wallets []models.Wallet
	err := q.Find(&wallets).Error
	return wallets, err
}

func (r *gormRepository) FindWalletByID(id uint) (*models.Wallet, error) {
	return models.FindWalletByID(r.db, id)
}

func (r *gormRepository) CreditWallet(walletID uint, amountMinor int64) error {
	return models.CreditWallet(r.db, walletID, amountMinor)
}

func (r *gormRepository) DebitWalletIfSufficient(walletID uint, amountMinor int64) (bool, error) {
	return models.DebitWalletIfSufficient(r.db, walletID, amountMinor)
}
