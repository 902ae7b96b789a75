package models

import (
	"time"

	"gorm.io/gorm"
)

// Payout frequency buckets for scheduled wallet payouts.
const (
	PayoutFrequencyDaily   = "daily"
	PayoutFrequencyWeekly  = "weekly"
	PayoutFrequencyMonthly = "monthly"
)

// Wallet holds a creator's withdrawable balance in minor units. Balances are
// only ever changed by journal-backed operations: sale/tip credits and payout
// debits. The debit is a conditional UPDATE so a wallet can never go negative.
type Wallet struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	UserID               uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	BalanceMinor         int64     `gorm:"not null;default:0" json:"balance_minor"`
	Currency             string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	PayoutProvider       string    `gorm:"type:varchar(20);not null;default:''" json:"payout_provider"`
	PayoutRecipientRef   string    `gorm:"type:varchar(191);not null;default:''" json:"payout_recipient_ref"`
	PayoutThresholdMinor int64     `gorm:"not null;default:0" json:"payout_threshold_minor"`
	PayoutFrequency      string    `gorm:"type:varchar(16);not null;default:'weekly'" json:"payout_frequency"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditWallet adds amountMinor to the wallet balance atomically.
func CreditWallet(db *gorm.DB, walletID uint, amountMinor int64) error {
	return db.Model(&Wallet{}).
		Where("id = ?", walletID).
		UpdateColumn("balance_minor", gorm.Expr("balance_minor + ?", amountMinor)).Error
}

// DebitWalletIfSufficient subtracts amountMinor only when the balance covers
// it. Returns true when the debit was applied.
func DebitWalletIfSufficient(db *gorm.DB, walletID uint, amountMinor int64) (bool, error) {
	tx := db.Model(&Wallet{}).
		Where("id = ? AND balance_minor >= ?", walletID, amountMinor).
		UpdateColumn("balance_minor", gorm.Expr("balance_minor - ?", amountMinor))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func FindWalletByID(db *gorm.DB, id uint) (*Wallet, error) {
	var w Wallet
	if err := db.First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}
