package models

import "time"

// Flow types shared by transactions and journal entries.
const (
	FlowPhotoPurchase        = "photo_purchase"
	FlowTip                  = "tip"
	FlowRefund               = "refund"
	FlowDropInCreditPurchase = "drop_in_credit_purchase"
	FlowSubscriptionCharge   = "subscription_charge"
	FlowPayout               = "payout"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusSucceeded = "succeeded"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
)

// PaymentTransaction records a single gateway charge attempt. It is the
// source row the journal gap sweep checks settlement entries against.
type PaymentTransaction struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Reference   string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"reference"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	CreatorID   uint       `gorm:"index" json:"creator_id"`
	WalletID    uint       `gorm:"index" json:"wallet_id"`
	Kind        string     `gorm:"type:varchar(32);not null;index" json:"kind"`
	Provider    string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	AmountMinor int64      `gorm:"not null" json:"amount_minor"`
	Currency    string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ItemRef     string     `gorm:"type:varchar(191);not null;default:''" json:"item_ref"`
	SucceededAt *time.Time `gorm:"type:timestamp;default:null" json:"succeeded_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
