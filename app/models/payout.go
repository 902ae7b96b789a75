package models

import "time"

const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
)

// Payout is one transfer of a wallet balance to a creator. Each completed
// payout is tied 1:1 to a wallet debit and a payout journal entry.
// IdentityKey carries the idempotency discipline into the gateway call: one
// identity key, at most one transfer.
type Payout struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	WalletID     uint       `gorm:"not null;index" json:"wallet_id"`
	IdentityKey  string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"identity_key"`
	AmountMinor  int64      `gorm:"not null" json:"amount_minor"`
	Currency     string     `gorm:"type:varchar(3);not null" json:"currency"`
	Provider     string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	TransferRef  string     `gorm:"type:varchar(191);not null;default:''" json:"transfer_ref"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FailureCause string     `gorm:"type:text" json:"failure_cause"`
	CompletedAt  *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
