package models

import "time"

// Ledger account codes. The journal is the single place money state is
// mutated; wallets and entitlements are projections of it.
const (
	AccountGatewayReceivable = "gateway_receivable"
	AccountPlatformCash      = "platform_cash"
	AccountPlatformRevenue   = "platform_revenue"
	AccountCreatorPayable    = "creator_payable"
	AccountCustomerCredit    = "customer_credit"
	AccountPayoutClearing    = "payout_clearing"
)

const (
	PostingDebit  = "debit"
	PostingCredit = "credit"
)

// Source kinds for journal entries.
const (
	SourceKindTransaction  = "transaction"
	SourceKindPayout       = "payout"
	SourceKindSubscription = "subscription"
	SourceKindManual       = "manual"
)

// JournalEntry is one immutable, balanced financial event. Retried writes of
// the same event are deduplicated on idempotency_key; corrections are new
// entries (e.g. a refund), never edits.
type JournalEntry struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	IdempotencyKey string           `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	SourceKind     string           `gorm:"type:varchar(32);not null;index:idx_journal_entries_source,priority:1" json:"source_kind"`
	SourceID       string           `gorm:"type:varchar(191);not null;index:idx_journal_entries_source,priority:2" json:"source_id"`
	FlowType       string           `gorm:"type:varchar(32);not null;index" json:"flow_type"`
	Currency       string           `gorm:"type:varchar(3);not null" json:"currency"`
	Provider       string           `gorm:"type:varchar(20);not null;index" json:"provider"`
	Description    string           `gorm:"type:varchar(255);not null;default:''" json:"description"`
	MetadataJSON   string           `gorm:"type:text" json:"metadata_json"`
	Postings       []JournalPosting `gorm:"foreignKey:JournalEntryID" json:"postings"`
	CreatedAt      time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

// JournalPosting is one debit or credit line of a journal entry.
type JournalPosting struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	JournalEntryID   uint      `gorm:"not null;index" json:"journal_entry_id"`
	AccountCode      string    `gorm:"type:varchar(32);not null;index" json:"account_code"`
	Direction        string    `gorm:"type:varchar(6);not null" json:"direction"`
	AmountMinor      int64     `gorm:"not null" json:"amount_minor"`
	Currency         string    `gorm:"type:varchar(3);not null" json:"currency"`
	CounterpartyType string    `gorm:"type:varchar(32);not null;default:''" json:"counterparty_type"`
	CounterpartyID   string    `gorm:"type:varchar(191);not null;default:''" json:"counterparty_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
