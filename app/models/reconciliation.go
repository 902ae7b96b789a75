package models

import "time"

const (
	ReconRunStatusProcessing = "processing"
	ReconRunStatusCompleted  = "completed"
)

const (
	ReconIssueStatusOpen     = "open"
	ReconIssueStatusResolved = "resolved"
)

const (
	ReconIssueSeverityWarning  = "warning"
	ReconIssueSeverityCritical = "critical"
)

// Issue types raised by reconciliation sweeps.
const (
	IssueMissingJournalEntry = "missing_journal_entry"
	IssueSubscriptionDrift   = "subscription_drift"
	IssueStaleIdempotencyKey = "stale_idempotency_key"
	IssueUnverifiedWebhook   = "unverified_webhook"
	IssueFailedWebhook       = "failed_webhook"
	IssueStalePayout         = "stale_payout"
)

// ReconciliationRun records one sweep. RunKey is unique so a doubled cron
// trigger starts a single run.
type ReconciliationRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	RunKey        string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"run_key"`
	TriggerSource string     `gorm:"type:varchar(32);not null" json:"trigger_source"`
	Status        string     `gorm:"type:varchar(20);not null;default:'processing'" json:"status"`
	MetadataJSON  string     `gorm:"type:text" json:"metadata_json"`
	CompletedAt   *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// ReconciliationIssue is one detected integrity problem. IssueKey is stable
// per (issue type, source kind, source id) so repeated runs upsert instead of
// duplicating.
type ReconciliationIssue struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      uint      `gorm:"not null;index" json:"run_id"`
	IssueKey   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"issue_key"`
	IssueType  string    `gorm:"type:varchar(48);not null;index" json:"issue_type"`
	Severity   string    `gorm:"type:varchar(16);not null;default:'warning'" json:"severity"`
	SourceKind string    `gorm:"type:varchar(32);not null" json:"source_kind"`
	SourceID   string    `gorm:"type:varchar(191);not null" json:"source_id"`
	Status     string    `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	AutoHealed bool      `gorm:"default:false" json:"auto_healed"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
