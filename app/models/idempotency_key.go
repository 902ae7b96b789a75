package models

import "time"

const (
	IdempotencyStatusProcessing = "processing"
	IdempotencyStatusCompleted  = "completed"
	IdempotencyStatusFailed     = "failed"
)

// IdempotencyKey guarantees at-most-once execution of a client-retryable
// mutating operation. Unique on (operation_scope, actor_id, idem_key); the
// request hash detects key reuse with a different payload.
type IdempotencyKey struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OperationScope  string    `gorm:"type:varchar(64);not null;index:ux_idempotency_scope_actor_key,unique,priority:1" json:"operation_scope"`
	ActorID         uint      `gorm:"not null;index:ux_idempotency_scope_actor_key,unique,priority:2" json:"actor_id"`
	IdemKey         string    `gorm:"type:varchar(128);not null;index:ux_idempotency_scope_actor_key,unique,priority:3" json:"idem_key"`
	RequestHash     string    `gorm:"type:varchar(64);not null" json:"-"`
	Status          string    `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	ResponseCode    int       `gorm:"not null;default:0" json:"response_code"`
	ResponsePayload string    `gorm:"type:longtext" json:"response_payload"`
	ErrorPayload    string    `gorm:"type:text" json:"error_payload"`
	LastSeenAt      time.Time `gorm:"type:timestamp;autoUpdateTime" json:"last_seen_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the key reached a final state.
func (k *IdempotencyKey) IsTerminal() bool {
	return k.Status == IdempotencyStatusCompleted || k.Status == IdempotencyStatusFailed
}
