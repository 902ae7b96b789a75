package models

import "time"

// UserCapability is one granted paid-plan capability flag. Unique on
// (user_id, capability) so grants are naturally idempotent.
type UserCapability struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index:ux_user_capabilities_user_cap,unique,priority:1" json:"user_id"`
	Capability string    `gorm:"type:varchar(64);not null;index:ux_user_capabilities_user_cap,unique,priority:2" json:"capability"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
