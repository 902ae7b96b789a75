package models

import "time"

// Notification is one emitted user message. DedupeKey is unique so an
// emitter retry or a repeated sweep can never announce the same thing twice.
type Notification struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	TemplateCode string    `gorm:"type:varchar(64);not null;index" json:"template_code"`
	DedupeKey    string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"dedupe_key"`
	MetadataJSON string    `gorm:"type:text" json:"metadata_json"`
	IsRead       bool      `gorm:"default:false" json:"is_read"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
