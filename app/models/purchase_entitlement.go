package models

import "time"

// PurchaseEntitlement grants a buyer access to a purchased item (a photo or
// a drop-in credit pack). Unique on the transaction reference: a redelivered
// webhook can re-run the grant without handing out a second entitlement.
type PurchaseEntitlement struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	UserID               uint      `gorm:"not null;index" json:"user_id"`
	ItemRef              string    `gorm:"type:varchar(191);not null;index" json:"item_ref"`
	TransactionReference string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"transaction_reference"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}
