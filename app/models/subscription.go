package models

import "time"

// Subscription scopes. Creator, attendee and vault subscriptions share one
// table and one state machine; scope-specific behavior is limited to the
// capability flags granted and revoked with the subscription.
const (
	SubscriptionScopeCreator  = "creator"
	SubscriptionScopeAttendee = "attendee"
	SubscriptionScopeVault    = "vault"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

const (
	RenewalModeProvider = "provider"
	RenewalModeManual   = "manual_renewal"
)

const (
	BillingCycleMonth = "month"
	BillingCycleYear  = "year"
)

// Subscription mirrors gateway subscription state, or drives the synthetic
// manual-renewal lifecycle when the provider has no recurring primitive.
// ExternalSubscriptionID is NULL for manual rows; MySQL lets any number of
// NULLs coexist under the unique index, so one provider can carry many
// manual subscriptions.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Scope                  string     `gorm:"type:varchar(16);not null;index:idx_subscriptions_scope_status,priority:1" json:"scope"`
	OwnerID                uint       `gorm:"not null;index" json:"owner_id"`
	PlanCode               string     `gorm:"type:varchar(64);not null" json:"plan_code"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_scope_status,priority:2" json:"status"`
	PaymentProvider        string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"payment_provider"`
	ExternalSubscriptionID *string    `gorm:"type:varchar(191);index:ux_subscriptions_provider_subid,unique,priority:2" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"external_customer_id"`
	ExternalPlanID         string     `gorm:"type:varchar(191);not null;default:''" json:"external_plan_id"`
	RenewalMode            string     `gorm:"type:varchar(20);not null;default:'provider';index" json:"renewal_mode"`
	BillingCycle           string     `gorm:"type:varchar(16);not null;default:'month'" json:"billing_cycle"`
	Currency               string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	AmountMinor            int64      `gorm:"not null;default:0" json:"amount_minor"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	LastWebhookEventAt     *time.Time `gorm:"type:timestamp;default:null" json:"last_webhook_event_at,omitempty"`
	MetadataJSON           string     `gorm:"type:text" json:"metadata_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExternalID returns the provider subscription id, or "" for manual rows.
func (s *Subscription) ExternalID() string {
	if s.ExternalSubscriptionID == nil {
		return ""
	}
	return *s.ExternalSubscriptionID
}

// IsTerminal reports whether the subscription can no longer transition.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCanceled || s.Status == SubscriptionStatusExpired
}

// IsEntitling reports whether the subscription currently grants its
// scope capabilities.
func IsEntitlingSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
