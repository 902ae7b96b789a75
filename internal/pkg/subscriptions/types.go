package subscriptions

import (
	"context"
	"time"
)

// NormalizedSubscription is the provider-agnostic shape used when syncing
// external subscription state into the local table. Webhook handlers and
// reconciliation both funnel through it, so arrival order does not matter.
type NormalizedSubscription struct {
	Scope                  string
	OwnerID                uint
	PlanCode               string
	Status                 string
	PaymentProvider        string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	ExternalPlanID         string
	RenewalMode            string
	BillingCycle           string
	Currency               string
	AmountMinor            int64
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	FromWebhook            bool
}

// DriftHeal describes one subscription row whose local state was corrected
// from gateway-reported state.
type DriftHeal struct {
	Scope      string
	RowID      uint
	FromStatus string
	ToStatus   string
}

// ReconcileResult summarizes one gateway-status reconciliation pass.
type ReconcileResult struct {
	Checked int
	Healed  []DriftHeal
	Skipped int
	Errors  int
}

// SweepResult summarizes one manual-renewal sweep.
type SweepResult struct {
	Checked       int
	Expired       int
	RemindersSent int
	Errors        int
}

// CapabilityStore grants and revokes the paid capability flags of a scope.
type CapabilityStore interface {
	GrantScope(userID uint, scope string) error
	RevokeScope(userID uint, scope string) error
}

// Notifier delivers a user notification idempotently per dedupe key.
type Notifier interface {
	Emit(ctx context.Context, userID uint, templateCode, dedupeKey string, metadata map[string]string) (bool, error)
}
