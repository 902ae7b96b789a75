package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/notifications"
)

var (
	ErrInvalidSubscription = errors.New("invalid subscription data")
	ErrScopeMismatch       = errors.New("subscription does not belong to the given scope")
)

// ClientFactory resolves the gateway client used for status reconciliation.
type ClientFactory func(p gateway.Provider) (gateway.Client, error)

// Service owns the subscription lifecycle for all three scopes: syncing
// gateway state, the manual-renewal sweep for providers without native
// recurring billing, and local cancellation.
type Service struct {
	repo      Repository
	caps      CapabilityStore
	notifier  Notifier
	clientFor ClientFactory

	gracePeriod time.Duration
	// Reminder windows before period end, ascending. A row gets at most one
	// reminder per window, chosen as the smallest window not yet passed.
	reminderWindows []time.Duration
}

// NewService creates a subscription service from injected collaborators.
func NewService(repo Repository, caps CapabilityStore, notifier Notifier) *Service {
	return &Service{
		repo:            repo,
		caps:            caps,
		notifier:        notifier,
		clientFor:       gateway.ForProvider,
		gracePeriod:     24 * time.Hour,
		reminderWindows: []time.Duration{24 * time.Hour, 72 * time.Hour},
	}
}

// NewServiceFromDB creates a subscription service backed by GORM.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewCapabilityStore(db), notifications.NewEmitterFromDB(db))
}

// WithClientFactory overrides gateway client resolution, used in tests.
func (s *Service) WithClientFactory(f ClientFactory) *Service {
	s.clientFor = f
	return s
}

// Sync upserts provider-reported subscription state, keyed by
// (provider, external subscription id), and moves capability flags to match
// the resulting status. Webhooks and reconciliation both call it, so a late
// or repeated event converges to the same row.
func (s *Service) Sync(ctx context.Context, in NormalizedSubscription) (*models.Subscription, error) {
	_ = ctx
	if in.Scope == "" || in.OwnerID == 0 || in.PaymentProvider == "" || in.Status == "" {
		return nil, ErrInvalidSubscription
	}
	if in.RenewalMode == models.RenewalModeProvider && in.ExternalSubscriptionID == "" {
		return nil, ErrInvalidSubscription
	}

	sub := &models.Subscription{
		Scope:                  in.Scope,
		OwnerID:                in.OwnerID,
		PlanCode:               in.PlanCode,
		Status:                 in.Status,
		PaymentProvider:        in.PaymentProvider,
		ExternalCustomerID:     in.ExternalCustomerID,
		ExternalPlanID:         in.ExternalPlanID,
		RenewalMode:            in.RenewalMode,
		BillingCycle:           in.BillingCycle,
		Currency:               in.Currency,
		AmountMinor:            in.AmountMinor,
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
	}
	if in.ExternalSubscriptionID != "" {
		// Manual rows keep a NULL external id so they never collide on the
		// (provider, external_subscription_id) unique index.
		extID := in.ExternalSubscriptionID
		sub.ExternalSubscriptionID = &extID
	}
	if in.FromWebhook {
		now := time.Now()
		sub.LastWebhookEventAt = &now
	}

	if in.RenewalMode == models.RenewalModeManual {
		if err := s.repo.Create(sub); err != nil {
			return nil, err
		}
	} else if err := s.repo.UpsertByExternalID(sub); err != nil {
		return nil, err
	}

	if err := s.applyCapabilities(sub.OwnerID, sub.Scope, sub.Status); err != nil {
		log.Warnf("[Subscriptions] capability update failed for user %d scope %s: %v", sub.OwnerID, sub.Scope, err)
	}
	return sub, nil
}

// Cancel cancels a subscription locally and revokes its scope capabilities.
// Canceling an already terminal row is a no-op and returns false.
func (s *Service) Cancel(ctx context.Context, scope string, id uint) (bool, error) {
	_ = ctx
	sub, err := s.repo.FindByID(id)
	if err != nil {
		return false, err
	}
	if sub.Scope != scope {
		return false, ErrScopeMismatch
	}
	if sub.IsTerminal() {
		return false, nil
	}

	canceled, err := s.repo.CancelIfNotTerminal(id, time.Now())
	if err != nil {
		return false, err
	}
	if canceled {
		if err := s.caps.RevokeScope(sub.OwnerID, sub.Scope); err != nil {
			log.Warnf("[Subscriptions] capability revoke failed for user %d scope %s: %v", sub.OwnerID, sub.Scope, err)
		}
		log.Infof("[Subscriptions] canceled %s subscription %d for user %d", sub.Scope, sub.ID, sub.OwnerID)
	}
	return canceled, nil
}

// applyCapabilities grants when the status entitles and revokes otherwise.
func (s *Service) applyCapabilities(userID uint, scope, status string) error {
	if models.IsEntitlingSubscriptionStatus(status) {
		return s.caps.GrantScope(userID, scope)
	}
	return s.caps.RevokeScope(userID, scope)
}
