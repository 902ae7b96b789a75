package subscriptions

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
)

// ReconcileProviderStatus re-reads gateway state for provider-renewed rows
// that still look entitling locally and heals any drift. Statuses the mapping
// table does not know are skipped, never guessed. One bad row does not stop
// the pass. With dryRun set, drift is detected and reported but nothing is
// written and no capabilities move.
func (s *Service) ReconcileProviderStatus(ctx context.Context, limit int, dryRun bool) (*ReconcileResult, error) {
	providers := make([]string, 0, 3)
	for _, p := range gateway.AllProviders() {
		if gateway.SupportsRecurring(p) {
			providers = append(providers, string(p))
		}
	}

	rows, err := s.repo.ListForProviderReconciliation(providers, limit)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Checked: len(rows)}
	for i := range rows {
		row := rows[i]
		if err := s.reconcileRow(ctx, &row, dryRun, result); err != nil {
			result.Errors++
			log.Errorf("[Subscriptions] reconcile failed for %s subscription %d: %v", row.Scope, row.ID, err)
		}
	}
	if len(result.Healed) > 0 || result.Errors > 0 {
		log.Infof("[Subscriptions] status reconciliation: %d checked, %d healed, %d skipped, %d errors",
			result.Checked, len(result.Healed), result.Skipped, result.Errors)
	}
	return result, nil
}

func (s *Service) reconcileRow(ctx context.Context, row *models.Subscription, dryRun bool, result *ReconcileResult) error {
	provider, err := gateway.ParseProvider(row.PaymentProvider)
	if err != nil {
		return err
	}
	client, err := s.clientFor(provider)
	if err != nil {
		return err
	}

	state, err := client.GetSubscriptionStatus(ctx, row.ExternalID())
	if err != nil {
		return err
	}

	mapped, known := gateway.MapSubscriptionStatus(provider, state.Status)
	if !known {
		result.Skipped++
		return nil
	}

	updates := map[string]interface{}{}
	if mapped != row.Status {
		updates["status"] = mapped
	}
	if state.CurrentPeriodStart != nil && !equalTimePtr(state.CurrentPeriodStart, row.CurrentPeriodStart) {
		updates["current_period_start"] = state.CurrentPeriodStart
	}
	if state.CurrentPeriodEnd != nil && !equalTimePtr(state.CurrentPeriodEnd, row.CurrentPeriodEnd) {
		updates["current_period_end"] = state.CurrentPeriodEnd
	}
	if state.CancelAtPeriodEnd != row.CancelAtPeriodEnd {
		updates["cancel_at_period_end"] = state.CancelAtPeriodEnd
	}
	if len(updates) == 0 {
		return nil
	}

	if !dryRun {
		if err := s.repo.UpdateFields(row.ID, updates); err != nil {
			return err
		}
	}

	if mapped != row.Status {
		result.Healed = append(result.Healed, DriftHeal{
			Scope:      row.Scope,
			RowID:      row.ID,
			FromStatus: row.Status,
			ToStatus:   mapped,
		})
		if dryRun {
			return nil
		}
		if err := s.applyCapabilities(row.OwnerID, row.Scope, mapped); err != nil {
			log.Warnf("[Subscriptions] capability update failed for user %d scope %s: %v", row.OwnerID, row.Scope, err)
		}
	}
	return nil
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
