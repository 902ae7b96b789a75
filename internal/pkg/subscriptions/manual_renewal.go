package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/notifications"
)

// RunManualRenewalSweep drives the synthetic lifecycle of manual-renewal
// subscriptions (providers without native recurring billing). Per row it
// does at most one of:
//
//   - expire: period end plus grace is behind now; the status transition is
//     guarded so N concurrent or repeated sweeps expire a row exactly once,
//     and only the winning sweep revokes capabilities and notifies
//   - remind: period end is ahead of now within a reminder window; the
//     smallest window not yet passed is chosen and the notification dedupe
//     key pins one reminder per row, period end and window
//
// Rows between period end and the grace cutoff are left alone. Errors on one
// row are logged and counted, not propagated. With dryRun set, expirations and
// reminders are counted but no status moves and nothing is emitted.
func (s *Service) RunManualRenewalSweep(ctx context.Context, now time.Time, limit int, dryRun bool) (*SweepResult, error) {
	largest := s.reminderWindows[len(s.reminderWindows)-1]
	rows, err := s.repo.ListManualRenewalDue(now.Add(largest), limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Checked: len(rows)}
	for i := range rows {
		row := rows[i]
		if row.CurrentPeriodEnd == nil {
			continue
		}
		if err := s.sweepRow(ctx, &row, now, dryRun, result); err != nil {
			result.Errors++
			log.Errorf("[Subscriptions] manual-renewal sweep failed for %s subscription %d: %v", row.Scope, row.ID, err)
		}
	}
	if result.Expired > 0 || result.RemindersSent > 0 || result.Errors > 0 {
		log.Infof("[Subscriptions] manual-renewal sweep: %d checked, %d expired, %d reminders, %d errors",
			result.Checked, result.Expired, result.RemindersSent, result.Errors)
	}
	return result, nil
}

func (s *Service) sweepRow(ctx context.Context, row *models.Subscription, now time.Time, dryRun bool, result *SweepResult) error {
	periodEnd := *row.CurrentPeriodEnd
	until := periodEnd.Sub(now)

	if until <= -s.gracePeriod {
		if dryRun {
			result.Expired++
			return nil
		}
		expired, err := s.repo.ExpireIfEntitling(row.ID)
		if err != nil {
			return err
		}
		if !expired {
			return nil
		}
		result.Expired++
		if err := s.caps.RevokeScope(row.OwnerID, row.Scope); err != nil {
			log.Warnf("[Subscriptions] capability revoke failed for user %d scope %s: %v", row.OwnerID, row.Scope, err)
		}
		_, err = s.notifier.Emit(ctx, row.OwnerID, notifications.TemplateSubscriptionExpired,
			expiryDedupeKey(row, periodEnd),
			map[string]string{"scope": row.Scope, "plan_code": row.PlanCode})
		return err
	}

	if until <= 0 {
		// Inside the grace period; neither reminder nor expiry applies.
		return nil
	}

	for _, window := range s.reminderWindows {
		if until > window {
			continue
		}
		if dryRun {
			result.RemindersSent++
			return nil
		}
		sent, err := s.notifier.Emit(ctx, row.OwnerID, notifications.TemplateSubscriptionReminder,
			reminderDedupeKey(row, periodEnd, window),
			map[string]string{
				"scope":      row.Scope,
				"plan_code":  row.PlanCode,
				"period_end": periodEnd.Format(time.RFC3339),
			})
		if err != nil {
			return err
		}
		if sent {
			result.RemindersSent++
		}
		return nil
	}
	return nil
}

func expiryDedupeKey(row *models.Subscription, periodEnd time.Time) string {
	return fmt.Sprintf("subexp:%s:%d:%s", row.Scope, row.ID, periodEnd.UTC().Format("2006-01-02"))
}

func reminderDedupeKey(row *models.Subscription, periodEnd time.Time, window time.Duration) string {
	return fmt.Sprintf("subrem:%s:%d:%s:%dh", row.Scope, row.ID, periodEnd.UTC().Format("2006-01-02"), int(window.Hours()))
}
