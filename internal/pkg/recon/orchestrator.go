package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/idempotency"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/journal"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/payouts"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/subscriptions"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/webhooks"
)

const (
	staleKeyAge    = 30 * time.Minute
	stalePayoutAge = 2 * time.Hour
)

// SubscriptionSweeper is the slice of the subscription service the
// orchestrator drives.
type SubscriptionSweeper interface {
	ReconcileProviderStatus(ctx context.Context, limit int, dryRun bool) (*subscriptions.ReconcileResult, error)
	RunManualRenewalSweep(ctx context.Context, now time.Time, limit int, dryRun bool) (*subscriptions.SweepResult, error)
}

// StaleKeyLister surfaces idempotency keys stuck in processing.
type StaleKeyLister interface {
	ListStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]models.IdempotencyKey, error)
}

// StalePayoutLister surfaces payouts stuck in processing, waiting on a
// transfer webhook that never came.
type StalePayoutLister interface {
	ListStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]models.Payout, error)
}

// FailedEventLister surfaces webhook events that failed processing.
type FailedEventLister interface {
	ListFailed(limit int) ([]models.WebhookEvent, error)
}

// SweepSummary aggregates one full reconciliation sweep.
type SweepSummary struct {
	RunID              uint `json:"run_id"`
	Duplicate          bool `json:"duplicate"`
	DryRun             bool `json:"dry_run"`
	GapsHealed         int  `json:"gaps_healed"`
	DriftHealed        int  `json:"drift_healed"`
	Expired            int  `json:"expired"`
	RemindersSent      int  `json:"reminders_sent"`
	StaleKeys          int  `json:"stale_keys"`
	StalePayouts       int  `json:"stale_payouts"`
	UnverifiedWebhooks int  `json:"unverified_webhooks"`
	FailedWebhooks     int  `json:"failed_webhooks"`
	Errors             int  `json:"errors"`
}

// Orchestrator runs the full reconciliation sweep: journal gap healing,
// both subscription passes, the stale idempotency-key scan and the failed
// webhook scan, with every finding recorded on the tracker. Each pass is
// idempotent, so overlapping or repeated sweeps converge on the same state.
type Orchestrator struct {
	tracker      *Tracker
	journal      *journal.Service
	subs         SubscriptionSweeper
	staleKeys    StaleKeyLister
	stalePayouts StalePayoutLister
	events       FailedEventLister
	feeMinor     func(*models.PaymentTransaction) int64
	now          func() time.Time
}

// NewOrchestrator creates an orchestrator from injected collaborators.
func NewOrchestrator(tracker *Tracker, journalSvc *journal.Service, subs SubscriptionSweeper, staleKeys StaleKeyLister, stalePayouts StalePayoutLister, events FailedEventLister) *Orchestrator {
	return &Orchestrator{
		tracker:      tracker,
		journal:      journalSvc,
		subs:         subs,
		staleKeys:    staleKeys,
		stalePayouts: stalePayouts,
		events:       events,
		feeMinor:     journal.PlatformFeeMinor,
		now:          time.Now,
	}
}

// NewOrchestratorFromDB wires an orchestrator against GORM-backed
// collaborators.
func NewOrchestratorFromDB(db *gorm.DB) *Orchestrator {
	return NewOrchestrator(
		NewTrackerFromDB(db),
		journal.NewServiceFromDB(db),
		subscriptions.NewServiceFromDB(db),
		idempotency.NewStoreFromDB(db),
		payouts.NewServiceFromDB(db),
		webhooks.NewLedger(db),
	)
}

// Sweep runs one reconciliation pass. The run key has minute resolution, so
// a doubled trigger inside the same minute joins the existing run and does
// no work. Row-level failures are counted into the run metadata; the run
// always completes.
func (o *Orchestrator) Sweep(ctx context.Context, limit int, dryRun bool) (*SweepSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	now := o.now()

	runKey := "sweep:" + now.UTC().Format("2006-01-02T15:04")
	run, created, err := o.tracker.StartRun(ctx, runKey, "sweep")
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[Recon] sweep %s already running, skipping", runKey)
		return &SweepSummary{Duplicate: true}, nil
	}

	summary := &SweepSummary{RunID: run.ID, DryRun: dryRun}

	o.healJournalGaps(ctx, limit, dryRun, summary)
	o.reconcileSubscriptions(ctx, now, limit, dryRun, summary)
	o.scanStaleKeys(ctx, limit, summary)
	o.scanStalePayouts(ctx, limit, summary)
	o.scanUnverifiedWebhooks(ctx, limit, summary)

	metadata, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	if err := o.tracker.CompleteRun(ctx, run.ID, string(metadata)); err != nil {
		return nil, err
	}
	log.Infof("[Recon] sweep %s done: %d gaps, %d drift, %d expired, %d stale keys, %d errors",
		runKey, summary.GapsHealed, summary.DriftHealed, summary.Expired, summary.StaleKeys, summary.Errors)
	return summary, nil
}

func (o *Orchestrator) healJournalGaps(ctx context.Context, limit int, dryRun bool, summary *SweepSummary) {
	res, err := o.journal.HealGaps(ctx, o.feeMinor, limit, dryRun)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] journal gap pass failed: %v", err)
		return
	}
	summary.GapsHealed = len(res.Healed)
	summary.Errors += res.Errors
	for _, gap := range res.Healed {
		// A healed gap is recorded already resolved; a dry run only detects,
		// so its finding stays open.
		status := models.ReconIssueStatusResolved
		if dryRun {
			status = models.ReconIssueStatusOpen
		}
		issue := &models.ReconciliationIssue{
			RunID:      summary.RunID,
			IssueKey:   journal.IssueKeyForGap(gap),
			IssueType:  models.IssueMissingJournalEntry,
			Severity:   models.ReconIssueSeverityCritical,
			SourceKind: gap.SourceKind,
			SourceID:   gap.SourceID,
			Status:     status,
			AutoHealed: !dryRun,
			Details:    fmt.Sprintf("%s %s had no journal entry", gap.FlowType, gap.SourceID),
		}
		if err := o.tracker.RecordIssue(ctx, issue); err != nil {
			summary.Errors++
			log.Errorf("[Recon] could not record gap issue for %s: %v", gap.SourceID, err)
		}
	}
}

func (o *Orchestrator) reconcileSubscriptions(ctx context.Context, now time.Time, limit int, dryRun bool, summary *SweepSummary) {
	statusRes, err := o.subs.ReconcileProviderStatus(ctx, limit, dryRun)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] subscription status pass failed: %v", err)
	} else {
		summary.DriftHealed = len(statusRes.Healed)
		summary.Errors += statusRes.Errors
		for _, heal := range statusRes.Healed {
			status := models.ReconIssueStatusResolved
			if dryRun {
				status = models.ReconIssueStatusOpen
			}
			issue := &models.ReconciliationIssue{
				RunID:      summary.RunID,
				IssueKey:   fmt.Sprintf("%s:subscription:%d", models.IssueSubscriptionDrift, heal.RowID),
				IssueType:  models.IssueSubscriptionDrift,
				SourceKind: "subscription",
				SourceID:   fmt.Sprintf("%d", heal.RowID),
				Status:     status,
				AutoHealed: !dryRun,
				Details:    fmt.Sprintf("%s subscription drifted from %s to %s", heal.Scope, heal.FromStatus, heal.ToStatus),
			}
			if err := o.tracker.RecordIssue(ctx, issue); err != nil {
				summary.Errors++
			}
		}
	}

	sweepRes, err := o.subs.RunManualRenewalSweep(ctx, now, limit, dryRun)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] manual-renewal pass failed: %v", err)
		return
	}
	summary.Expired = sweepRes.Expired
	summary.RemindersSent = sweepRes.RemindersSent
	summary.Errors += sweepRes.Errors
}

// scanStaleKeys surfaces idempotency keys stuck in processing. They are
// never auto-retried: the owning operation may still be in flight, so a
// human decides.
func (o *Orchestrator) scanStaleKeys(ctx context.Context, limit int, summary *SweepSummary) {
	stale, err := o.staleKeys.ListStaleProcessing(ctx, staleKeyAge, limit)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] stale key scan failed: %v", err)
		return
	}
	summary.StaleKeys = len(stale)
	for i := range stale {
		key := stale[i]
		sourceID := fmt.Sprintf("%s:%d:%s", key.OperationScope, key.ActorID, key.IdemKey)
		issue := &models.ReconciliationIssue{
			RunID:      summary.RunID,
			IssueKey:   fmt.Sprintf("%s:idempotency_key:%s", models.IssueStaleIdempotencyKey, sourceID),
			IssueType:  models.IssueStaleIdempotencyKey,
			SourceKind: "idempotency_key",
			SourceID:   sourceID,
			Details:    fmt.Sprintf("key has been processing since %s", key.LastSeenAt.Format(time.RFC3339)),
		}
		if err := o.tracker.RecordIssue(ctx, issue); err != nil {
			summary.Errors++
		}
	}
}

// scanStalePayouts flags payouts that have waited too long for their
// transfer webhook. Settling them needs a human checking the gateway, so
// the findings stay open.
func (o *Orchestrator) scanStalePayouts(ctx context.Context, limit int, summary *SweepSummary) {
	stale, err := o.stalePayouts.ListStaleProcessing(ctx, stalePayoutAge, limit)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] stale payout scan failed: %v", err)
		return
	}
	summary.StalePayouts = len(stale)
	for i := range stale {
		payout := stale[i]
		issue := &models.ReconciliationIssue{
			RunID:      summary.RunID,
			IssueKey:   fmt.Sprintf("%s:payout:%s", models.IssueStalePayout, payout.IdentityKey),
			IssueType:  models.IssueStalePayout,
			Severity:   models.ReconIssueSeverityCritical,
			SourceKind: "payout",
			SourceID:   payout.IdentityKey,
			Details:    fmt.Sprintf("payout has been processing since %s, no transfer webhook arrived", payout.UpdatedAt.Format(time.RFC3339)),
		}
		if err := o.tracker.RecordIssue(ctx, issue); err != nil {
			summary.Errors++
		}
	}
}

func (o *Orchestrator) scanUnverifiedWebhooks(ctx context.Context, limit int, summary *SweepSummary) {
	failed, err := o.events.ListFailed(limit)
	if err != nil {
		summary.Errors++
		log.Errorf("[Recon] failed webhook scan failed: %v", err)
		return
	}
	for i := range failed {
		event := failed[i]
		issue := &models.ReconciliationIssue{
			RunID:      summary.RunID,
			Severity:   models.ReconIssueSeverityCritical,
			SourceKind: "webhook_event",
			SourceID:   fmt.Sprintf("%s:%s", event.Provider, event.ExternalEventID),
		}
		if event.SignatureValid {
			// Failed during processing, not verification. The provider's
			// redelivery can re-claim the row; flag it in case none comes.
			summary.FailedWebhooks++
			issue.IssueKey = fmt.Sprintf("%s:webhook_event:%s:%s", models.IssueFailedWebhook, event.Provider, event.ExternalEventID)
			issue.IssueType = models.IssueFailedWebhook
			issue.Details = fmt.Sprintf("webhook processing failed: %s", event.ProcessingError)
		} else {
			summary.UnverifiedWebhooks++
			issue.IssueKey = fmt.Sprintf("%s:webhook_event:%s:%s", models.IssueUnverifiedWebhook, event.Provider, event.ExternalEventID)
			issue.IssueType = models.IssueUnverifiedWebhook
			issue.Details = "webhook stored with an invalid signature"
		}
		if err := o.tracker.RecordIssue(ctx, issue); err != nil {
			summary.Errors++
		}
	}
}
