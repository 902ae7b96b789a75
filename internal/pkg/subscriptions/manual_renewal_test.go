package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manualRow(ownerID uint, periodEnd time.Time) models.Subscription {
	return models.Subscription{
		Scope:            models.SubscriptionScopeAttendee,
		OwnerID:          ownerID,
		PlanCode:         "attendee_monthly",
		Status:           models.SubscriptionStatusActive,
		PaymentProvider:  "mpesa",
		RenewalMode:      models.RenewalModeManual,
		CurrentPeriodEnd: &periodEnd,
	}
}

func TestSweepExpiresPastGraceExactlyOnce(t *testing.T) {
	repo := newFakeRepository()
	caps := &fakeCaps{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, caps, notifier)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	id := repo.add(manualRow(5, now.Add(-48*time.Hour)))

	res, err := svc.RunManualRenewalSweep(context.Background(), now, 50, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, models.SubscriptionStatusExpired, repo.rows[id].Status)
	assert.Len(t, caps.revokes, 1)
	assert.Len(t, notifier.sent, 1)

	// Repeated sweeps find nothing: the row left the entitling set.
	for i := 0; i < 3; i++ {
		res, err = svc.RunManualRenewalSweep(context.Background(), now, 50, false)
		require.NoError(t, err)
		assert.Zero(t, res.Expired)
	}
	assert.Len(t, caps.revokes, 1)
	assert.Len(t, notifier.sent, 1)
}

func TestSweepWithinGraceDoesNothing(t *testing.T) {
	repo := newFakeRepository()
	notifier := &fakeNotifier{}
	svc := newTestService(repo, &fakeCaps{}, notifier)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	id := repo.add(manualRow(5, now.Add(-6*time.Hour)))

	res, err := svc.RunManualRenewalSweep(context.Background(), now, 50, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Zero(t, res.Expired)
	assert.Zero(t, res.RemindersSent)
	assert.Equal(t, models.SubscriptionStatusActive, repo.rows[id].Status)
}

func TestSweepSendsSmallestUnmetReminderOnce(t *testing.T) {
	repo := newFakeRepository()
	notifier := &fakeNotifier{}
	svc := newTestService(repo, &fakeCaps{}, notifier)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	periodEnd := now.Add(60 * time.Hour) // inside 72h window, outside 24h
	repo.add(manualRow(5, periodEnd))

	res, err := svc.RunManualRenewalSweep(context.Background(), now, 50, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersSent)

	// Same window again: deduped.
	res, err = svc.RunManualRenewalSweep(context.Background(), now.Add(time.Hour), 50, false)
	require.NoError(t, err)
	assert.Zero(t, res.RemindersSent)

	// Time advances into the 24h window: one more reminder, new dedupe key.
	res, err = svc.RunManualRenewalSweep(context.Background(), periodEnd.Add(-10*time.Hour), 50, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemindersSent)
	assert.Len(t, notifier.sent, 2)
	for _, template := range notifier.sent {
		assert.Equal(t, notifications.TemplateSubscriptionReminder, template)
	}
}

func TestSweepDryRunCountsWithoutActing(t *testing.T) {
	repo := newFakeRepository()
	caps := &fakeCaps{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, caps, notifier)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	expiredID := repo.add(manualRow(5, now.Add(-48*time.Hour)))
	repo.add(manualRow(6, now.Add(60*time.Hour)))

	res, err := svc.RunManualRenewalSweep(context.Background(), now, 50, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.RemindersSent)

	// Nothing actually moved.
	assert.Equal(t, models.SubscriptionStatusActive, repo.rows[expiredID].Status)
	assert.Empty(t, caps.revokes)
	assert.Empty(t, notifier.sent)
}

func TestSweepIgnoresProviderRenewedRows(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeCaps{}, &fakeNotifier{})

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	past := now.Add(-96 * time.Hour)
	repo.add(models.Subscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 3,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		ExternalSubscriptionID: extID("sub_1"), RenewalMode: models.RenewalModeProvider,
		CurrentPeriodEnd: &past,
	})

	res, err := svc.RunManualRenewalSweep(context.Background(), now, 50, false)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}
