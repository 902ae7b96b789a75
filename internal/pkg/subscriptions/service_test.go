package subscriptions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepository keeps subscription rows in memory and emulates the guarded
// status transitions the GORM repository performs with conditional updates.
type fakeRepository struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.Subscription
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{rows: make(map[uint]*models.Subscription)}
}

func extID(s string) *string { return &s }

func sameExternalID(a, b *models.Subscription) bool {
	// NULL external ids never match each other, like the unique index.
	return a.ExternalSubscriptionID != nil && b.ExternalSubscriptionID != nil &&
		*a.ExternalSubscriptionID == *b.ExternalSubscriptionID
}

func (f *fakeRepository) add(sub models.Subscription) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub.ID = f.nextID
	f.rows[sub.ID] = &sub
	return sub.ID
}

func (f *fakeRepository) UpsertByExternalID(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.PaymentProvider == sub.PaymentProvider && sameExternalID(row, sub) {
			sub.ID = row.ID
			*row = *sub
			return nil
		}
	}
	f.nextID++
	sub.ID = f.nextID
	cp := *sub
	f.rows[sub.ID] = &cp
	return nil
}

func (f *fakeRepository) Create(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.PaymentProvider == sub.PaymentProvider && sameExternalID(row, sub) {
			return gorm.ErrDuplicatedKey
		}
	}
	f.nextID++
	sub.ID = f.nextID
	cp := *sub
	f.rows[sub.ID] = &cp
	return nil
}

func (f *fakeRepository) FindByID(id uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListForProviderReconciliation(providers []string, limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := make(map[string]bool, len(providers))
	for _, p := range providers {
		allowed[p] = true
	}
	var out []models.Subscription
	for _, row := range f.rows {
		if !models.IsEntitlingSubscriptionStatus(row.Status) ||
			row.RenewalMode != models.RenewalModeProvider ||
			row.ExternalSubscriptionID == nil ||
			!allowed[row.PaymentProvider] {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) ListManualRenewalDue(cutoff time.Time, limit int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, row := range f.rows {
		if !models.IsEntitlingSubscriptionStatus(row.Status) ||
			row.RenewalMode != models.RenewalModeManual ||
			row.CurrentPeriodEnd == nil ||
			row.CurrentPeriodEnd.After(cutoff) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for col, val := range updates {
		switch col {
		case "status":
			row.Status = val.(string)
		case "current_period_start":
			row.CurrentPeriodStart = val.(*time.Time)
		case "current_period_end":
			row.CurrentPeriodEnd = val.(*time.Time)
		case "cancel_at_period_end":
			row.CancelAtPeriodEnd = val.(bool)
		}
	}
	return nil
}

func (f *fakeRepository) ExpireIfEntitling(id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || !models.IsEntitlingSubscriptionStatus(row.Status) {
		return false, nil
	}
	row.Status = models.SubscriptionStatusExpired
	return true, nil
}

func (f *fakeRepository) CancelIfNotTerminal(id uint, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.IsTerminal() {
		return false, nil
	}
	row.Status = models.SubscriptionStatusCanceled
	row.CanceledAt = &at
	return true, nil
}

type fakeCaps struct {
	mu      sync.Mutex
	grants  []string
	revokes []string
}

func capKey(userID uint, scope string) string {
	return fmt.Sprintf("%s/%d", scope, userID)
}

func (f *fakeCaps) GrantScope(userID uint, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, capKey(userID, scope))
	return nil
}

func (f *fakeCaps) RevokeScope(userID uint, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, capKey(userID, scope))
	return nil
}

// fakeNotifier dedupes in memory like the real emitter's unique constraint.
type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string]string // dedupe key -> template
}

func (f *fakeNotifier) Emit(ctx context.Context, userID uint, templateCode, dedupeKey string, metadata map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	if _, ok := f.sent[dedupeKey]; ok {
		return false, nil
	}
	f.sent[dedupeKey] = templateCode
	return true, nil
}

type fakeGatewayClient struct {
	provider gateway.Provider
	states   map[string]*gateway.SubscriptionState
	err      error
}

func (f *fakeGatewayClient) Provider() gateway.Provider { return f.provider }
func (f *fakeGatewayClient) VerifyWebhookSignature(payload []byte, sig string) bool {
	return true
}
func (f *fakeGatewayClient) VerifyTransaction(ctx context.Context, ref string) (*gateway.ChargeResult, error) {
	return nil, f.err
}
func (f *fakeGatewayClient) GetSubscriptionStatus(ctx context.Context, externalID string) (*gateway.SubscriptionState, error) {
	if f.err != nil {
		return nil, f.err
	}
	if state, ok := f.states[externalID]; ok {
		return state, nil
	}
	return &gateway.SubscriptionState{ExternalSubscriptionID: externalID, Status: "active"}, nil
}
func (f *fakeGatewayClient) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	return nil, f.err
}

func newTestService(repo *fakeRepository, caps *fakeCaps, notifier *fakeNotifier) *Service {
	return NewService(repo, caps, notifier)
}

func TestSyncUpsertsByExternalID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeCaps{}, &fakeNotifier{})
	ctx := context.Background()

	first, err := svc.Sync(ctx, NormalizedSubscription{
		Scope:                  models.SubscriptionScopeCreator,
		OwnerID:                7,
		PlanCode:               "creator_monthly",
		Status:                 models.SubscriptionStatusActive,
		PaymentProvider:        "stripe",
		ExternalSubscriptionID: "sub_123",
		RenewalMode:            models.RenewalModeProvider,
	})
	require.NoError(t, err)

	second, err := svc.Sync(ctx, NormalizedSubscription{
		Scope:                  models.SubscriptionScopeCreator,
		OwnerID:                7,
		PlanCode:               "creator_monthly",
		Status:                 models.SubscriptionStatusPastDue,
		PaymentProvider:        "stripe",
		ExternalSubscriptionID: "sub_123",
		RenewalMode:            models.RenewalModeProvider,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.rows, 1)
	assert.Equal(t, models.SubscriptionStatusPastDue, repo.rows[first.ID].Status)
}

func TestSyncMovesCapabilitiesWithStatus(t *testing.T) {
	caps := &fakeCaps{}
	svc := newTestService(newFakeRepository(), caps, &fakeNotifier{})
	ctx := context.Background()

	_, err := svc.Sync(ctx, NormalizedSubscription{
		Scope: models.SubscriptionScopeAttendee, OwnerID: 4,
		Status: models.SubscriptionStatusActive, PaymentProvider: "paystack",
		ExternalSubscriptionID: "SUB_x", RenewalMode: models.RenewalModeProvider,
	})
	require.NoError(t, err)
	assert.Len(t, caps.grants, 1)

	_, err = svc.Sync(ctx, NormalizedSubscription{
		Scope: models.SubscriptionScopeAttendee, OwnerID: 4,
		Status: models.SubscriptionStatusCanceled, PaymentProvider: "paystack",
		ExternalSubscriptionID: "SUB_x", RenewalMode: models.RenewalModeProvider,
	})
	require.NoError(t, err)
	assert.Len(t, caps.revokes, 1)
}

func TestSyncRejectsProviderRowWithoutExternalID(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeCaps{}, &fakeNotifier{})
	_, err := svc.Sync(context.Background(), NormalizedSubscription{
		Scope: models.SubscriptionScopeVault, OwnerID: 2,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		RenewalMode: models.RenewalModeProvider,
	})
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestCancelIsIdempotentAndScopeChecked(t *testing.T) {
	repo := newFakeRepository()
	caps := &fakeCaps{}
	svc := newTestService(repo, caps, &fakeNotifier{})
	ctx := context.Background()

	id := repo.add(models.Subscription{
		Scope: models.SubscriptionScopeVault, OwnerID: 6,
		Status: models.SubscriptionStatusActive, RenewalMode: models.RenewalModeManual,
	})

	_, err := svc.Cancel(ctx, models.SubscriptionScopeCreator, id)
	assert.ErrorIs(t, err, ErrScopeMismatch)

	canceled, err := svc.Cancel(ctx, models.SubscriptionScopeVault, id)
	require.NoError(t, err)
	assert.True(t, canceled)
	assert.Len(t, caps.revokes, 1)

	canceled, err = svc.Cancel(ctx, models.SubscriptionScopeVault, id)
	require.NoError(t, err)
	assert.False(t, canceled)
	assert.Len(t, caps.revokes, 1)
}

func TestReconcileHealsDriftAndSkipsUnknownStatus(t *testing.T) {
	repo := newFakeRepository()
	caps := &fakeCaps{}
	driftedID := repo.add(models.Subscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 7,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		ExternalSubscriptionID: extID("sub_drift"), RenewalMode: models.RenewalModeProvider,
	})
	repo.add(models.Subscription{
		Scope: models.SubscriptionScopeAttendee, OwnerID: 8,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		ExternalSubscriptionID: extID("sub_weird"), RenewalMode: models.RenewalModeProvider,
	})

	svc := newTestService(repo, caps, &fakeNotifier{}).WithClientFactory(
		func(p gateway.Provider) (gateway.Client, error) {
			return &fakeGatewayClient{provider: p, states: map[string]*gateway.SubscriptionState{
				"sub_drift": {ExternalSubscriptionID: "sub_drift", Status: "canceled"},
				"sub_weird": {ExternalSubscriptionID: "sub_weird", Status: "paused"},
			}}, nil
		})

	res, err := svc.ReconcileProviderStatus(context.Background(), 50, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Healed, 1)
	assert.Equal(t, driftedID, res.Healed[0].RowID)
	assert.Equal(t, models.SubscriptionStatusCanceled, res.Healed[0].ToStatus)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.rows[driftedID].Status)
	assert.Len(t, caps.revokes, 1)
}

func TestReconcileToleratesRowErrors(t *testing.T) {
	repo := newFakeRepository()
	repo.add(models.Subscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 7,
		Status: models.SubscriptionStatusActive, PaymentProvider: "flutterwave",
		ExternalSubscriptionID: extID("fw-1"), RenewalMode: models.RenewalModeProvider,
	})
	repo.add(models.Subscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 9,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		ExternalSubscriptionID: extID("sub_ok"), RenewalMode: models.RenewalModeProvider,
	})

	svc := newTestService(repo, &fakeCaps{}, &fakeNotifier{}).WithClientFactory(
		func(p gateway.Provider) (gateway.Client, error) {
			if p == gateway.ProviderFlutterwave {
				return &fakeGatewayClient{provider: p, err: context.DeadlineExceeded}, nil
			}
			return &fakeGatewayClient{provider: p}, nil
		})

	res, err := svc.ReconcileProviderStatus(context.Background(), 50, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Errors)
}

func TestSyncAllowsManyManualRowsPerProvider(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakeCaps{}, &fakeNotifier{})
	ctx := context.Background()
	end := time.Now().Add(30 * 24 * time.Hour)

	first, err := svc.Sync(ctx, NormalizedSubscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 11,
		PlanCode: "creator_monthly", Status: models.SubscriptionStatusActive,
		PaymentProvider: "mpesa", RenewalMode: models.RenewalModeManual,
		CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)

	// A second manual row on the same provider must not collide: both carry
	// a NULL external id under the unique index.
	second, err := svc.Sync(ctx, NormalizedSubscription{
		Scope: models.SubscriptionScopeAttendee, OwnerID: 12,
		PlanCode: "attendee_monthly", Status: models.SubscriptionStatusActive,
		PaymentProvider: "mpesa", RenewalMode: models.RenewalModeManual,
		CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, repo.rows, 2)
	assert.Nil(t, repo.rows[first.ID].ExternalSubscriptionID)
	assert.Nil(t, repo.rows[second.ID].ExternalSubscriptionID)
}

func TestReconcileDryRunDetectsWithoutWriting(t *testing.T) {
	repo := newFakeRepository()
	caps := &fakeCaps{}
	driftedID := repo.add(models.Subscription{
		Scope: models.SubscriptionScopeCreator, OwnerID: 7,
		Status: models.SubscriptionStatusActive, PaymentProvider: "stripe",
		ExternalSubscriptionID: extID("sub_drift"), RenewalMode: models.RenewalModeProvider,
	})

	svc := newTestService(repo, caps, &fakeNotifier{}).WithClientFactory(
		func(p gateway.Provider) (gateway.Client, error) {
			return &fakeGatewayClient{provider: p, states: map[string]*gateway.SubscriptionState{
				"sub_drift": {ExternalSubscriptionID: "sub_drift", Status: "canceled"},
			}}, nil
		})

	res, err := svc.ReconcileProviderStatus(context.Background(), 50, true)
	require.NoError(t, err)
	require.Len(t, res.Healed, 1)
	assert.Equal(t, driftedID, res.Healed[0].RowID)

	// Detection only: the row keeps its status and capabilities stay put.
	assert.Equal(t, models.SubscriptionStatusActive, repo.rows[driftedID].Status)
	assert.Empty(t, caps.revokes)
}
