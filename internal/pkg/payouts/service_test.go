package payouts

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRepository emulates the identity-key unique constraint and the guarded
// status transitions in memory.
type fakeRepository struct {
	nextID  uint
	payouts map[string]*models.Payout
	wallets map[uint]*models.Wallet
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		payouts: make(map[string]*models.Payout),
		wallets: make(map[uint]*models.Wallet),
	}
}

func (f *fakeRepository) byID(id uint) *models.Payout {
	for _, p := range f.payouts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (f *fakeRepository) CreatePayoutIfNotExists(p *models.Payout) (bool, error) {
	if _, ok := f.payouts[p.IdentityKey]; ok {
		return false, nil
	}
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.payouts[p.IdentityKey] = &cp
	return true, nil
}

func (f *fakeRepository) FindByIdentityKey(key string) (*models.Payout, error) {
	if p, ok := f.payouts[key]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) MarkProcessing(id uint) (bool, error) {
	p := f.byID(id)
	if p == nil {
		return false, nil
	}
	if p.Status != models.PayoutStatusPending && p.Status != models.PayoutStatusFailed {
		return false, nil
	}
	p.Status = models.PayoutStatusProcessing
	p.FailureCause = ""
	return true, nil
}

func (f *fakeRepository) MarkCompleted(id uint, transferRef string, at time.Time) (bool, error) {
	p := f.byID(id)
	if p == nil || p.Status != models.PayoutStatusProcessing {
		return false, nil
	}
	p.Status = models.PayoutStatusCompleted
	p.TransferRef = transferRef
	p.CompletedAt = &at
	return true, nil
}

func (f *fakeRepository) MarkFailed(id uint, cause string) error {
	if p := f.byID(id); p != nil {
		p.Status = models.PayoutStatusFailed
		p.FailureCause = cause
	}
	return nil
}

func (f *fakeRepository) SetTransferRef(id uint, transferRef string) error {
	if p := f.byID(id); p != nil {
		p.TransferRef = transferRef
	}
	return nil
}

func (f *fakeRepository) ListStaleProcessing(olderThan time.Time, limit int) ([]models.Payout, error) {
	var out []models.Payout
	for _, p := range f.payouts {
		if p.Status == models.PayoutStatusProcessing && p.UpdatedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) ListFailedPayouts(limit int) ([]models.Payout, error) {
	var out []models.Payout
	for _, p := range f.payouts {
		if p.Status == models.PayoutStatusFailed {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) ListEligibleWallets(mode string, limit int) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.PayoutProvider == "" || w.PayoutRecipientRef == "" {
			continue
		}
		if mode == ModeThreshold {
			if w.PayoutThresholdMinor > 0 && w.BalanceMinor >= w.PayoutThresholdMinor {
				out = append(out, *w)
			}
		} else if w.PayoutFrequency == mode && w.BalanceMinor > 0 {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) FindWalletByID(id uint) (*models.Wallet, error) {
	if w, ok := f.wallets[id]; ok {
		return w, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreditWallet(walletID uint, amountMinor int64) error {
	if w, ok := f.wallets[walletID]; ok {
		w.BalanceMinor += amountMinor
	}
	return nil
}

func (f *fakeRepository) DebitWalletIfSufficient(walletID uint, amountMinor int64) (bool, error) {
	w, ok := f.wallets[walletID]
	if !ok || w.BalanceMinor < amountMinor {
		return false, nil
	}
	w.BalanceMinor -= amountMinor
	return true, nil
}

type fakeJournalRepo struct {
	nextID  uint
	entries map[string]*models.JournalEntry
}

func newFakeJournalRepo() *fakeJournalRepo {
	return &fakeJournalRepo{entries: make(map[string]*models.JournalEntry)}
}

func (f *fakeJournalRepo) CreateEntryIfNotExists(entry *models.JournalEntry) (bool, *models.JournalEntry, error) {
	if existing, ok := f.entries[entry.IdempotencyKey]; ok {
		cp := *existing
		return false, &cp, nil
	}
	f.nextID++
	entry.ID = f.nextID
	cp := *entry
	f.entries[entry.IdempotencyKey] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakeJournalRepo) FindByIdempotencyKey(key string) (*models.JournalEntry, error) {
	if e, ok := f.entries[key]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeJournalRepo) FindBySource(sourceKind, sourceID string) (*models.JournalEntry, error) {
	for _, e := range f.entries {
		if e.SourceKind == sourceKind && e.SourceID == sourceID {
			return e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeJournalRepo) ListUnjournaledTransactions(limit int) ([]models.PaymentTransaction, error) {
	return nil, nil
}

func (f *fakeJournalRepo) ListUnjournaledPayouts(limit int) ([]models.Payout, error) {
	return nil, nil
}

func (f *fakeJournalRepo) FindWalletByID(id uint) (*models.Wallet, error) {
	return nil, gorm.ErrRecordNotFound
}

type fakeNotifier struct {
	sent map[string]string
}

func (f *fakeNotifier) Emit(ctx context.Context, userID uint, templateCode, dedupeKey string, metadata map[string]string) (bool, error) {
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	if _, ok := f.sent[dedupeKey]; ok {
		return false, nil
	}
	f.sent[dedupeKey] = templateCode
	return true, nil
}

type fakeTransferClient struct {
	provider  gateway.Provider
	calls     int
	err       error
	status    string
	transfers []gateway.TransferRequest
}

func (f *fakeTransferClient) Provider() gateway.Provider { return f.provider }
func (f *fakeTransferClient) VerifyWebhookSignature(p []byte, s string) bool { return true }
func (f *fakeTransferClient) VerifyTransaction(ctx context.Context, ref string) (*gateway.ChargeResult, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeTransferClient) GetSubscriptionStatus(ctx context.Context, id string) (*gateway.SubscriptionState, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeTransferClient) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	f.calls++
	f.transfers = append(f.transfers, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = "success"
	}
	return &gateway.TransferResult{TransferRef: "trf-" + req.IdentityKey, Status: status}, nil
}

type payoutFixture struct {
	repo     *fakeRepository
	journal  *fakeJournalRepo
	notifier *fakeNotifier
	client   *fakeTransferClient
	svc      *Service
}

func newFixture() *payoutFixture {
	fx := &payoutFixture{
		repo:     newFakeRepository(),
		journal:  newFakeJournalRepo(),
		notifier: &fakeNotifier{},
		client:   &fakeTransferClient{provider: gateway.ProviderPaystack},
	}
	fx.svc = NewService(fx.repo, journal.NewService(fx.journal), fx.notifier).
		WithClientFactory(func(p gateway.Provider) (gateway.Client, error) { return fx.client, nil })
	return fx
}

func (fx *payoutFixture) addWallet(id uint, balance int64) *models.Wallet {
	w := &models.Wallet{
		ID: id, UserID: id + 100, BalanceMinor: balance, Currency: "NGN",
		PayoutProvider: "paystack", PayoutRecipientRef: "RCP_1",
		PayoutThresholdMinor: 5000, PayoutFrequency: models.PayoutFrequencyWeekly,
	}
	fx.repo.wallets[id] = w
	return w
}

func TestProcessPayoutMovesMoneyOnce(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	ctx := context.Background()

	payout, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, int64(3000), fx.repo.wallets[5].BalanceMinor)
	assert.Equal(t, 1, fx.client.calls)
	assert.Len(t, fx.journal.entries, 1)

	// Replay with the same identity key: stored payout, no second transfer.
	replayed, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	assert.Equal(t, payout.ID, replayed.ID)
	assert.Equal(t, 1, fx.client.calls)
	assert.Equal(t, int64(3000), fx.repo.wallets[5].BalanceMinor)
}

func TestProcessPayoutInsufficientBalance(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 1000)

	_, err := fx.svc.ProcessPayout(context.Background(), 5, 7000, "manual:1:key-a")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, fx.client.calls)
	assert.Equal(t, int64(1000), fx.repo.wallets[5].BalanceMinor)
	assert.Equal(t, models.PayoutStatusFailed, fx.repo.payouts["manual:1:key-a"].Status)
}

func TestProcessPayoutTransferFailureReversesDebit(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.client.err = errors.New("gateway down")
	ctx := context.Background()

	_, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.Error(t, err)
	assert.Equal(t, int64(10000), fx.repo.wallets[5].BalanceMinor)
	assert.Equal(t, models.PayoutStatusFailed, fx.repo.payouts["manual:1:key-a"].Status)
	assert.Empty(t, fx.journal.entries)
	assert.Len(t, fx.notifier.sent, 1)

	// The retry resumes under the same identity key and succeeds.
	fx.client.err = nil
	payout, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusCompleted, payout.Status)
	assert.Equal(t, int64(3000), fx.repo.wallets[5].BalanceMinor)
	assert.Len(t, fx.journal.entries, 1)
}

func TestProcessPayoutInFlightConflict(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	ctx := context.Background()

	_, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	fx.repo.payouts["manual:1:key-a"].Status = models.PayoutStatusProcessing

	_, err = fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	assert.ErrorIs(t, err, ErrPayoutInFlight)
}

func TestAsyncTransferSettledByWebhook(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.client.status = "pending"
	ctx := context.Background()

	payout, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, payout.Status)
	assert.Empty(t, fx.journal.entries)

	// The gateway's transfer ref is on the stored row before the webhook
	// arrives; the settling webhook completes with it.
	assert.Equal(t, "trf-manual:1:key-a", fx.repo.payouts["manual:1:key-a"].TransferRef)

	require.NoError(t, fx.svc.HandleTransferResult(ctx, "manual:1:key-a", true))
	assert.Equal(t, models.PayoutStatusCompleted, fx.repo.payouts["manual:1:key-a"].Status)
	assert.Equal(t, "trf-manual:1:key-a", fx.repo.payouts["manual:1:key-a"].TransferRef)
	assert.Len(t, fx.journal.entries, 1)

	// A repeated webhook is a no-op.
	require.NoError(t, fx.svc.HandleTransferResult(ctx, "manual:1:key-a", true))
	assert.Len(t, fx.journal.entries, 1)
}

func TestAsyncTransferFailureReversesDebit(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.client.status = "pending"
	ctx := context.Background()

	_, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), fx.repo.wallets[5].BalanceMinor)

	require.NoError(t, fx.svc.HandleTransferResult(ctx, "manual:1:key-a", false))
	assert.Equal(t, int64(10000), fx.repo.wallets[5].BalanceMinor)
	assert.Equal(t, models.PayoutStatusFailed, fx.repo.payouts["manual:1:key-a"].Status)
}

func TestListStaleProcessingFindsStuckPayouts(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.client.status = "pending"
	ctx := context.Background()

	_, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.NoError(t, err)

	// Fresh processing rows are not stale yet.
	fx.repo.payouts["manual:1:key-a"].UpdatedAt = time.Now()
	stale, err := fx.svc.ListStaleProcessing(ctx, 2*time.Hour, 50)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// A row nobody settled for hours surfaces.
	fx.repo.payouts["manual:1:key-a"].UpdatedAt = time.Now().Add(-3 * time.Hour)
	stale, err = fx.svc.ListStaleProcessing(ctx, 2*time.Hour, 50)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "manual:1:key-a", stale[0].IdentityKey)
}

func TestBatchIsSafeToRerun(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.addWallet(6, 2000) // below threshold
	ctx := context.Background()

	res, err := fx.svc.ProcessPendingPayouts(ctx, ModeThreshold, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, fx.client.calls)

	// Same day, same period key: the wallet is no longer eligible, and even
	// a still-eligible wallet would hit the stored payout.
	res, err = fx.svc.ProcessPendingPayouts(ctx, ModeThreshold, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.client.calls)
	assert.Zero(t, res.Failed)
}

func TestRetryFailedPayouts(t *testing.T) {
	fx := newFixture()
	fx.addWallet(5, 10000)
	fx.client.err = errors.New("gateway down")
	ctx := context.Background()

	_, err := fx.svc.ProcessPayout(ctx, 5, 7000, "manual:1:key-a")
	require.Error(t, err)

	fx.client.err = nil
	res, err := fx.svc.RetryFailedPayouts(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, models.PayoutStatusCompleted, fx.repo.payouts["manual:1:key-a"].Status)
}

func TestBatchIdentityKeyPeriods(t *testing.T) {
	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		mode string
		want string
	}{
		{ModeThreshold, "auto:threshold:5:2026-08-31"},
		{ModeDaily, "auto:daily:5:2026-08-31"},
		{ModeWeekly, "auto:weekly:5:2026-W36"},
		{ModeMonthly, "auto:monthly:5:2026-08"},
	}
	for _, tt := range tests {
		if got := batchIdentityKey(tt.mode, 5, at); got != tt.want {
			t.Fatalf("batchIdentityKey(%s) = %s, want %s", tt.mode, got, tt.want)
		}
	}
}
