package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/journal"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/notifications"
)

// Batch modes. Threshold pays out every wallet over its own threshold; the
// frequency modes pay out wallets on that schedule regardless of balance.
const (
	ModeThreshold = "threshold"
	ModeDaily     = models.PayoutFrequencyDaily
	ModeWeekly    = models.PayoutFrequencyWeekly
	ModeMonthly   = models.PayoutFrequencyMonthly
)

var (
	ErrInvalidPayout       = errors.New("invalid payout request")
	ErrPayoutInFlight      = errors.New("payout is already being processed")
	ErrInsufficientBalance = errors.New("wallet balance does not cover the payout")
	ErrWalletNotPayable    = errors.New("wallet has no payout provider or recipient configured")
)

// Notifier delivers a user notification idempotently per dedupe key.
type Notifier interface {
	Emit(ctx context.Context, userID uint, templateCode, dedupeKey string, metadata map[string]string) (bool, error)
}

// BatchResult summarizes one payout batch.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// Service moves wallet balances to creators through gateway transfers. The
// money discipline is: conditional debit first, transfer second, journal and
// completion last; a failed transfer credits the debit back. The identity
// key is unique per payout and doubles as the gateway-side idempotency
// reference, so one identity key can never produce two transfers.
type Service struct {
	repo      Repository
	journal   *journal.Service
	notifier  Notifier
	clientFor func(gateway.Provider) (gateway.Client, error)
	now       func() time.Time
}

// NewService creates a payout service from injected collaborators.
func NewService(repo Repository, journalSvc *journal.Service, notifier Notifier) *Service {
	return &Service{
		repo:      repo,
		journal:   journalSvc,
		notifier:  notifier,
		clientFor: gateway.ForProvider,
		now:       time.Now,
	}
}

// NewServiceFromDB creates a payout service backed by GORM.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), journal.NewServiceFromDB(db), notifications.NewEmitterFromDB(db))
}

// WithClientFactory overrides gateway client resolution, used in tests.
func (s *Service) WithClientFactory(f func(gateway.Provider) (gateway.Client, error)) *Service {
	s.clientFor = f
	return s
}

// ProcessPayout runs one payout end to end for the given identity key. It is
// idempotent: an identity key that already completed returns the stored
// payout, one still processing returns ErrPayoutInFlight, and a failed one
// is resumed.
func (s *Service) ProcessPayout(ctx context.Context, walletID uint, amountMinor int64, identityKey string) (*models.Payout, error) {
	if walletID == 0 || amountMinor <= 0 || strings.TrimSpace(identityKey) == "" {
		return nil, ErrInvalidPayout
	}

	wallet, err := s.repo.FindWalletByID(walletID)
	if err != nil {
		return nil, err
	}
	if wallet.PayoutProvider == "" || wallet.PayoutRecipientRef == "" {
		return nil, ErrWalletNotPayable
	}
	provider, err := gateway.ParseProvider(wallet.PayoutProvider)
	if err != nil {
		return nil, err
	}

	payout := &models.Payout{
		WalletID:    wallet.ID,
		IdentityKey: identityKey,
		AmountMinor: amountMinor,
		Currency:    wallet.Currency,
		Provider:    wallet.PayoutProvider,
		Status:      models.PayoutStatusPending,
	}
	created, err := s.repo.CreatePayoutIfNotExists(payout)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.repo.FindByIdentityKey(identityKey)
		if err != nil {
			return nil, err
		}
		switch existing.Status {
		case models.PayoutStatusCompleted:
			return existing, nil
		case models.PayoutStatusProcessing:
			return existing, ErrPayoutInFlight
		}
		payout = existing
	}

	return s.runTransfer(ctx, provider, wallet, payout)
}

// runTransfer claims the payout row and moves the money. payout must exist
// in pending or failed state.
func (s *Service) runTransfer(ctx context.Context, provider gateway.Provider, wallet *models.Wallet, payout *models.Payout) (*models.Payout, error) {
	claimed, err := s.repo.MarkProcessing(payout.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		existing, err := s.repo.FindByIdentityKey(payout.IdentityKey)
		if err != nil {
			return nil, err
		}
		if existing.Status == models.PayoutStatusCompleted {
			return existing, nil
		}
		return existing, ErrPayoutInFlight
	}
	payout.Status = models.PayoutStatusProcessing

	debited, err := s.repo.DebitWalletIfSufficient(wallet.ID, payout.AmountMinor)
	if err != nil {
		return nil, err
	}
	if !debited {
		if err := s.repo.MarkFailed(payout.ID, "insufficient balance"); err != nil {
			return nil, err
		}
		payout.Status = models.PayoutStatusFailed
		return payout, ErrInsufficientBalance
	}

	client, err := s.clientFor(provider)
	if err != nil {
		return nil, s.reverseDebit(ctx, wallet, payout, err)
	}
	result, err := client.CreateTransfer(ctx, gateway.TransferRequest{
		IdentityKey:  payout.IdentityKey,
		RecipientRef: wallet.PayoutRecipientRef,
		AmountMinor:  payout.AmountMinor,
		Currency:     payout.Currency,
		Narration:    fmt.Sprintf("FotoMarkt payout %s", payout.IdentityKey),
	})
	if err != nil {
		return nil, s.reverseDebit(ctx, wallet, payout, err)
	}

	if !isTransferSettled(result.Status) {
		// Async provider: the transfer webhook settles or reverses it later.
		// The transfer ref must be on the row before we return, the webhook
		// completes with whatever ref the row carries.
		if err := s.repo.SetTransferRef(payout.ID, result.TransferRef); err != nil {
			return nil, err
		}
		log.Infof("[Payouts] transfer %s pending at %s (%s)", payout.IdentityKey, provider, result.Status)
		payout.TransferRef = result.TransferRef
		return payout, nil
	}

	return s.completePayout(ctx, wallet, payout, result.TransferRef)
}

// reverseDebit undoes the wallet debit after a transfer failure and marks
// the payout failed for a later retry.
func (s *Service) reverseDebit(ctx context.Context, wallet *models.Wallet, payout *models.Payout, cause error) error {
	if err := s.repo.CreditWallet(wallet.ID, payout.AmountMinor); err != nil {
		// Money is now in limbo; the reconciliation sweep will flag the
		// failed payout without a matching journal entry.
		log.Errorf("[Payouts] could not reverse debit for %s: %v", payout.IdentityKey, err)
	}
	if err := s.repo.MarkFailed(payout.ID, cause.Error()); err != nil {
		log.Errorf("[Payouts] could not mark %s failed: %v", payout.IdentityKey, err)
	}
	if _, err := s.notifier.Emit(ctx, wallet.UserID, notifications.TemplatePayoutFailed,
		"payoutfail:"+payout.IdentityKey,
		map[string]string{"identity_key": payout.IdentityKey, "cause": cause.Error()}); err != nil {
		log.Warnf("[Payouts] failure notification for %s: %v", payout.IdentityKey, err)
	}
	return fmt.Errorf("transfer failed for %s: %w", payout.IdentityKey, cause)
}

func (s *Service) completePayout(ctx context.Context, wallet *models.Wallet, payout *models.Payout, transferRef string) (*models.Payout, error) {
	if _, _, err := s.journal.Record(ctx, journal.PayoutEntry(payout, wallet.UserID)); err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.repo.MarkCompleted(payout.ID, transferRef, now); err != nil {
		return nil, err
	}
	payout.Status = models.PayoutStatusCompleted
	payout.TransferRef = transferRef
	payout.CompletedAt = &now
	log.Infof("[Payouts] completed %s: %d %s to wallet %d", payout.IdentityKey, payout.AmountMinor, payout.Currency, wallet.ID)
	return payout, nil
}

// HandleTransferResult settles a payout from a gateway transfer webhook.
// Success completes a processing payout; failure reverses the debit.
func (s *Service) HandleTransferResult(ctx context.Context, identityKey string, succeeded bool) error {
	payout, err := s.repo.FindByIdentityKey(identityKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("transfer webhook for unknown payout %q", identityKey)
		}
		return err
	}

	if payout.Status != models.PayoutStatusProcessing {
		// Already settled synchronously or by an earlier webhook.
		return nil
	}

	wallet, err := s.repo.FindWalletByID(payout.WalletID)
	if err != nil {
		return err
	}
	if succeeded {
		_, err := s.completePayout(ctx, wallet, payout, payout.TransferRef)
		return err
	}
	err = s.reverseDebit(ctx, wallet, payout, errors.New("gateway reported transfer failed"))
	log.Warnf("[Payouts] transfer %s reversed by webhook: %v", identityKey, err)
	return nil
}

// ListStaleProcessing surfaces payouts that have sat in processing longer
// than staleAfter, meaning the settling webhook never arrived. They are
// reported, not auto-settled: only the gateway knows whether the transfer
// went through.
func (s *Service) ListStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]models.Payout, error) {
	_ = ctx
	return s.repo.ListStaleProcessing(s.now().Add(-staleAfter), limit)
}

// ProcessPendingPayouts pays out every eligible wallet for the mode. The
// identity key is deterministic per wallet and period, so re-running a batch
// after a crash resumes instead of paying twice.
func (s *Service) ProcessPendingPayouts(ctx context.Context, mode string, limit int) (*BatchResult, error) {
	switch mode {
	case ModeThreshold, ModeDaily, ModeWeekly, ModeMonthly:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidPayout, mode)
	}

	wallets, err := s.repo.ListEligibleWallets(mode, limit)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i := range wallets {
		wallet := wallets[i]
		result.Processed++
		identityKey := batchIdentityKey(mode, wallet.ID, s.now())
		payout, err := s.ProcessPayout(ctx, wallet.ID, wallet.BalanceMinor, identityKey)
		if err != nil {
			result.Failed++
			log.Errorf("[Payouts] batch %s payout for wallet %d failed: %v", mode, wallet.ID, err)
			continue
		}
		if payout.Status == models.PayoutStatusCompleted || payout.Status == models.PayoutStatusProcessing {
			result.Succeeded++
		}
	}
	log.Infof("[Payouts] batch %s: %d processed, %d succeeded, %d failed", mode, result.Processed, result.Succeeded, result.Failed)
	return result, nil
}

// RetryFailedPayouts re-runs failed payouts under their original identity
// keys.
func (s *Service) RetryFailedPayouts(ctx context.Context, limit int) (*BatchResult, error) {
	failed, err := s.repo.ListFailedPayouts(limit)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i := range failed {
		payout := failed[i]
		result.Processed++
		refreshed, err := s.ProcessPayout(ctx, payout.WalletID, payout.AmountMinor, payout.IdentityKey)
		if err != nil {
			result.Failed++
			continue
		}
		if refreshed.Status == models.PayoutStatusCompleted || refreshed.Status == models.PayoutStatusProcessing {
			result.Succeeded++
		}
	}
	return result, nil
}

// batchIdentityKey pins one automatic payout per wallet and period: daily
// and threshold batches per day, weekly per ISO week, monthly per month.
func batchIdentityKey(mode string, walletID uint, now time.Time) string {
	var period string
	switch mode {
	case ModeWeekly:
		year, week := now.UTC().ISOWeek()
		period = fmt.Sprintf("%d-W%02d", year, week)
	case ModeMonthly:
		period = now.UTC().Format("2006-01")
	default:
		period = now.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("auto:%s:%d:%s", mode, walletID, period)
}

func isTransferSettled(status string) bool {
	switch strings.ToLower(status) {
	case "success", "succeeded", "successful", "paid", "completed", "0":
		return true
	default:
		return false
	}
}
