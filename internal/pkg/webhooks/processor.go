package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/gateway"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/journal"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/subscriptions"
)

var ErrUnknownTransaction = errors.New("webhook references an unknown transaction")

// TransactionStore provides the transaction, wallet and entitlement writes
// the processor performs after a verified charge event.
type TransactionStore interface {
	FindTransactionByReference(reference string) (*models.PaymentTransaction, error)
	MarkTransactionSucceeded(reference string, at time.Time) (bool, error)
	MarkTransactionRefunded(reference string) (bool, error)
	GrantEntitlement(ent *models.PurchaseEntitlement) (bool, error)
	FindWalletByUserID(userID uint) (*models.Wallet, error)
	CreditWallet(walletID uint, amountMinor int64) error
	DebitWalletIfSufficient(walletID uint, amountMinor int64) (bool, error)
}

// SubscriptionSyncer is the slice of the subscription service the processor
// needs.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, in subscriptions.NormalizedSubscription) (*models.Subscription, error)
}

// PayoutResultHandler settles a payout from a gateway transfer webhook.
type PayoutResultHandler interface {
	HandleTransferResult(ctx context.Context, identityKey string, succeeded bool) error
}

// Result reports what a delivery turned into.
type Result struct {
	Duplicate        bool
	Ignored          bool
	InvalidSignature bool
}

// Processor turns verified provider deliveries into ledger effects. Every
// delivery is claimed in the webhook ledger first; only the claim winner
// runs side effects, so provider retries and double sends are harmless.
type Processor struct {
	ledger    Ledger
	store     TransactionStore
	journal   *journal.Service
	subs      SubscriptionSyncer
	payouts   PayoutResultHandler
	clientFor func(gateway.Provider) (gateway.Client, error)
	feeMinor  func(*models.PaymentTransaction) int64

	// inTx runs the money moves of one settlement atomically. The GORM
	// wiring opens a real DB transaction; the injected default just runs the
	// function against the processor's own collaborators.
	inTx func(ctx context.Context, fn func(TransactionStore, *journal.Service) error) error
}

// NewProcessor creates a processor from injected collaborators.
func NewProcessor(ledger Ledger, store TransactionStore, journalSvc *journal.Service, subs SubscriptionSyncer, payouts PayoutResultHandler) *Processor {
	p := &Processor{
		ledger:    ledger,
		store:     store,
		journal:   journalSvc,
		subs:      subs,
		payouts:   payouts,
		clientFor: gateway.ForProvider,
		feeMinor:  journal.PlatformFeeMinor,
	}
	p.inTx = func(ctx context.Context, fn func(TransactionStore, *journal.Service) error) error {
		return fn(p.store, p.journal)
	}
	return p
}

// NewProcessorFromDB wires a processor against GORM-backed collaborators.
// Settlement writes run in one DB transaction, so the status flip, the
// journal entry and the wallet move commit or roll back together.
func NewProcessorFromDB(db *gorm.DB, payouts PayoutResultHandler) *Processor {
	p := NewProcessor(
		NewLedger(db),
		NewTransactionStore(db),
		journal.NewServiceFromDB(db),
		subscriptions.NewServiceFromDB(db),
		payouts,
	)
	p.inTx = func(ctx context.Context, fn func(TransactionStore, *journal.Service) error) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(NewTransactionStore(tx), journal.NewServiceFromDB(tx))
		})
	}
	return p
}

// WithClientFactory overrides gateway client resolution, used in tests.
func (p *Processor) WithClientFactory(f func(gateway.Provider) (gateway.Client, error)) *Processor {
	p.clientFor = f
	return p
}

// Process handles one raw delivery end to end: verify the signature, claim
// the event, dispatch by normalized type, settle the ledger row.
func (p *Processor) Process(ctx context.Context, provider gateway.Provider, payload []byte, signatureHeader string) (*Result, error) {
	client, err := p.clientFor(provider)
	if err != nil {
		return nil, err
	}
	signatureValid := client.VerifyWebhookSignature(payload, signatureHeader)

	event, err := Normalize(provider, payload)
	if err != nil {
		return nil, err
	}

	row := &models.WebhookEvent{
		Provider:        string(provider),
		ExternalEventID: event.ExternalEventID,
		EventType:       event.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
		Status:          models.WebhookStatusClaimed,
	}
	claimed, err := p.ledger.ClaimEvent(row)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Debugf("[Webhooks] duplicate %s event %s", provider, event.ExternalEventID)
		return &Result{Duplicate: true}, nil
	}

	if !signatureValid {
		if err := p.ledger.MarkFailed(row.ID, "signature verification failed"); err != nil {
			return nil, err
		}
		log.Warnf("[Webhooks] rejected %s event %s: bad signature", provider, event.ExternalEventID)
		return &Result{InvalidSignature: true}, nil
	}

	if err := p.dispatch(ctx, client, event); err != nil {
		if markErr := p.ledger.MarkFailed(row.ID, err.Error()); markErr != nil {
			log.Errorf("[Webhooks] could not mark event %d failed: %v", row.ID, markErr)
		}
		return nil, err
	}

	if err := p.ledger.MarkProcessed(row.ID); err != nil {
		return nil, err
	}
	return &Result{Ignored: event.Type == EventIgnored}, nil
}

func (p *Processor) dispatch(ctx context.Context, client gateway.Client, event *Event) error {
	switch event.Type {
	case EventChargeSucceeded:
		return p.handleChargeSucceeded(ctx, client, event)
	case EventChargeRefunded:
		return p.handleChargeRefunded(ctx, event)
	case EventSubscriptionUpdated, EventSubscriptionCanceled:
		if event.Subscription == nil {
			return ErrMalformedPayload
		}
		_, err := p.subs.Sync(ctx, *event.Subscription)
		return err
	case EventTransferSucceeded:
		return p.payouts.HandleTransferResult(ctx, event.TransferIdentityKey, true)
	case EventTransferFailed:
		return p.payouts.HandleTransferResult(ctx, event.TransferIdentityKey, false)
	default:
		return nil
	}
}

// handleChargeSucceeded settles a charge exactly once. The journal entry's
// idempotency key decides the winner: the status flip, the entry and the
// wallet credit commit in one transaction, and the credit happens exactly
// when the entry is first written. A redelivery after a partial failure
// re-runs the whole block and converges.
func (p *Processor) handleChargeSucceeded(ctx context.Context, client gateway.Client, event *Event) error {
	tx, err := p.store.FindTransactionByReference(event.TransactionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownTransaction, event.TransactionRef)
		}
		return err
	}

	// Never trust the payload alone: re-read the charge from the gateway.
	verified, err := client.VerifyTransaction(ctx, tx.Reference)
	if err != nil {
		return fmt.Errorf("transaction verification failed: %w", err)
	}
	if !gateway.IsChargeSucceeded(event.Provider, verified.Status) {
		return fmt.Errorf("gateway reports charge %s as %q, not settled", tx.Reference, verified.Status)
	}
	if verified.AmountMinor != 0 && verified.AmountMinor != tx.AmountMinor {
		return fmt.Errorf("amount mismatch for %s: gateway %d, local %d", tx.Reference, verified.AmountMinor, tx.AmountMinor)
	}

	fee := p.feeMinor(tx)
	err = p.inTx(ctx, func(store TransactionStore, journalSvc *journal.Service) error {
		if _, err := store.MarkTransactionSucceeded(tx.Reference, time.Now()); err != nil {
			return err
		}
		_, created, err := journalSvc.Record(ctx, journal.SettlementEntry(tx, fee))
		if err != nil {
			return err
		}
		if created && (tx.Kind == models.FlowPhotoPurchase || tx.Kind == models.FlowTip) {
			wallet, err := store.FindWalletByUserID(tx.CreatorID)
			if err != nil {
				return fmt.Errorf("no wallet for creator %d: %w", tx.CreatorID, err)
			}
			if err := store.CreditWallet(wallet.ID, tx.AmountMinor-fee); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if tx.Kind == models.FlowPhotoPurchase || tx.Kind == models.FlowDropInCreditPurchase {
		if _, err := p.store.GrantEntitlement(&models.PurchaseEntitlement{
			UserID:               tx.UserID,
			ItemRef:              tx.ItemRef,
			TransactionReference: tx.Reference,
		}); err != nil {
			return err
		}
	}

	log.Infof("[Webhooks] settled %s charge %s (%d %s)", event.Provider, tx.Reference, tx.AmountMinor, tx.Currency)
	return nil
}

// handleChargeRefunded records the correcting entry and claws the creator
// share back from the wallet when it still covers it.
func (p *Processor) handleChargeRefunded(ctx context.Context, event *Event) error {
	tx, err := p.store.FindTransactionByReference(event.TransactionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownTransaction, event.TransactionRef)
		}
		return err
	}

	fee := p.feeMinor(tx)
	return p.inTx(ctx, func(store TransactionStore, journalSvc *journal.Service) error {
		flipped, err := store.MarkTransactionRefunded(tx.Reference)
		if err != nil {
			return err
		}
		if !flipped && tx.Status != models.TransactionStatusRefunded {
			// Not a settled charge; there is nothing to reverse.
			return nil
		}

		// The correcting entry is the dedupe point: the clawback runs
		// exactly when the entry is first written, in the same transaction.
		_, created, err := journalSvc.Record(ctx, journal.RefundEntry(tx, fee))
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		if tx.Kind == models.FlowPhotoPurchase || tx.Kind == models.FlowTip {
			wallet, err := store.FindWalletByUserID(tx.CreatorID)
			if err != nil {
				return err
			}
			debited, err := store.DebitWalletIfSufficient(wallet.ID, tx.AmountMinor-fee)
			if err != nil {
				return err
			}
			if !debited {
				log.Warnf("[Webhooks] refund of %s: wallet %d balance below creator share, debit skipped", tx.Reference, wallet.ID)
			}
		}
		return nil
	})
}
