package journal

import (
	"fmt"

	"github.com/MaxRichter/FotoMarkt/app/models"
)

// Posting is one debit or credit line of an entry about to be recorded.
type Posting struct {
	AccountCode      string
	Direction        string
	AmountMinor      int64
	Currency         string
	CounterpartyType string
	CounterpartyID   string
}

// Entry is the normalized input for a journal write. IdempotencyKey makes a
// retried write of the same financial event a no-op.
type Entry struct {
	IdempotencyKey string
	SourceKind     string
	SourceID       string
	FlowType       string
	Currency       string
	Provider       string
	Description    string
	MetadataJSON   string
	Postings       []Posting
}

// EntryKeyForTransaction builds the deterministic idempotency key for a
// transaction settlement, shared by the webhook path and the gap sweep so
// both paths dedupe against each other.
func EntryKeyForTransaction(reference string) string {
	return "journal:transaction:" + reference
}

// EntryKeyForPayout builds the deterministic idempotency key for a payout
// posting.
func EntryKeyForPayout(identityKey string) string {
	return "journal:payout:" + identityKey
}

// SettlementEntry builds the balanced entry for a succeeded charge. The
// gross amount is debited to the gateway receivable; the credit side splits
// into the creator's payable share and the platform fee. Flows without a
// creator (subscription charges, drop-in credit purchases) credit revenue or
// customer credit in full.
func SettlementEntry(tx *models.PaymentTransaction, feeMinor int64) Entry {
	e := Entry{
		IdempotencyKey: EntryKeyForTransaction(tx.Reference),
		SourceKind:     models.SourceKindTransaction,
		SourceID:       tx.Reference,
		FlowType:       tx.Kind,
		Currency:       tx.Currency,
		Provider:       tx.Provider,
		Description:    fmt.Sprintf("settlement for %s %s", tx.Kind, tx.Reference),
		Postings: []Posting{
			{
				AccountCode: models.AccountGatewayReceivable,
				Direction:   models.PostingDebit,
				AmountMinor: tx.AmountMinor,
				Currency:    tx.Currency,
			},
		},
	}

	switch tx.Kind {
	case models.FlowPhotoPurchase, models.FlowTip:
		creatorShare := tx.AmountMinor - feeMinor
		e.Postings = append(e.Postings, Posting{
			AccountCode:      models.AccountCreatorPayable,
			Direction:        models.PostingCredit,
			AmountMinor:      creatorShare,
			Currency:         tx.Currency,
			CounterpartyType: "creator",
			CounterpartyID:   fmt.Sprintf("%d", tx.CreatorID),
		})
		if feeMinor > 0 {
			e.Postings = append(e.Postings, Posting{
				AccountCode: models.AccountPlatformRevenue,
				Direction:   models.PostingCredit,
				AmountMinor: feeMinor,
				Currency:    tx.Currency,
			})
		}
	case models.FlowDropInCreditPurchase:
		e.Postings = append(e.Postings, Posting{
			AccountCode:      models.AccountCustomerCredit,
			Direction:        models.PostingCredit,
			AmountMinor:      tx.AmountMinor,
			Currency:         tx.Currency,
			CounterpartyType: "user",
			CounterpartyID:   fmt.Sprintf("%d", tx.UserID),
		})
	default:
		// subscription_charge and anything without a payable counterparty.
		e.Postings = append(e.Postings, Posting{
			AccountCode: models.AccountPlatformRevenue,
			Direction:   models.PostingCredit,
			AmountMinor: tx.AmountMinor,
			Currency:    tx.Currency,
		})
	}
	return e
}

// RefundEntry builds the correcting entry for a refunded charge. Corrections
// are new entries; the original settlement stays immutable.
func RefundEntry(tx *models.PaymentTransaction, feeMinor int64) Entry {
	settlement := SettlementEntry(tx, feeMinor)
	e := Entry{
		IdempotencyKey: "journal:refund:" + tx.Reference,
		SourceKind:     models.SourceKindTransaction,
		SourceID:       tx.Reference,
		FlowType:       models.FlowRefund,
		Currency:       tx.Currency,
		Provider:       tx.Provider,
		Description:    fmt.Sprintf("refund for %s %s", tx.Kind, tx.Reference),
	}
	for _, p := range settlement.Postings {
		reversed := p
		if p.Direction == models.PostingDebit {
			reversed.Direction = models.PostingCredit
		} else {
			reversed.Direction = models.PostingDebit
		}
		e.Postings = append(e.Postings, reversed)
	}
	return e
}

// PayoutEntry builds the balanced entry for a completed creator payout.
func PayoutEntry(p *models.Payout, creatorID uint) Entry {
	return Entry{
		IdempotencyKey: EntryKeyForPayout(p.IdentityKey),
		SourceKind:     models.SourceKindPayout,
		SourceID:       p.IdentityKey,
		FlowType:       models.FlowPayout,
		Currency:       p.Currency,
		Provider:       p.Provider,
		Description:    fmt.Sprintf("payout %s to wallet %d", p.IdentityKey, p.WalletID),
		Postings: []Posting{
			{
				AccountCode:      models.AccountCreatorPayable,
				Direction:        models.PostingDebit,
				AmountMinor:      p.AmountMinor,
				Currency:         p.Currency,
				CounterpartyType: "creator",
				CounterpartyID:   fmt.Sprintf("%d", creatorID),
			},
			{
				AccountCode: models.AccountPlatformCash,
				Direction:   models.PostingCredit,
				AmountMinor: p.AmountMinor,
				Currency:    p.Currency,
			},
		},
	}
}
