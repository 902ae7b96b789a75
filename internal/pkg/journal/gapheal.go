package journal

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MaxRichter/FotoMarkt/app/models"
)

// HealedGap describes one settlement entry the sweep synthesized.
type HealedGap struct {
	SourceKind string
	SourceID   string
	FlowType   string
	EntryID    uint
}

// GapHealResult summarizes one gap-detection pass.
type GapHealResult struct {
	Checked int
	Healed  []HealedGap
	Errors  int
}

const autoHealedMetadata = `{"auto_healed":true}`

// HealGaps finds succeeded transactions and completed payouts with no
// corresponding journal entry and synthesizes the missing settlement entries.
// Per-row errors are logged and counted, never abort the pass. A second pass
// over the same rows finds no work: the synthesized entries use the same
// deterministic idempotency keys as the regular write path.
func (s *Service) HealGaps(ctx context.Context, feeMinorFor func(*models.PaymentTransaction) int64, limit int, dryRun bool) (*GapHealResult, error) {
	if limit <= 0 {
		limit = 100
	}
	result := &GapHealResult{}

	txs, err := s.repo.ListUnjournaledTransactions(limit)
	if err != nil {
		return nil, err
	}
	result.Checked += len(txs)
	for i := range txs {
		tx := &txs[i]
		if dryRun {
			result.Healed = append(result.Healed, HealedGap{
				SourceKind: models.SourceKindTransaction,
				SourceID:   tx.Reference,
				FlowType:   tx.Kind,
			})
			continue
		}
		entry := SettlementEntry(tx, feeMinorFor(tx))
		entry.MetadataJSON = autoHealedMetadata
		stored, created, err := s.Record(ctx, entry)
		if err != nil {
			log.Errorf("[Journal] gap heal failed for transaction %s: %v", tx.Reference, err)
			result.Errors++
			continue
		}
		if created {
			result.Healed = append(result.Healed, HealedGap{
				SourceKind: models.SourceKindTransaction,
				SourceID:   tx.Reference,
				FlowType:   tx.Kind,
				EntryID:    stored.ID,
			})
		}
	}

	payouts, err := s.repo.ListUnjournaledPayouts(limit)
	if err != nil {
		return nil, err
	}
	result.Checked += len(payouts)
	for i := range payouts {
		p := &payouts[i]
		if dryRun {
			result.Healed = append(result.Healed, HealedGap{
				SourceKind: models.SourceKindPayout,
				SourceID:   p.IdentityKey,
				FlowType:   models.FlowPayout,
			})
			continue
		}
		wallet, err := s.repo.FindWalletByID(p.WalletID)
		if err != nil {
			log.Errorf("[Journal] gap heal failed for payout %s: wallet lookup: %v", p.IdentityKey, err)
			result.Errors++
			continue
		}
		entry := PayoutEntry(p, wallet.UserID)
		entry.MetadataJSON = autoHealedMetadata
		stored, created, err := s.Record(ctx, entry)
		if err != nil {
			log.Errorf("[Journal] gap heal failed for payout %s: %v", p.IdentityKey, err)
			result.Errors++
			continue
		}
		if created {
			result.Healed = append(result.Healed, HealedGap{
				SourceKind: models.SourceKindPayout,
				SourceID:   p.IdentityKey,
				FlowType:   models.FlowPayout,
				EntryID:    stored.ID,
			})
		}
	}

	if len(result.Healed) > 0 {
		log.Infof("[Journal] gap sweep healed %d of %d checked rows", len(result.Healed), result.Checked)
	}
	return result, nil
}

// IssueKeyForGap builds the stable reconciliation issue key for a healed gap.
func IssueKeyForGap(g HealedGap) string {
	return fmt.Sprintf("%s:%s:%s", models.IssueMissingJournalEntry, g.SourceKind, g.SourceID)
}
