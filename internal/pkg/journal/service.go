package journal

import (
	"context"
	"errors"
	"strings"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
)

var (
	ErrUnbalancedEntry = errors.New("journal entry postings do not balance")
	ErrInvalidEntry    = errors.New("journal entry is invalid")
)

// Service is the single writer of financial truth. Entries are validated
// before any row is touched and deduplicated on their idempotency key; the
// service itself has no side effects beyond the append.
type Service struct {
	repo Repository
}

// NewService creates a journal service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a journal service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Validate checks an entry before it may be written: at least two postings,
// positive amounts, and per-currency debit/credit balance.
func Validate(e Entry) error {
	if strings.TrimSpace(e.IdempotencyKey) == "" || strings.TrimSpace(e.SourceKind) == "" || strings.TrimSpace(e.SourceID) == "" {
		return ErrInvalidEntry
	}
	if len(e.Postings) < 2 {
		return ErrInvalidEntry
	}

	balance := make(map[string]int64)
	for _, p := range e.Postings {
		if p.AmountMinor <= 0 {
			return ErrInvalidEntry
		}
		currency := p.Currency
		if currency == "" {
			currency = e.Currency
		}
		switch p.Direction {
		case models.PostingDebit:
			balance[currency] += p.AmountMinor
		case models.PostingCredit:
			balance[currency] -= p.AmountMinor
		default:
			return ErrInvalidEntry
		}
	}
	for _, delta := range balance {
		if delta != 0 {
			return ErrUnbalancedEntry
		}
	}
	return nil
}

// Record appends a journal entry. The second return is false when the entry
// already existed; the stored entry is returned in both cases, so a retried
// write of the same financial event is a guaranteed no-op.
func (s *Service) Record(ctx context.Context, e Entry) (*models.JournalEntry, bool, error) {
	_ = ctx
	if err := Validate(e); err != nil {
		return nil, false, err
	}

	row := &models.JournalEntry{
		IdempotencyKey: e.IdempotencyKey,
		SourceKind:     e.SourceKind,
		SourceID:       e.SourceID,
		FlowType:       e.FlowType,
		Currency:       e.Currency,
		Provider:       e.Provider,
		Description:    e.Description,
		MetadataJSON:   e.MetadataJSON,
	}
	for _, p := range e.Postings {
		currency := p.Currency
		if currency == "" {
			currency = e.Currency
		}
		row.Postings = append(row.Postings, models.JournalPosting{
			AccountCode:      p.AccountCode,
			Direction:        p.Direction,
			AmountMinor:      p.AmountMinor,
			Currency:         currency,
			CounterpartyType: p.CounterpartyType,
			CounterpartyID:   p.CounterpartyID,
		})
	}

	created, stored, err := s.repo.CreateEntryIfNotExists(row)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// FindBySource looks up the journal entry recorded for a source row.
func (s *Service) FindBySource(ctx context.Context, sourceKind, sourceID string) (*models.JournalEntry, error) {
	_ = ctx
	return s.repo.FindBySource(sourceKind, sourceID)
}
