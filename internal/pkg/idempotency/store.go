package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
)

// Operation scopes currently using the store.
const (
	ScopeManualPayout = "manual_payout"
)

// Store guarantees at-most-once execution of client-retryable mutating
// operations keyed by (scope, actor, client key). The unique constraint on
// the key row is the concurrency control: concurrent claimants race on the
// insert and exactly one wins.
type Store struct {
	repo Repository
}

// NewStore creates an idempotency store from an injected repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// NewStoreFromDB creates an idempotency store from a GORM DB handle.
func NewStoreFromDB(db *gorm.DB) *Store {
	return NewStore(NewRepository(db))
}

// HashRequest produces the canonical request hash stored with a claim.
func HashRequest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ClaimResult describes the outcome of a claim attempt. Exactly one of
// FirstAttempt, Replayed, InFlight and HashMismatch is set.
type ClaimResult struct {
	FirstAttempt bool
	Replayed     bool
	InFlight     bool
	HashMismatch bool
	Record       *models.IdempotencyKey
}

// Claim registers an operation attempt. On the first attempt a processing row
// is inserted and the caller proceeds to execute side effects. Duplicates are
// redirected: completed rows with a matching hash replay the stored response,
// failed rows are reclaimed so the retry runs as a fresh attempt, processing
// rows report an in-flight conflict, and a differing hash is a client error
// (key reuse).
func (s *Store) Claim(ctx context.Context, scope string, actorID uint, key, requestHash string) (*ClaimResult, error) {
	_ = ctx
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	if scope == "" || actorID == 0 || key == "" {
		return nil, errors.New("scope, actor_id and key are required")
	}

	rec := &models.IdempotencyKey{
		OperationScope: scope,
		ActorID:        actorID,
		IdemKey:        key,
		RequestHash:    requestHash,
		Status:         models.IdempotencyStatusProcessing,
	}
	created, stored, err := s.repo.CreateIfNotExists(rec)
	if err != nil {
		return nil, err
	}
	if created {
		return &ClaimResult{FirstAttempt: true, Record: stored}, nil
	}

	if err := s.repo.TouchLastSeen(stored.ID); err != nil {
		return nil, err
	}
	if stored.RequestHash != requestHash {
		return &ClaimResult{HashMismatch: true, Record: stored}, nil
	}
	if stored.Status == models.IdempotencyStatusCompleted {
		return &ClaimResult{Replayed: true, Record: stored}, nil
	}
	if stored.Status == models.IdempotencyStatusFailed {
		reclaimed, err := s.repo.ReclaimFailed(stored.ID)
		if err != nil {
			return nil, err
		}
		if reclaimed {
			stored.Status = models.IdempotencyStatusProcessing
			return &ClaimResult{FirstAttempt: true, Record: stored}, nil
		}
		// Lost the reclaim race; another retry of the same key is running.
	}
	return &ClaimResult{InFlight: true, Record: stored}, nil
}

// Finalize moves a claimed operation to its terminal state exactly once.
// Finalizing an already terminal key is a no-op.
func (s *Store) Finalize(ctx context.Context, scope string, actorID uint, key, status string, responseCode int, responsePayload, errorPayload string) error {
	_ = ctx
	if status != models.IdempotencyStatusCompleted && status != models.IdempotencyStatusFailed {
		return errors.New("finalize status must be terminal")
	}
	_, err := s.repo.FinalizeOnce(scope, actorID, key, status, responseCode, responsePayload, errorPayload)
	return err
}

// ListStaleProcessing surfaces processing rows older than the staleness
// threshold. They are never auto-retried; reconciliation records them as
// issues for operator remediation.
func (s *Store) ListStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]models.IdempotencyKey, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListStaleProcessing(time.Now().Add(-staleAfter), limit)
}
