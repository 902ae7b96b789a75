package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"github.com/MaxRichter/FotoMarkt/internal/pkg/cache"
)

// Template codes emitted by the ledger subsystem.
const (
	TemplateSubscriptionReminder = "subscription_renewal_reminder"
	TemplateSubscriptionExpired  = "subscription_expired"
	TemplatePayoutFailed         = "payout_failed"
)

const dedupeCacheTTL = 14 * 24 * time.Hour

// Repository provides DB operations used by the emitter.
type Repository interface {
	CreateIfNotExists(n *models.Notification) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a notification repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateIfNotExists(n *models.Notification) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(n)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Emitter delivers user notifications exactly once per dedupe key. The DB
// unique constraint is the authority; Redis only short-circuits repeats
// cheaply between sweeps.
type Emitter struct {
	repo     Repository
	useCache bool
}

// NewEmitter creates an emitter from an injected repository.
func NewEmitter(repo Repository) *Emitter {
	return &Emitter{repo: repo}
}

// NewEmitterFromDB creates an emitter from a GORM DB handle with the Redis
// fast path enabled.
func NewEmitterFromDB(db *gorm.DB) *Emitter {
	return &Emitter{repo: NewRepository(db), useCache: true}
}

// Emit records a notification for the user. Returns true when this call was
// the one that sent it; repeats of the same dedupe key return false.
func (e *Emitter) Emit(ctx context.Context, userID uint, templateCode, dedupeKey string, metadata map[string]string) (bool, error) {
	_ = ctx
	if userID == 0 || strings.TrimSpace(templateCode) == "" || strings.TrimSpace(dedupeKey) == "" {
		return false, errors.New("user_id, template_code and dedupe_key are required")
	}

	if e.useCache {
		// Best effort: a cache miss or error falls through to the DB check.
		if set, err := cache.SetNX("notif:"+dedupeKey, 1, dedupeCacheTTL); err == nil && !set {
			return false, nil
		}
	}

	metadataJSON := ""
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(raw)
		}
	}

	created, err := e.repo.CreateIfNotExists(&models.Notification{
		UserID:       userID,
		TemplateCode: templateCode,
		DedupeKey:    dedupeKey,
		MetadataJSON: metadataJSON,
	})
	if err != nil {
		return false, err
	}
	if created {
		log.Infof("[Notify] sent %s to user %d (dedupe %s)", templateCode, userID, dedupeKey)
	}
	return created, nil
}
