package recon

import (
	"context"
	"time"

	"github.com/MaxRichter/FotoMarkt/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the tracker.
type Repository interface {
	CreateRunIfNotExists(run *models.ReconciliationRun) (bool, error)
	CompleteRun(id uint, metadataJSON string, at time.Time) error
	UpsertIssue(issue *models.ReconciliationIssue) error
	ResolveIssue(issueKey string) (bool, error)
	ListOpenIssues(limit int) ([]models.ReconciliationIssue, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateRunIfNotExists(run *models.ReconciliationRun) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_key"}},
		DoNothing: true,
	}).Create(run)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CompleteRun(id uint, metadataJSON string, at time.Time) error {
	return r.db.Model(&models.ReconciliationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.ReconRunStatusCompleted,
			"metadata_json": metadataJSON,
			"completed_at":  at,
		}).Error
}

func (r *gormRepository) UpsertIssue(issue *models.ReconciliationIssue) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "issue_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_id",
			"severity",
			"status",
			"auto_healed",
			"details",
			"updated_at",
		}),
	}).Create(issue).Error
}

func (r *gormRepository) ResolveIssue(issueKey string) (bool, error) {
	tx := r.db.Model(&models.ReconciliationIssue{}).
		Where("issue_key = ? AND status = ?", issueKey, models.ReconIssueStatusOpen).
		Update("status", models.ReconIssueStatusResolved)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListOpenIssues(limit int) ([]models.ReconciliationIssue, error) {
	var issues []models.ReconciliationIssue
	err := r.db.Where("status = ?", models.ReconIssueStatusOpen).
		Order("updated_at desc").
		Limit(limit).
		Find(&issues).Error
	return issues, err
}

// Tracker records reconciliation runs and their findings. Run keys and issue
// keys are unique, so a doubled trigger starts one run and a re-detected
// problem updates its existing issue row.
type Tracker struct {
	repo Repository
}

// NewTracker creates a tracker from an injected repository.
func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// NewTrackerFromDB creates a tracker backed by GORM.
func NewTrackerFromDB(db *gorm.DB) *Tracker {
	return NewTracker(NewRepository(db))
}

// StartRun opens a reconciliation run. The second return is false when the
// run key was already taken, meaning another trigger got there first.
func (t *Tracker) StartRun(ctx context.Context, runKey, triggerSource string) (*models.ReconciliationRun, bool, error) {
	_ = ctx
	run := &models.ReconciliationRun{
		RunKey:        runKey,
		TriggerSource: triggerSource,
		Status:        models.ReconRunStatusProcessing,
	}
	created, err := t.repo.CreateRunIfNotExists(run)
	if err != nil {
		return nil, false, err
	}
	return run, created, nil
}

// CompleteRun closes a run with its result counts.
func (t *Tracker) CompleteRun(ctx context.Context, runID uint, metadataJSON string) error {
	_ = ctx
	return t.repo.CompleteRun(runID, metadataJSON, time.Now())
}

// RecordIssue upserts a finding under its stable issue key.
func (t *Tracker) RecordIssue(ctx context.Context, issue *models.ReconciliationIssue) error {
	_ = ctx
	if issue.Status == "" {
		issue.Status = models.ReconIssueStatusOpen
	}
	if issue.Severity == "" {
		issue.Severity = models.ReconIssueSeverityWarning
	}
	return t.repo.UpsertIssue(issue)
}

// ResolveIssue closes an open issue. Resolving twice is a no-op.
func (t *Tracker) ResolveIssue(ctx context.Context, issueKey string) (bool, error) {
	_ = ctx
	return t.repo.ResolveIssue(issueKey)
}

// OpenIssues lists open findings, most recently touched first.
func (t *Tracker) OpenIssues(ctx context.Context, limit int) ([]models.ReconciliationIssue, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	return t.repo.ListOpenIssues(limit)
}
