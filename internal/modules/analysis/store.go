package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/shiftsight/core/internal/models"
	"gorm.io/gorm"
)

// Store is the persistence layer for analysis jobs and reports.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, job *models.AnalysisJobModel) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// Pickup atomically transitions a job from pending to processing and returns
// it. Returns nil when the job is no longer pending, which makes redelivered
// queue messages a no-op instead of a duplicate run.
func (s *Store) Pickup(ctx context.Context, jobID string) (*models.AnalysisJobModel, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.AnalysisJobModel{}).
		Where("id = ? AND status = ?", jobID, models.JobPending).
		Updates(map[string]interface{}{
			"status":     models.JobProcessing,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var job models.AnalysisJobModel
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Progress persists the running counters. Callers only ever move the numbers
// forward, so a poll sequence never observes progress going backwards. The
// write is conditioned on the job still processing, so a progress update
// racing a cancel cannot touch the terminal record.
func (s *Store) Progress(ctx context.Context, jobID string, processedRows, progress, estimatedSeconds int) error {
	return s.db.WithContext(ctx).
		Model(&models.AnalysisJobModel{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(map[string]interface{}{
			"processed_rows":    processedRows,
			"progress":          progress,
			"estimated_seconds": estimatedSeconds,
		}).Error
}

// Status re-reads the persisted job status. The worker polls this between
// windows and batches so an external cancel takes effect mid-run.
func (s *Store) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	var job models.AnalysisJobModel
	err := s.db.WithContext(ctx).
		Select("status").
		First(&job, "id = ?", jobID).Error
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Complete writes the terminal success state. Like Cancel, the update is
// conditioned on the current status: a cancel that lands after the worker's
// last status check must win, so Complete reports whether it applied and the
// caller discards the results when it did not.
func (s *Store) Complete(ctx context.Context, jobID string, results []models.RowResult) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.AnalysisJobModel{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(map[string]interface{}{
			"status":            models.JobCompleted,
			"results":           results,
			"progress":          100,
			"total_rows":        len(results),
			"processed_rows":    len(results),
			"estimated_seconds": 0,
			"completed_at":      now,
		})
	return result.RowsAffected > 0, result.Error
}

// Fail is conditioned the same way; it never overwrites a job that is
// already cancelled or otherwise terminal.
func (s *Store) Fail(ctx context.Context, jobID, message string) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.AnalysisJobModel{}).
		Where("id = ? AND status = ?", jobID, models.JobProcessing).
		Updates(map[string]interface{}{
			"status":       models.JobFailed,
			"error":        message,
			"completed_at": now,
		}).Error
}

// Cancel marks a non-terminal job cancelled. The update is conditioned on
// the current status so racing a finishing worker cannot flip a terminal
// state. Returns the job as it stands afterwards, or nil when the owner has
// no such job.
func (s *Store) Cancel(ctx context.Context, jobID, ownerID string) (*models.AnalysisJobModel, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.AnalysisJobModel{}).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		Where("status IN ?", []models.JobStatus{models.JobPending, models.JobProcessing}).
		Updates(map[string]interface{}{
			"status":       models.JobCancelled,
			"completed_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	return s.GetOwned(ctx, jobID, ownerID)
}

// GetOwned fetches a job scoped to its owner. A job belonging to someone
// else is indistinguishable from a missing one: both return nil.
func (s *Store) GetOwned(ctx context.Context, jobID, ownerID string) (*models.AnalysisJobModel, error) {
	var job models.AnalysisJobModel
	err := s.db.WithContext(ctx).
		First(&job, "id = ? AND owner_id = ?", jobID, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListOwned(ctx context.Context, ownerID string, limit int) ([]models.AnalysisJobModel, error) {
	var jobs []models.AnalysisJobModel
	err := s.db.WithContext(ctx).
		Omit("results").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *Store) SaveReport(ctx context.Context, report *models.AnalysisReportModel) error {
	return s.db.WithContext(ctx).Create(report).Error
}
