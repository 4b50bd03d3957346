package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/models"
	"github.com/shiftsight/core/internal/pkg/jobqueue"
	"go.uber.org/zap"
)

// ErrInvalidCSV marks submissions whose file cannot be parsed as CSV.
var ErrInvalidCSV = errors.New("invalid csv file")

// Service owns the job lifecycle around the worker: submission, queries and
// cancellation, all scoped to the job owner.
type Service struct {
	store    *Store
	queue    *jobqueue.Queue
	pipeline appcfg.PipelineConfig
	log      *zap.Logger
}

func NewService(store *Store, queue *jobqueue.Queue, pipeline appcfg.PipelineConfig, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		queue:    queue,
		pipeline: pipeline,
		log:      log,
	}
}

// SubmitJob counts the uploaded file, creates a pending job and enqueues it.
// The row count is taken before the job exists so the client gets an honest
// total and an upfront estimate in the submit response.
func (s *Service) SubmitJob(ctx context.Context, ownerID, fileName, filePath string) (*models.AnalysisJobModel, error) {
	totalRows, err := CountRows(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}

	job := &models.AnalysisJobModel{
		OwnerID:          ownerID,
		FileName:         fileName,
		Status:           models.JobPending,
		TotalRows:        totalRows,
		EstimatedSeconds: s.estimateSeconds(totalRows),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create analysis job: %w", err)
	}

	payload := JobPayload{
		JobID:    job.ID,
		FilePath: filePath,
		OwnerID:  ownerID,
		FileName: fileName,
	}
	if _, err := s.queue.Publish(ctx, payload); err != nil {
		if failErr := s.store.Fail(ctx, job.ID, "could not enqueue analysis job"); failErr != nil {
			s.log.Error("could not mark unenqueued job failed",
				zap.String("job", job.ID),
				zap.Error(failErr))
		}
		return nil, fmt.Errorf("enqueue analysis job: %w", err)
	}

	s.log.Info("analysis job submitted",
		zap.String("job", job.ID),
		zap.String("file", fileName),
		zap.Int("total_rows", totalRows))
	return job, nil
}

// estimateSeconds seeds the ETA before the worker has timing data. It has to
// assume every batch is uncached; the worker replaces it with a measured
// figure after the first provider batch.
func (s *Service) estimateSeconds(totalRows int) int {
	return (totalRows*s.pipeline.SecondsPerBatch + s.pipeline.BatchSize - 1) / s.pipeline.BatchSize
}

func (s *Service) GetJob(ctx context.Context, jobID, ownerID string) (*models.AnalysisJobModel, error) {
	return s.store.GetOwned(ctx, jobID, ownerID)
}

func (s *Service) ListJobs(ctx context.Context, ownerID string, limit int) ([]models.AnalysisJobModel, error) {
	return s.store.ListOwned(ctx, ownerID, limit)
}

// CancelJob requests cancellation. Pending jobs never start; processing jobs
// stop at the next window or batch boundary. Terminal jobs are left alone and
// returned as-is.
func (s *Service) CancelJob(ctx context.Context, jobID, ownerID string) (*models.AnalysisJobModel, error) {
	return s.store.Cancel(ctx, jobID, ownerID)
}

// QueueHandler adapts the worker to the queue's message contract.
func QueueHandler(worker *Worker) jobqueue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var job JobPayload
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}
		return worker.Process(ctx, job)
	}
}
