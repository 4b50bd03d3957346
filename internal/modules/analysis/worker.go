package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/models"
	"go.uber.org/zap"
)

// errJobAborted stops a run when the persisted job status says the job is no
// longer ours to process.
var errJobAborted = errors.New("job is no longer processing")

type jobStore interface {
	Pickup(ctx context.Context, jobID string) (*models.AnalysisJobModel, error)
	Progress(ctx context.Context, jobID string, processedRows, progress, estimatedSeconds int) error
	Status(ctx context.Context, jobID string) (models.JobStatus, error)
	Complete(ctx context.Context, jobID string, results []models.RowResult) (bool, error)
	Fail(ctx context.Context, jobID, message string) error
	SaveReport(ctx context.Context, report *models.AnalysisReportModel) error
}

type rowCache interface {
	LookupMany(ctx context.Context, hashes []string, modelVersion, promptVersion string) map[string]json.RawMessage
	InsertMany(ctx context.Context, entries []models.AnalysisCacheModel)
}

type batchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, rows []Row) map[string]json.RawMessage
}

type reportArchiver interface {
	ArchiveReport(ctx context.Context, report *models.AnalysisReportModel) error
}

// Worker drains analysis jobs from the queue. One job at a time: ingest the
// uploaded CSV in windows, resolve each window against the cache, send the
// misses to the provider in batches, and persist ordered results.
type Worker struct {
	jobs          jobStore
	cache         rowCache
	analyzer      batchAnalyzer
	archiver      reportArchiver // optional
	pipeline      appcfg.PipelineConfig
	modelVersion  string
	promptVersion string
	log           *zap.Logger
	removeFile    func(string) error
}

func NewWorker(store *Store, cache *Cache, dispatcher *Dispatcher, archiver reportArchiver, pipeline appcfg.PipelineConfig, modelVersion, promptVersion string, log *zap.Logger) *Worker {
	return &Worker{
		jobs:          store,
		cache:         cache,
		analyzer:      dispatcher,
		archiver:      archiver,
		pipeline:      pipeline,
		modelVersion:  modelVersion,
		promptVersion: promptVersion,
		log:           log,
		removeFile:    os.Remove,
	}
}

// Process handles one queue delivery. The uploaded file is deleted on every
// exit path; a returned error asks the queue to redeliver, which the pickup
// guard then turns into a no-op if another attempt already claimed the job.
func (w *Worker) Process(ctx context.Context, payload JobPayload) error {
	if err := payload.validate(); err != nil {
		w.log.Error("dropping malformed job message", zap.Error(err))
		return nil
	}

	job, err := w.jobs.Pickup(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("pick up job %s: %w", payload.JobID, err)
	}
	if job == nil {
		w.log.Info("job already claimed or terminal, skipping",
			zap.String("job", payload.JobID))
		w.removeUpload(payload.FilePath)
		return nil
	}
	defer w.removeUpload(payload.FilePath)

	w.log.Info("processing analysis job",
		zap.String("job", job.ID),
		zap.String("file", payload.FileName),
		zap.Int("total_rows", job.TotalRows))

	err = w.run(ctx, job, payload)
	if errors.Is(err, errJobAborted) {
		w.log.Info("job aborted, partial results discarded",
			zap.String("job", job.ID))
		return nil
	}
	if err != nil {
		w.log.Error("analysis job failed",
			zap.String("job", job.ID),
			zap.Error(err))
		if failErr := w.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.log.Error("could not mark job failed",
				zap.String("job", job.ID),
				zap.Error(failErr))
		}
		return nil
	}
	return nil
}

func (w *Worker) run(ctx context.Context, job *models.AnalysisJobModel, payload JobPayload) error {
	var (
		results       []models.RowResult
		cachedRows    int
		freshRows     int
		processedRows int
		batchesDone   int // provider batches completed, cache hits excluded
		batchElapsed  time.Duration
	)
	totalRows := job.TotalRows
	batchSize := w.pipeline.BatchSize

	ingestErr := ReadWindows(payload.FilePath, w.pipeline.WindowSize, func(window []Row) error {
		if err := w.ensureActive(ctx, job.ID); err != nil {
			return err
		}

		hashes := make([]string, len(window))
		for i := range window {
			window[i].Hash = Fingerprint(window[i].Fields)
			hashes[i] = window[i].Hash
		}
		hits := w.cache.LookupMany(ctx, hashes, w.modelVersion, w.promptVersion)

		windowResults := make([]json.RawMessage, len(window))
		var misses []int
		for i, row := range window {
			if cached, ok := hits[row.Hash]; ok {
				windowResults[i] = cached
				cachedRows++
				continue
			}
			misses = append(misses, i)
		}

		if hit := len(window) - len(misses); hit > 0 {
			processedRows += hit
			w.reportProgress(ctx, job.ID, processedRows, totalRows, batchesDone, batchElapsed)
		}

		var newEntries []models.AnalysisCacheModel
		for start := 0; start < len(misses); start += batchSize {
			end := min(start+batchSize, len(misses))
			if err := w.ensureActive(ctx, job.ID); err != nil {
				return err
			}

			batch := make([]Row, 0, end-start)
			for _, idx := range misses[start:end] {
				batch = append(batch, window[idx])
			}

			began := time.Now()
			analyses := w.analyzer.AnalyzeBatch(ctx, batch)
			batchElapsed += time.Since(began)
			batchesDone++

			for _, idx := range misses[start:end] {
				row := window[idx]
				result, ok := analyses[row.ID]
				if !ok {
					result = errorMarker(msgMissingRow)
				}
				windowResults[idx] = result
				freshRows++
				if !IsErrorMarker(result) {
					newEntries = append(newEntries, models.AnalysisCacheModel{
						RowHash:        row.Hash,
						ModelVersion:   w.modelVersion,
						PromptVersion:  w.promptVersion,
						AnalysisResult: string(result),
					})
				}
			}

			processedRows += len(batch)
			w.reportProgress(ctx, job.ID, processedRows, totalRows, batchesDone, batchElapsed)
		}

		w.cache.InsertMany(ctx, newEntries)

		for i, row := range window {
			results = append(results, models.RowResult{
				ID:       row.ID,
				Fields:   row.Fields,
				Analysis: windowResults[i],
			})
		}
		return nil
	})
	if ingestErr != nil {
		return ingestErr
	}

	if err := w.ensureActive(ctx, job.ID); err != nil {
		return err
	}
	applied, err := w.jobs.Complete(ctx, job.ID, results)
	if err != nil {
		return fmt.Errorf("persist job results: %w", err)
	}
	if !applied {
		// A cancel slipped in after the status check above; the guarded
		// write lost, so the results are discarded with it.
		return errJobAborted
	}

	report := &models.AnalysisReportModel{
		OwnerID:    job.OwnerID,
		FileName:   payload.FileName,
		TotalRows:  len(results),
		CachedRows: cachedRows,
		FreshRows:  freshRows,
		Results:    results,
	}
	if err := w.jobs.SaveReport(ctx, report); err != nil {
		// The job itself is already completed; losing the report copy is
		// not worth failing it over.
		w.log.Error("save analysis report failed",
			zap.String("job", job.ID),
			zap.Error(err))
	} else if w.archiver != nil {
		if err := w.archiver.ArchiveReport(ctx, report); err != nil {
			w.log.Warn("report archive upload failed",
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}

	w.log.Info("analysis job completed",
		zap.String("job", job.ID),
		zap.Int("rows", len(results)),
		zap.Int("cached", cachedRows),
		zap.Int("fresh", freshRows))
	return nil
}

// ensureActive aborts the run when the persisted status is no longer
// processing, which is how an external cancel lands between windows and
// between batches. A failed status read does not abort: if the database is
// really down the final persistence step will surface it.
func (w *Worker) ensureActive(ctx context.Context, jobID string) error {
	status, err := w.jobs.Status(ctx, jobID)
	if err != nil {
		w.log.Warn("job status check failed, continuing",
			zap.String("job", jobID),
			zap.Error(err))
		return nil
	}
	if status != models.JobProcessing {
		return errJobAborted
	}
	return nil
}

func (w *Worker) reportProgress(ctx context.Context, jobID string, processedRows, totalRows, batchesDone int, elapsed time.Duration) {
	progress := 0
	if totalRows > 0 {
		progress = (processedRows*100 + totalRows/2) / totalRows
		if progress > 100 {
			progress = 100
		}
	}

	// ETA extrapolates from completed provider batches only. Cache hits are
	// effectively free, so until the first uncached batch finishes there is
	// nothing honest to extrapolate from and the estimate stays at zero.
	eta := 0
	if batchesDone > 0 && totalRows > processedRows {
		remainingBatches := (totalRows - processedRows + w.pipeline.BatchSize - 1) / w.pipeline.BatchSize
		perBatch := elapsed.Seconds() / float64(batchesDone)
		eta = int(math.Ceil(float64(remainingBatches) * perBatch))
	}

	if err := w.jobs.Progress(ctx, jobID, processedRows, progress, eta); err != nil {
		w.log.Warn("progress update failed",
			zap.String("job", jobID),
			zap.Error(err))
	}
}

func (w *Worker) removeUpload(path string) {
	if path == "" {
		return
	}
	if err := w.removeFile(path); err != nil && !os.IsNotExist(err) {
		w.log.Warn("failed to delete uploaded file",
			zap.String("path", path),
			zap.Error(err))
	}
}
