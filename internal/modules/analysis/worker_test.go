package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/shiftsight/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type progressSnapshot struct {
	ProcessedRows    int
	Progress         int
	EstimatedSeconds int
}

type fakeJobStore struct {
	mu             sync.Mutex
	job            models.AnalysisJobModel
	progress       []progressSnapshot
	completed      []models.RowResult
	didComplete    bool
	failedWith     string
	report         *models.AnalysisReportModel
	beforeComplete func() // runs before Complete takes the lock
}

func newFakeJobStore(totalRows int) *fakeJobStore {
	s := &fakeJobStore{}
	s.job.ID = "job-1"
	s.job.OwnerID = "user-1"
	s.job.Status = models.JobPending
	s.job.TotalRows = totalRows
	return s
}

func (s *fakeJobStore) Pickup(ctx context.Context, jobID string) (*models.AnalysisJobModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != models.JobPending {
		return nil, nil
	}
	s.job.Status = models.JobProcessing
	job := s.job
	return &job, nil
}

func (s *fakeJobStore) Progress(ctx context.Context, jobID string, processedRows, progress, estimatedSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != models.JobProcessing {
		return nil
	}
	s.progress = append(s.progress, progressSnapshot{processedRows, progress, estimatedSeconds})
	return nil
}

func (s *fakeJobStore) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Status, nil
}

func (s *fakeJobStore) Complete(ctx context.Context, jobID string, results []models.RowResult) (bool, error) {
	if s.beforeComplete != nil {
		s.beforeComplete()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != models.JobProcessing {
		return false, nil
	}
	s.job.Status = models.JobCompleted
	s.completed = results
	s.didComplete = true
	return true, nil
}

func (s *fakeJobStore) Fail(ctx context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status != models.JobProcessing {
		return nil
	}
	s.job.Status = models.JobFailed
	s.failedWith = message
	return nil
}

func (s *fakeJobStore) SaveReport(ctx context.Context, report *models.AnalysisReportModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = report
	return nil
}

func (s *fakeJobStore) setStatus(status models.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = status
}

type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]json.RawMessage
	inserted []models.AnalysisCacheModel
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]json.RawMessage)}
}

func (c *fakeCache) LookupMany(ctx context.Context, hashes []string, modelVersion, promptVersion string) map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	hits := make(map[string]json.RawMessage)
	for _, h := range hashes {
		if result, ok := c.entries[h]; ok {
			hits[h] = result
		}
	}
	return hits
}

func (c *fakeCache) InsertMany(ctx context.Context, entries []models.AnalysisCacheModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserted = append(c.inserted, entries...)
	for _, e := range entries {
		c.entries[e.RowHash] = json.RawMessage(e.AnalysisResult)
	}
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	batches   [][]string // row ids per call
	perRow    func(row Row) json.RawMessage
	afterCall func(call int)
}

func (a *fakeAnalyzer) AnalyzeBatch(ctx context.Context, rows []Row) map[string]json.RawMessage {
	a.mu.Lock()
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	a.batches = append(a.batches, ids)
	call := len(a.batches)
	a.mu.Unlock()

	results := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		if a.perRow != nil {
			results[row.ID] = a.perRow(row)
			continue
		}
		results[row.ID], _ = json.Marshal(&RowAnalysis{
			ShiftSummary: "summary of " + row.ID,
		})
	}
	if a.afterCall != nil {
		a.afterCall(call)
	}
	return results
}

func (a *fakeAnalyzer) batchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

type workerHarness struct {
	worker   *Worker
	store    *fakeJobStore
	cache    *fakeCache
	analyzer *fakeAnalyzer
	removed  []string
}

func newWorkerHarness(t *testing.T, totalRows int) *workerHarness {
	t.Helper()
	h := &workerHarness{
		store:    newFakeJobStore(totalRows),
		cache:    newFakeCache(),
		analyzer: &fakeAnalyzer{},
	}
	h.worker = &Worker{
		jobs:     h.store,
		cache:    h.cache,
		analyzer: h.analyzer,
		pipeline: appcfg.PipelineConfig{
			BatchSize:  10,
			WindowSize: 500,
		},
		modelVersion:  "gpt-4o",
		promptVersion: "v1",
		log:           zap.NewNop(),
		removeFile: func(path string) error {
			h.removed = append(h.removed, path)
			return nil
		},
	}
	return h
}

func (h *workerHarness) payload(path string) JobPayload {
	return JobPayload{
		JobID:    h.store.job.ID,
		FilePath: path,
		OwnerID:  h.store.job.OwnerID,
		FileName: "shifts.csv",
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	path := writeCSV(t, shiftCSV(25))
	h := newWorkerHarness(t, 25)

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Equal(t, models.JobCompleted, h.store.job.Status)
	require.Len(t, h.store.completed, 25)
	for i, result := range h.store.completed {
		assert.Equal(t, fmt.Sprintf("r%d", i), result.ID)
		assert.False(t, IsErrorMarker(result.Analysis))
	}
	assert.Equal(t, 3, h.analyzer.batchCount())
	assert.Len(t, h.cache.inserted, 25)
	assert.Equal(t, []string{path}, h.removed)

	require.NotNil(t, h.store.report)
	assert.Equal(t, 25, h.store.report.TotalRows)
	assert.Equal(t, 0, h.store.report.CachedRows)
	assert.Equal(t, 25, h.store.report.FreshRows)
}

func TestWorkerProgressIsMonotonic(t *testing.T) {
	path := writeCSV(t, shiftCSV(25))
	h := newWorkerHarness(t, 25)

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	require.NotEmpty(t, h.store.progress)
	prev := progressSnapshot{}
	for _, snap := range h.store.progress {
		assert.GreaterOrEqual(t, snap.ProcessedRows, prev.ProcessedRows)
		assert.GreaterOrEqual(t, snap.Progress, prev.Progress)
		assert.LessOrEqual(t, snap.Progress, 100)
		prev = snap
	}
	last := h.store.progress[len(h.store.progress)-1]
	assert.Equal(t, 25, last.ProcessedRows)
	assert.Equal(t, 100, last.Progress)
}

func TestWorkerUsesCacheHits(t *testing.T) {
	path := writeCSV(t, shiftCSV(25))
	h := newWorkerHarness(t, 25)

	// Pre-cache the first ten rows by content hash.
	cachedAnalysis, _ := json.Marshal(&RowAnalysis{ShiftSummary: "from cache"})
	require.NoError(t, ReadWindows(path, 500, func(window []Row) error {
		for _, row := range window[:10] {
			h.cache.entries[Fingerprint(row.Fields)] = cachedAnalysis
		}
		return nil
	}))

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Equal(t, 2, h.analyzer.batchCount(), "15 misses at batch size 10")
	assert.Len(t, h.cache.inserted, 15)
	require.NotNil(t, h.store.report)
	assert.Equal(t, 10, h.store.report.CachedRows)
	assert.Equal(t, 15, h.store.report.FreshRows)

	require.Len(t, h.store.completed, 25)
	var first RowAnalysis
	require.NoError(t, json.Unmarshal(h.store.completed[0].Analysis, &first))
	assert.Equal(t, "from cache", first.ShiftSummary)
}

func TestWorkerDoesNotCacheErrorMarkers(t *testing.T) {
	path := writeCSV(t, shiftCSV(10))
	h := newWorkerHarness(t, 10)
	h.analyzer.perRow = func(row Row) json.RawMessage {
		if row.ID == "r3" {
			return errorMarker(msgMissingRow)
		}
		raw, _ := json.Marshal(&RowAnalysis{ShiftSummary: "ok"})
		return raw
	}

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Len(t, h.cache.inserted, 9)
	require.Len(t, h.store.completed, 10)
	assert.True(t, IsErrorMarker(h.store.completed[3].Analysis))
	assert.Equal(t, models.JobCompleted, h.store.job.Status, "marker rows do not fail the job")
}

func TestWorkerSkipsAlreadyClaimedJob(t *testing.T) {
	path := writeCSV(t, shiftCSV(5))
	h := newWorkerHarness(t, 5)
	h.store.setStatus(models.JobProcessing)

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Zero(t, h.analyzer.batchCount())
	assert.Empty(t, h.store.progress)
	assert.Equal(t, []string{path}, h.removed, "file is still cleaned up")
}

func TestWorkerStopsOnCancellation(t *testing.T) {
	path := writeCSV(t, shiftCSV(30))
	h := newWorkerHarness(t, 30)
	h.analyzer.afterCall = func(call int) {
		if call == 1 {
			h.store.setStatus(models.JobCancelled)
		}
	}

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Equal(t, models.JobCancelled, h.store.job.Status)
	assert.False(t, h.store.didComplete, "cancelled jobs never complete")
	assert.Equal(t, 1, h.analyzer.batchCount(), "no batch is dispatched after the cancel is observed")
	assert.Nil(t, h.store.report)
	assert.Equal(t, []string{path}, h.removed)
}

func TestWorkerCancelObservedAtFinalBoundary(t *testing.T) {
	path := writeCSV(t, shiftCSV(10))
	h := newWorkerHarness(t, 10)
	h.analyzer.afterCall = func(call int) {
		h.store.setStatus(models.JobCancelled)
	}

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.False(t, h.store.didComplete)
	assert.Equal(t, models.JobCancelled, h.store.job.Status)
}

func TestWorkerFailsOnMalformedCSV(t *testing.T) {
	path := writeCSV(t, "Staff,Notes\nJane Doe,ok\nbroken-row\n")
	h := newWorkerHarness(t, 2)

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Equal(t, models.JobFailed, h.store.job.Status)
	assert.NotEmpty(t, h.store.failedWith)
	assert.False(t, h.store.didComplete)
	assert.Equal(t, []string{path}, h.removed)
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	h := newWorkerHarness(t, 0)
	require.NoError(t, h.worker.Process(context.Background(), JobPayload{}))
	assert.Empty(t, h.removed)
	assert.Zero(t, h.analyzer.batchCount())
}

func TestWorkerCancelRacingFinalPersist(t *testing.T) {
	path := writeCSV(t, shiftCSV(10))
	h := newWorkerHarness(t, 10)
	// The cancel lands after the worker's last status check but before the
	// completion write. The guarded write must lose and the results with it.
	h.store.beforeComplete = func() {
		h.store.setStatus(models.JobCancelled)
	}

	require.NoError(t, h.worker.Process(context.Background(), h.payload(path)))

	assert.Equal(t, models.JobCancelled, h.store.job.Status)
	assert.False(t, h.store.didComplete)
	assert.Empty(t, h.store.completed)
	assert.Nil(t, h.store.report)
	assert.Equal(t, []string{path}, h.removed)
}

func TestReportProgressETA(t *testing.T) {
	h := newWorkerHarness(t, 100)
	h.store.setStatus(models.JobProcessing)

	// 40 of 100 rows done, 2 provider batches over 6 seconds: 3s per batch,
	// 6 batches of 10 remain, so 18 seconds.
	h.worker.reportProgress(context.Background(), "job-1", 40, 100, 2, 6*time.Second)
	require.Len(t, h.store.progress, 1)
	snap := h.store.progress[0]
	assert.Equal(t, 40, snap.Progress)
	assert.Equal(t, 18, snap.EstimatedSeconds)
}

func TestReportProgressRoundsToNearest(t *testing.T) {
	h := newWorkerHarness(t, 3)
	h.store.setStatus(models.JobProcessing)

	h.worker.reportProgress(context.Background(), "job-1", 2, 3, 1, time.Second)
	require.Len(t, h.store.progress, 1)
	assert.Equal(t, 67, h.store.progress[0].Progress, "2/3 rounds up, not down")
}

func TestReportProgressNoETABeforeFirstBatch(t *testing.T) {
	h := newWorkerHarness(t, 100)
	h.store.setStatus(models.JobProcessing)

	// A cache-heavy prefix reports progress before any provider batch ran.
	h.worker.reportProgress(context.Background(), "job-1", 30, 100, 0, 0)
	require.Len(t, h.store.progress, 1)
	assert.Equal(t, 0, h.store.progress[0].EstimatedSeconds)
}

func TestReportProgressETAClearsWhenDone(t *testing.T) {
	h := newWorkerHarness(t, 100)
	h.store.setStatus(models.JobProcessing)

	h.worker.reportProgress(context.Background(), "job-1", 100, 100, 10, 30*time.Second)
	require.Len(t, h.store.progress, 1)
	assert.Equal(t, 100, h.store.progress[0].Progress)
	assert.Equal(t, 0, h.store.progress[0].EstimatedSeconds)
}
