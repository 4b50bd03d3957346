package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shiftsight/core/internal/models"
	"github.com/shiftsight/core/internal/pkg/s3store"
)

// ReportArchive mirrors completed reports to object storage for retention
// beyond the database. Uploads are best-effort; the worker logs and moves on
// when one fails.
type ReportArchive struct {
	store *s3store.Store
}

func NewReportArchive(store *s3store.Store) *ReportArchive {
	return &ReportArchive{store: store}
}

func (a *ReportArchive) ArchiveReport(ctx context.Context, report *models.AnalysisReportModel) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.ID, err)
	}
	key := fmt.Sprintf("reports/%s/%s.json", report.CreatedAt.Format("2006/01"), report.ID)
	return a.store.Put(ctx, key, body, "application/json")
}
