package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// RowResult pairs one source row with its analysis. Analysis is either the
// structured result from the analysis provider or an {"error": "..."} marker.
type RowResult struct {
	ID       string            `json:"id"`
	Fields   map[string]string `json:"fields"`
	Analysis json.RawMessage   `json:"analysis_result"`
}

// AnalysisJobModel is the user-visible unit of an analysis run.
// It is the single source of truth for progress and outcome.
type AnalysisJobModel struct {
	Base
	OwnerID          string      `json:"-"                 gorm:"index;not null"`
	FileName         string      `json:"file_name"`
	Status           JobStatus   `json:"status"            gorm:"type:varchar(16);default:'pending';index"`
	Progress         int         `json:"progress"          gorm:"default:0"`
	TotalRows        int         `json:"total_rows"`
	ProcessedRows    int         `json:"processed_rows"    gorm:"default:0"`
	EstimatedSeconds int         `json:"estimated_seconds"`
	Error            string      `json:"error,omitempty"   gorm:"type:text"`
	Results          []RowResult `json:"results,omitempty" gorm:"type:longtext;serializer:json"`
	StartedAt        *time.Time  `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
}

func (AnalysisJobModel) TableName() string { return "analysis_jobs" }
