package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnalysisCacheModel is a content-addressed, cross-job cache of row analyses.
// The true cache key is (row_hash, model_version, prompt_version): a different
// model or prompt revision must not reuse stale results. Entries are
// write-once; they are never updated in place, only inserted or expired.
type AnalysisCacheModel struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	RowHash        string    `json:"row_hash"        gorm:"uniqueIndex:idx_analysis_cache_key,priority:1;size:64;not null"`
	ModelVersion   string    `json:"model_version"   gorm:"uniqueIndex:idx_analysis_cache_key,priority:2;size:128;not null"`
	PromptVersion  string    `json:"prompt_version"  gorm:"uniqueIndex:idx_analysis_cache_key,priority:3;size:32;not null"`
	AnalysisResult string    `json:"analysis_result" gorm:"type:longtext;not null"`
	CreatedAt      time.Time `json:"created"         gorm:"index"`
}

func (m *AnalysisCacheModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (AnalysisCacheModel) TableName() string { return "analysis_caches" }
