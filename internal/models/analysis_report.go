package models

// AnalysisReportModel is the immutable audit record written once when a job
// completes. It is not on the job's read path.
type AnalysisReportModel struct {
	Base
	OwnerID    string      `json:"-"           gorm:"index"`
	FileName   string      `json:"file_name"`
	TotalRows  int         `json:"total_rows"`
	CachedRows int         `json:"cached_rows"`
	FreshRows  int         `json:"fresh_rows"`
	Results    []RowResult `json:"results" gorm:"type:longtext;serializer:json"`
}

func (AnalysisReportModel) TableName() string { return "analysis_reports" }
