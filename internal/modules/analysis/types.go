package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Row is one parsed CSV record flowing through the pipeline. Rows live in
// memory only; they are never persisted standalone.
type Row struct {
	ID     string            // sequence id assigned in file order, "r<index>"
	Fields map[string]string // column name -> raw value
	Hash   string            // content fingerprint, set before cache lookup
}

// ExceptionFlag is one exception category on a shift. Detail fields are
// present only when the provider extracted them from the notes.
type ExceptionFlag struct {
	Occurred    bool    `json:"occurred"`
	Reason      *string `json:"reason,omitempty"`
	Description *string `json:"description,omitempty"`
	Severity    *string `json:"severity,omitempty"` // low | medium | high
	Duration    *string `json:"duration,omitempty"`
}

// Exceptions is the fixed set of exception categories checked per shift.
type Exceptions struct {
	EarlyLeave        ExceptionFlag `json:"early_leave"`
	Overtime          ExceptionFlag `json:"overtime"`
	StaffChange       ExceptionFlag `json:"staff_change"`
	NightStay         ExceptionFlag `json:"night_stay"`
	SpecialRequest    ExceptionFlag `json:"special_request"`
	Incident          ExceptionFlag `json:"incident"`
	BehaviourAlert    ExceptionFlag `json:"behaviour_alert"`
	MedicationConcern ExceptionFlag `json:"medication_concern"`
}

// Expense is one expense record extracted from the shift notes.
type Expense struct {
	Type            string  `json:"type"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	IsReimbursement bool    `json:"is_reimbursement"`
}

// RowAnalysis is the structured result for one shift row. The provider's
// response is decoded into this schema immediately after the external call
// returns and is not trusted structurally thereafter.
type RowAnalysis struct {
	StaffName                  string     `json:"staff_name"`
	ShiftSummary               string     `json:"shift_summary"`
	Exceptions                 Exceptions `json:"exceptions"`
	Expenses                   []Expense  `json:"expenses"`
	ReimbursementClaimExplicit bool       `json:"reimbursement_claim_explicit"`
	LazyNote                   bool       `json:"lazy_note"`
}

// Validate checks the minimum shape a usable analysis must have.
func (a *RowAnalysis) Validate() error {
	if strings.TrimSpace(a.ShiftSummary) == "" {
		return errors.New("shift_summary is empty")
	}
	return nil
}

const (
	msgBatchFailed = "Batch processing failed"
	msgMissingRow  = "Analysis missing for this row"
	msgInvalidRow  = "Invalid analysis for this row"
)

// errorMarker builds the {"error": "..."} placeholder stored for rows whose
// analysis failed. Markers are never cache-eligible.
func errorMarker(msg string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return raw
}

// IsErrorMarker reports whether a result is an error placeholder rather than
// a real analysis.
func IsErrorMarker(result json.RawMessage) bool {
	var marker struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result, &marker); err != nil {
		return false
	}
	return marker.Error != ""
}

// JobPayload is the queue message describing one analysis job.
type JobPayload struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
	OwnerID  string `json:"owner_id"`
	FileName string `json:"file_name"`
}

func (p *JobPayload) validate() error {
	if p.JobID == "" || p.FilePath == "" {
		return fmt.Errorf("job payload missing job_id or file_path")
	}
	return nil
}
