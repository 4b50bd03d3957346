package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a strict JSON generator analyzing care shift records. " +
	"Always respond with a single JSON object and nothing else. Do not include " +
	"markdown fences, commentary, or trailing text."

const analysisInstructions = `Analyze each care shift record below. For every record, produce an analysis object with:

1. "staff_name": the name of the staff member on the shift, if identifiable.
2. "shift_summary": a one or two sentence factual summary of what happened on the shift.
3. "exceptions": an object with exactly these keys: "early_leave", "overtime", "staff_change", "night_stay", "special_request", "incident", "behaviour_alert", "medication_concern". Each is an object with "occurred" (boolean) and, only when occurred is true, any of "reason", "description", "duration", and "severity" ("low", "medium" or "high") that the notes support.
4. "expenses": an array of expenses mentioned in the notes, each with "type", "amount" (number), "currency", and "is_reimbursement" (boolean). Empty array when none.
5. "reimbursement_claim_explicit": true only when the staff member explicitly asks to be reimbursed.
6. "lazy_note": true when the shift note is too short or vague to be a proper handover record.

Do not invent details that are not in the record. When a field cannot be determined, use an empty string, empty array, or false as appropriate.

Respond with a single JSON object mapping each record's "id" to its analysis object, for example: {"r0": {...}, "r1": {...}}.

Records:
`

// buildBatchPrompt renders the user prompt for one batch. Each entry carries
// its sequence id so the provider can key its response per row.
func buildBatchPrompt(payload []map[string]string) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode batch payload: %w", err)
	}
	var b strings.Builder
	b.WriteString(analysisInstructions)
	b.Write(encoded)
	return b.String(), nil
}

// trimRowForPrompt drops empty fields from a row and injects its sequence id.
// Sending only populated columns keeps token usage down without changing what
// the provider can infer.
func trimRowForPrompt(row Row) map[string]string {
	payload := make(map[string]string, len(row.Fields)+1)
	for key, value := range row.Fields {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			payload[key] = trimmed
		}
	}
	payload["id"] = row.ID
	return payload
}
