package analysis

import (
	"context"
	"encoding/json"

	appcfg "github.com/shiftsight/core/internal/config"
	"go.uber.org/zap"
)

// completionFunc sends a prompt pair to the external provider and returns the
// raw completion text. Injectable so dispatch logic can be tested without a
// live provider.
type completionFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Dispatcher turns one batch of uncached rows into per-row analysis results.
// A batch failure never fails the job: affected rows get an error marker and
// the pipeline keeps going.
type Dispatcher struct {
	complete completionFunc
	log      *zap.Logger
}

func NewDispatcher(provider *appcfg.AIProvider, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		complete: func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return callProvider(ctx, provider, systemPrompt, userPrompt)
		},
		log: log,
	}
}

// AnalyzeBatch analyzes rows in a single provider call and returns a result
// for every row, keyed by sequence id. Results are either a validated
// RowAnalysis or an error marker; the returned map always covers every input
// row.
func (d *Dispatcher) AnalyzeBatch(ctx context.Context, rows []Row) map[string]json.RawMessage {
	results := make(map[string]json.RawMessage, len(rows))
	if len(rows) == 0 {
		return results
	}

	payload := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, trimRowForPrompt(row))
	}

	prompt, err := buildBatchPrompt(payload)
	if err == nil {
		var raw string
		raw, err = d.complete(ctx, systemPrompt, prompt)
		if err == nil {
			var decoded map[string]json.RawMessage
			if jsonErr := unmarshalProviderJSON(raw, &decoded); jsonErr != nil {
				err = jsonErr
			} else {
				d.fillFromResponse(results, rows, decoded)
				return results
			}
		}
	}

	d.log.Warn("batch analysis failed",
		zap.Int("rows", len(rows)),
		zap.Error(err))
	for _, row := range rows {
		results[row.ID] = errorMarker(msgBatchFailed)
	}
	return results
}

func (d *Dispatcher) fillFromResponse(results map[string]json.RawMessage, rows []Row, decoded map[string]json.RawMessage) {
	for _, row := range rows {
		entry, ok := decoded[row.ID]
		if !ok {
			results[row.ID] = errorMarker(msgMissingRow)
			continue
		}

		var analysis RowAnalysis
		if err := json.Unmarshal(entry, &analysis); err != nil {
			d.log.Warn("row analysis does not match schema",
				zap.String("row", row.ID),
				zap.Error(err))
			results[row.ID] = errorMarker(msgInvalidRow)
			continue
		}
		if err := analysis.Validate(); err != nil {
			d.log.Warn("row analysis rejected",
				zap.String("row", row.ID),
				zap.Error(err))
			results[row.ID] = errorMarker(msgInvalidRow)
			continue
		}

		// Re-marshal the typed value so stored results carry only schema
		// fields in canonical form.
		normalized, err := json.Marshal(&analysis)
		if err != nil {
			results[row.ID] = errorMarker(msgInvalidRow)
			continue
		}
		results[row.ID] = normalized
	}
}
