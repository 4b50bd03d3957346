package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRows(n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, Row{
			ID: "r" + string(rune('0'+i)),
			Fields: map[string]string{
				"Staff": "Jane Doe",
				"Notes": "shift note",
			},
		})
	}
	return rows
}

func stubDispatcher(complete completionFunc) *Dispatcher {
	return &Dispatcher{complete: complete, log: zap.NewNop()}
}

func TestAnalyzeBatchHappyPath(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		return `{"r0":{"staff_name":"Jane Doe","shift_summary":"Quiet shift.","exceptions":{},"expenses":[]},` +
			`"r1":{"staff_name":"John Roe","shift_summary":"Left early.","exceptions":{"early_leave":{"occurred":true,"reason":"sick"}},"expenses":[]}}`, nil
	})

	results := d.AnalyzeBatch(context.Background(), testRows(2))
	require.Len(t, results, 2)

	var first RowAnalysis
	require.NoError(t, json.Unmarshal(results["r0"], &first))
	assert.Equal(t, "Quiet shift.", first.ShiftSummary)
	assert.False(t, IsErrorMarker(results["r0"]))

	var second RowAnalysis
	require.NoError(t, json.Unmarshal(results["r1"], &second))
	assert.True(t, second.Exceptions.EarlyLeave.Occurred)
	require.NotNil(t, second.Exceptions.EarlyLeave.Reason)
	assert.Equal(t, "sick", *second.Exceptions.EarlyLeave.Reason)
}

func TestAnalyzeBatchStripsCodeFences(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		return "```json\n{\"r0\":{\"shift_summary\":\"Fine.\"}}\n```", nil
	})

	results := d.AnalyzeBatch(context.Background(), testRows(1))
	require.Len(t, results, 1)
	assert.False(t, IsErrorMarker(results["r0"]))
}

func TestAnalyzeBatchMissingRowGetsMarker(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		return `{"r0":{"shift_summary":"Fine."}}`, nil
	})

	results := d.AnalyzeBatch(context.Background(), testRows(2))
	require.Len(t, results, 2)
	assert.False(t, IsErrorMarker(results["r0"]))
	assert.True(t, IsErrorMarker(results["r1"]))
	assert.JSONEq(t, `{"error":"Analysis missing for this row"}`, string(results["r1"]))
}

func TestAnalyzeBatchProviderErrorMarksWholeBatch(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("rate limited")
	})

	results := d.AnalyzeBatch(context.Background(), testRows(3))
	require.Len(t, results, 3)
	for id, result := range results {
		assert.JSONEq(t, `{"error":"Batch processing failed"}`, string(result), id)
	}
}

func TestAnalyzeBatchMalformedJSONMarksWholeBatch(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		return "sorry, I cannot help with that", nil
	})

	results := d.AnalyzeBatch(context.Background(), testRows(2))
	require.Len(t, results, 2)
	for _, result := range results {
		assert.JSONEq(t, `{"error":"Batch processing failed"}`, string(result))
	}
}

func TestAnalyzeBatchInvalidRowSchemaGetsMarker(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		// r0 has no usable summary, r1 is fine.
		return `{"r0":{"shift_summary":"   "},"r1":{"shift_summary":"All good."}}`, nil
	})

	results := d.AnalyzeBatch(context.Background(), testRows(2))
	assert.True(t, IsErrorMarker(results["r0"]))
	assert.False(t, IsErrorMarker(results["r1"]))
}

func TestAnalyzeBatchEmptyInput(t *testing.T) {
	d := stubDispatcher(func(ctx context.Context, system, user string) (string, error) {
		t.Fatal("provider must not be called for an empty batch")
		return "", nil
	})

	results := d.AnalyzeBatch(context.Background(), nil)
	assert.Empty(t, results)
}
