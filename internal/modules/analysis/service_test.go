package analysis

import (
	"testing"

	appcfg "github.com/shiftsight/core/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestEstimateSeconds(t *testing.T) {
	s := &Service{pipeline: appcfg.PipelineConfig{
		BatchSize:       10,
		SecondsPerBatch: 3,
	}}

	tests := []struct {
		rows int
		want int
	}{
		{0, 0},
		{1, 1},
		{10, 3},
		{25, 8}, // 25*3/10 = 7.5, rounded up
		{100, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.estimateSeconds(tt.rows), "%d rows", tt.rows)
	}
}
