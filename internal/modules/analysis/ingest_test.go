package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shifts.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func shiftCSV(rows int) string {
	var b strings.Builder
	b.WriteString("Staff,Shift Date,Notes\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "Staff %d,2026-03-%02d,note %d\n", i, i%28+1, i)
	}
	return b.String()
}

func TestReadWindowsSplitsSequentially(t *testing.T) {
	path := writeCSV(t, shiftCSV(25))

	var sizes []int
	var ids []string
	err := ReadWindows(path, 10, func(window []Row) error {
		sizes = append(sizes, len(window))
		for _, row := range window {
			ids = append(ids, row.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, "r0", ids[0])
	assert.Equal(t, "r24", ids[24])
	assert.Len(t, ids, 25)
}

func TestReadWindowsMapsHeaderToFields(t *testing.T) {
	path := writeCSV(t, "Staff,Notes\nJane Doe,settled evening\n")

	var rows []Row
	require.NoError(t, ReadWindows(path, 10, func(window []Row) error {
		rows = append(rows, window...)
		return nil
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane Doe", rows[0].Fields["Staff"])
	assert.Equal(t, "settled evening", rows[0].Fields["Notes"])
}

func TestReadWindowsMalformedRecordIsFatal(t *testing.T) {
	path := writeCSV(t, "Staff,Notes\nJane Doe,ok\nonly-one-field\n")

	calls := 0
	err := ReadWindows(path, 10, func(window []Row) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, calls, "no window should be delivered once parsing fails")
}

func TestReadWindowsEmptyFile(t *testing.T) {
	path := writeCSV(t, "")
	err := ReadWindows(path, 10, func(window []Row) error {
		t.Fatal("callback must not run for an empty file")
		return nil
	})
	require.Error(t, err)
}

func TestReadWindowsHeaderOnly(t *testing.T) {
	path := writeCSV(t, "Staff,Notes\n")
	calls := 0
	require.NoError(t, ReadWindows(path, 10, func(window []Row) error {
		calls++
		return nil
	}))
	assert.Zero(t, calls)
}

func TestReadWindowsCallbackErrorAborts(t *testing.T) {
	path := writeCSV(t, shiftCSV(30))

	calls := 0
	err := ReadWindows(path, 10, func(window []Row) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestCountRowsMatchesIngestion(t *testing.T) {
	path := writeCSV(t, shiftCSV(42))

	count, err := CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, 42, count)

	ingested := 0
	require.NoError(t, ReadWindows(path, 500, func(window []Row) error {
		ingested += len(window)
		return nil
	}))
	assert.Equal(t, count, ingested)
}

func TestCountRowsMalformed(t *testing.T) {
	path := writeCSV(t, "Staff,Notes\na,b\nbroken\n")
	_, err := CountRows(path)
	assert.Error(t, err)
}
