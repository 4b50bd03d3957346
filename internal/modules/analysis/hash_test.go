package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a := Fingerprint(map[string]string{
		"Staff":      "Jane Doe",
		"Shift Date": "2026-03-01",
		"Notes":      "resident settled, no incidents",
	})
	b := Fingerprint(map[string]string{
		"Notes":      "resident settled, no incidents",
		"Staff":      "Jane Doe",
		"Shift Date": "2026-03-01",
	})
	assert.Equal(t, a, b)
}

func TestFingerprintTrimsWhitespace(t *testing.T) {
	a := Fingerprint(map[string]string{"Staff": "Jane Doe", "Notes": "late start"})
	b := Fingerprint(map[string]string{"Staff": "  Jane Doe ", "Notes": "late start\n"})
	assert.Equal(t, a, b)
}

func TestFingerprintSensitiveToValues(t *testing.T) {
	a := Fingerprint(map[string]string{"Staff": "Jane Doe", "Notes": "late start"})
	b := Fingerprint(map[string]string{"Staff": "Jane Doe", "Notes": "early leave"})
	assert.NotEqual(t, a, b)
}

func TestFingerprintIgnoresNothing(t *testing.T) {
	// An extra empty column still changes the hash: emptiness is part of
	// the row's content, only surrounding whitespace is normalized.
	a := Fingerprint(map[string]string{"Staff": "Jane Doe"})
	b := Fingerprint(map[string]string{"Staff": "Jane Doe", "Notes": ""})
	assert.NotEqual(t, a, b)
}
