package signals

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDLengths(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"default", DefaultIDLength, 8},
		{"one", 1, 1},
		{"long", 600, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewID(tt.n)
			assert.Len(t, id, tt.want)
			for _, r := range id {
				assert.True(t, strings.ContainsRune(idAlphabet, r), "unexpected symbol %q", r)
			}
		})
	}
}

func TestNewIDRejectsOutOfRangeBytes(t *testing.T) {
	old := idSource
	t.Cleanup(func() { idSource = old })

	// 62 and 63 (and their high-bit twins) must be skipped, not folded.
	src := []byte{62, 63, 0x7e, 0xff, 0, 61, 26, 52}
	src = append(src, make([]byte, 64)...)
	idSource = bytes.NewReader(src)

	assert.Equal(t, "A9a0", NewID(4))
}

func TestNewIDDistribution(t *testing.T) {
	counts := make(map[rune]int)
	const total = 62 * 400
	id := NewID(total)
	require.Len(t, id, total)
	for _, r := range id {
		counts[r]++
	}

	assert.Len(t, counts, len(idAlphabet), "every symbol should appear")
	for r, n := range counts {
		// Expected 400 per symbol; this bound is many standard deviations wide.
		assert.Greater(t, n, 250, "symbol %q under-represented", r)
		assert.Less(t, n, 550, "symbol %q over-represented", r)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID(DefaultIDLength)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
