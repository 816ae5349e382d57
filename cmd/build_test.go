package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int64
	}{
		{"empty", "", nil},
		{"blank", "  ", nil},
		{"single", "3", []int64{3}},
		{"list", "3,1,2", []int64{1, 2, 3}},
		{"range", "5-8", []int64{5, 6, 7, 8}},
		{"mixed with duplicates", "1, 4-5,5,0", []int64{0, 1, 4, 5}},
		{"trailing comma", "2,", []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChunks(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChunks_Invalid(t *testing.T) {
	for _, in := range []string{"abc", "-1", "5-2", "1-x", "1,,b"} {
		_, err := parseChunks(in)
		assert.Error(t, err, in)
	}
}

func TestParseChunks_SelectionBounded(t *testing.T) {
	for _, in := range []string{
		"0-9223372036854775807",
		"9223372036854775806-9223372036854775807,0-65535",
		"0-65536",
		"0-40000,50000-90000",
	} {
		_, err := parseChunks(in)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "exceeds")
	}

	got, err := parseChunks("9223372036854775806-9223372036854775807")
	require.NoError(t, err)
	assert.Equal(t, []int64{9223372036854775806, 9223372036854775807}, got)

	got, err = parseChunks("0-65535")
	require.NoError(t, err)
	assert.Len(t, got, maxChunkSelection)
}
