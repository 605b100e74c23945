package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalMs(t *testing.T) {
	cases := map[string]int64{
		"1m":  60_000,
		"15m": 900_000,
		"1h":  3_600_000,
		"4h":  14_400_000,
		"1d":  86_400_000,
		"1w":  604_800_000,
	}
	for in, want := range cases {
		got, err := IntervalMs(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestIntervalMsInvalid(t *testing.T) {
	for _, in := range []string{"", "m", "0m", "-1h", "1x", "h1"} {
		_, err := IntervalMs(in)
		assert.Error(t, err, in)
	}
}

func TestParseEpochMs(t *testing.T) {
	ms, ok := ParseEpochMs("2024-10-10T10:10:10Z")
	require.True(t, ok)
	assert.Equal(t, int64(1728555010000), ms)

	ms, ok = ParseEpochMs("1728555010")
	require.True(t, ok)
	assert.Equal(t, int64(1728555010000), ms)

	ms, ok = ParseEpochMs("1728555010000")
	require.True(t, ok)
	assert.Equal(t, int64(1728555010000), ms)

	_, ok = ParseEpochMs("")
	assert.False(t, ok)
	_, ok = ParseEpochMs("later")
	assert.False(t, ok)
}

func TestAlignMs(t *testing.T) {
	assert.Equal(t, int64(3_600_000), AlignMs(3_600_001, 3_600_000))
	assert.Equal(t, int64(3_600_000), AlignMs(3_600_000, 3_600_000))
	assert.Equal(t, int64(42), AlignMs(42, 0))
}
