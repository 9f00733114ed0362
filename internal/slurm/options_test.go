package slurm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWalltime_Forms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"2-01:30:15", 49*time.Hour + 30*time.Minute + 15*time.Second},
		{"1-12:00", 36 * time.Hour},
		{"3-4", 76 * time.Hour},
		{"01:30:15", time.Hour + 30*time.Minute + 15*time.Second},
		{"30:15", 30*time.Minute + 15*time.Second},
		{"45", 45 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWalltime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWalltime_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "x-10:00"} {
		_, err := ParseWalltime(in)
		assert.Error(t, err, in)
	}
}

func TestFormatWalltime_RoundTrip(t *testing.T) {
	assert.Equal(t, "10:00:00", FormatWalltime(10*time.Hour))
	assert.Equal(t, "2-01:30:15", FormatWalltime(49*time.Hour+30*time.Minute+15*time.Second))

	d, err := ParseWalltime(FormatWalltime(36 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)
}

func TestParseStorage_Units(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512 << 20}, // bare numbers are megabytes
		{"100K", 100 << 10},
		{"512M", 512 << 20},
		{"10G", 10 << 30},
		{"2T", 2 << 40},
		{"10g", 10 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStorage(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStorage_Invalid(t *testing.T) {
	for _, in := range []string{"", "G", "ten", "10X10"} {
		_, err := ParseStorage(in)
		assert.Error(t, err, in)
	}
}

func TestFormatStorage_LargestWholeUnit(t *testing.T) {
	assert.Equal(t, "10G", FormatStorage(10<<30))
	assert.Equal(t, "512M", FormatStorage(512<<20))
	assert.Equal(t, "1T", FormatStorage(1<<40))
}
