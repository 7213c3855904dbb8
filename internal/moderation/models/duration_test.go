package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "warden/pkg/domain-errors"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		token string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"4d", 4 * Day},
		{"0s", 0},
		{"5 m", 5 * time.Minute},
		{"1x2h", 12 * time.Hour},
		{"007d", 7 * Day},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseDuration(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration_Rejects(t *testing.T) {
	tokens := []string{
		"",
		"m",
		"abc",
		"5",
		"5w",
		"5M",
		"--d",
		"99999999999999999999s",
		"9223372036854775807d",
		"106752d",
	}

	for _, token := range tokens {
		t.Run(token, func(t *testing.T) {
			_, err := ParseDuration(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDuration))
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseDuration_LargestAcceptedDays(t *testing.T) {
	d, err := ParseDuration("106751d")
	require.NoError(t, err)
	assert.Equal(t, 106751*Day, d)
}

func TestFormatDuration_RoundTrips(t *testing.T) {
	durations := []time.Duration{
		0,
		time.Second,
		59 * time.Second,
		90 * time.Second,
		5 * time.Minute,
		3 * time.Hour,
		25 * time.Hour,
		7 * Day,
		4 * Day,
	}

	for _, d := range durations {
		t.Run(d.String(), func(t *testing.T) {
			parsed, err := ParseDuration(FormatDuration(d))
			require.NoError(t, err)
			assert.Equal(t, d, parsed)
		})
	}
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "7d 0h 0m", FormatRemaining(7*Day))
	assert.Equal(t, "0d 1h 1m", FormatRemaining(time.Hour+time.Minute+59*time.Second))
	assert.Equal(t, "0d 0h 0m", FormatRemaining(59*time.Second))
	assert.Equal(t, "0d 0h 0m", FormatRemaining(-time.Minute))
	assert.Equal(t, "3d 23h 59m", FormatRemaining(4*Day-time.Second))
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "5:00", FormatCountdown(5*time.Minute))
	assert.Equal(t, "0:09", FormatCountdown(9*time.Second+500*time.Millisecond))
	assert.Equal(t, "1:00:01", FormatCountdown(time.Hour+time.Second))
	assert.Equal(t, "0:00", FormatCountdown(-time.Second))
}
