package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	dErrors "warden/pkg/domain-errors"
)

// ErrInvalidDuration is returned for any duration token that cannot be parsed.
var ErrInvalidDuration = dErrors.New(dErrors.CodeInvalidInput, "invalid duration")

const Day = 24 * time.Hour

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': Day,
}

// ParseDuration converts a human-entered token such as "30s", "5m", "1h" or
// "4d" into a duration. The last character is the unit; every non-digit
// character before it is dropped before the number is read, so "5 m" parses
// as five minutes. Zero is accepted and yields an already-expired record.
func ParseDuration(token string) (time.Duration, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty token", ErrInvalidDuration)
	}
	unit, ok := durationUnits[token[len(token)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidDuration, token)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, token[:len(token)-1])
	if digits == "" {
		return 0, fmt.Errorf("%w: no digits in %q", ErrInvalidDuration, token)
	}

	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, token)
	}
	if value > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, token)
	}
	return time.Duration(value) * unit, nil
}

// FormatDuration renders d in the largest unit that divides it exactly, the
// inverse of ParseDuration for whole-second durations. Sub-second remainders
// are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d == 0:
		return "0s"
	case d%Day == 0:
		return fmt.Sprintf("%dd", d/Day)
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// FormatRemaining renders a remaining time as "{days}d {hours}h {minutes}m",
// truncated to whole minutes. Used in ban info and login denial messages.
func FormatRemaining(d time.Duration) string {
	secs := max(int64(d/time.Second), 0)
	days := secs / (24 * 60 * 60)
	hours := (secs % (24 * 60 * 60)) / (60 * 60)
	minutes := (secs % (60 * 60)) / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

// FormatCountdown renders the review banner countdown as m:ss, or h:mm:ss
// once an hour or more remains.
func FormatCountdown(d time.Duration) string {
	secs := max(int64(d/time.Second), 0)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
