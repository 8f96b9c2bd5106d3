// Package timecode converts between human time strings and seconds.
//
// Parsing is lenient: anything that cannot be read yields 0 instead of an error,
// so one malformed timestamp from an upstream model never aborts a job.
// Callers that need strict validation must check the input themselves.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// epsilon absorbs binary float noise (1.001*1000 = 1000.9999...) before truncation.
const epsilon = 1e-6

// Parse accepts HH:MM:SS[.frac], MM:SS[.frac] or a bare number of seconds.
// A comma is accepted as the fraction separator. A negative component makes
// the whole value unparseable.
func Parse(text string) float64 {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if normalized == "" {
		return 0
	}
	parts := strings.Split(normalized, ":")
	switch len(parts) {
	case 3:
		hours, okH := parseInt(parts[0])
		minutes, okM := parseInt(parts[1])
		seconds, okS := parseFloat(parts[2])
		if !okH || !okM || !okS {
			return 0
		}
		return float64(hours*3600+minutes*60) + seconds
	case 2:
		minutes, okM := parseInt(parts[0])
		seconds, okS := parseFloat(parts[1])
		if !okM || !okS {
			return 0
		}
		return float64(minutes*60) + seconds
	case 1:
		seconds, ok := parseFloat(parts[0])
		if !ok {
			return 0
		}
		return seconds
	default:
		return 0
	}
}

// FormatCaption renders seconds as HH:MM:SS,mmm with milliseconds truncated.
// Negative input is clamped to zero.
func FormatCaption(seconds float64) string {
	total := truncate(seconds, 1000)
	ms := total % 1000
	h, m, s := split(total / 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatClock renders seconds as HH:MM:SS.ss for progress logs.
func FormatClock(seconds float64) string {
	total := truncate(seconds, 100)
	cs := total % 100
	h, m, s := split(total / 100)
	return fmt.Sprintf("%02d:%02d:%02d.%02d", h, m, s, cs)
}

func truncate(seconds float64, scale float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Floor(seconds*scale + epsilon))
}

func split(wholeSeconds int64) (int64, int64, int64) {
	return wholeSeconds / 3600, (wholeSeconds % 3600) / 60, wholeSeconds % 60
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
