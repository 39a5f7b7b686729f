// Package timestamp renders and parses the human-facing timestamp format used
// by "jump to" controls: "M:SS", or "H:MM:SS" once the hour is reached.
package timestamp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format renders seconds as "M:SS" or "H:MM:SS". Fractional seconds are
// truncated. NaN, infinities and negative values render as "0:00".
func Format(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return "0:00"
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Parse is the inverse of [Format]. It accepts "SS", "M:SS" and "H:MM:SS".
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("timestamp: empty input")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("timestamp: %q has too many components", s)
	}
	var total float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp: parse %q: %w", s, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("timestamp: %q has a negative component", s)
		}
		// Every component after the first is bounded by its base.
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("timestamp: %q component %q out of range", s, p)
		}
		total = total*60 + n
	}
	return total, nil
}
