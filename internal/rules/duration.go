package rules

import (
	"fmt"
	"strconv"
	"time"
)

// Multipliers for hold-duration shorthand. Sub-minute holds make no sense
// for escalation SLAs, so seconds are rejected.
var holdUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseDuration reads hold shorthand like "30m", "48h" or "3d".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid hold duration %q", s)
	}

	unit, ok := holdUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("hold duration %q has no recognized unit", s)
	}

	n, err := strconv.ParseUint(s[:len(s)-1], 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid hold duration %q", s)
	}

	return time.Duration(n) * unit, nil
}

// FormatDuration renders a duration back in ParseDuration's shorthand.
// Whole hours stay hours even across day boundaries, so escalation reasons
// quote the same figure the rule file stated.
func FormatDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return fmt.Sprintf("%dm", d/time.Minute)
}
