package receipts

import (
	"fmt"
	"time"
)

// TimeFormat is the storage and wire layout for timestamps. It is RFC 3339
// UTC with a fixed nine-digit fraction: unlike time.RFC3339Nano, which trims
// trailing zeros, the fixed width keeps lexicographic order equal to
// chronological order in TEXT columns on every engine.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the fabric's canonical timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Now returns the current instant in the canonical layout.
func Now() string {
	return FormatTime(time.Now())
}

// ParseTime parses a canonical timestamp. RFC 3339 inputs with shorter
// fractions are accepted for compatibility with external issuers.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
