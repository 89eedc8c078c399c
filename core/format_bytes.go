package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Byte size constants for human-readable formatting.
// Binary units (1024 base) are used, matching upload limits in the config.
const (
	BytesPerKB int64 = 1024
	BytesPerMB       = 1024 * BytesPerKB
	BytesPerGB       = 1024 * BytesPerMB
)

// FormatBytes converts a byte count to a human-readable string.
// Examples:
//   - FormatBytes(0) returns "0 B"
//   - FormatBytes(512) returns "512 B"
//   - FormatBytes(1536) returns "1.50 KB"
//   - FormatBytes(20971520) returns "20.00 MB"
//   - FormatBytes(-1) returns "0 B"
//
// This is a pure function with no side effects.
func FormatBytes(n int64) string {
	switch {
	case n >= BytesPerGB:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(BytesPerGB))
	case n >= BytesPerMB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(BytesPerMB))
	case n >= BytesPerKB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(BytesPerKB))
	case n < 0:
		return "0 B"
	}
	return fmt.Sprintf("%d B", n)
}

// ParseBytes is the inverse of FormatBytes, used for size limits read from
// the environment. Units are case-insensitive and optional.
// Examples:
//   - ParseBytes("500") returns 500
//   - ParseBytes("64KB") returns 65536
//   - ParseBytes("1.5 MB") returns 1572864
//   - ParseBytes("2gb") returns 2147483648
//
// Negative or non-numeric sizes return an error.
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"GB", BytesPerGB}, {"MB", BytesPerMB}, {"KB", BytesPerKB}, {"B", 1}} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			break
		}
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(value * float64(multiplier)), nil
}
