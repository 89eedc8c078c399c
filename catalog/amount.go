package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// amountScale is the number of micro-units in one currency unit.
const amountScale = 1_000_000

// ErrInvalidAmount is returned when a decimal amount cannot be parsed.
var ErrInvalidAmount = errors.New("catalog: invalid amount")

// Amount is a non-negative fixed-point decimal stored in micro-units.
// Costs and budget limits are compared as integers so the equality
// boundary of a budget check is exact.
type Amount int64

// NewAmount converts a float to the nearest micro-unit.
func NewAmount(v float64) Amount {
	return Amount(math.Round(v * amountScale))
}

// ParseAmount parses a plain decimal string such as "0.05" or "12".
// At most six fractional digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if s == "." || !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, fmt.Errorf("%w: %q is not a plain decimal", ErrInvalidAmount, s)
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("%w: %q has more than 6 decimal places", ErrInvalidAmount, s)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if w > math.MaxInt64/amountScale-1 {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}

	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
		}
	}

	return Amount(w*amountScale + f), nil
}

// isDigits reports whether s is a non-empty run of ASCII digits. Signs,
// underscores and exponents are rejected.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParseAmount is ParseAmount for compile-time constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Float64 returns the amount in currency units.
func (a Amount) Float64() float64 {
	return float64(a) / amountScale
}

// String formats the amount with at least two decimals ("0.05", "0.0006").
func (a Amount) String() string {
	whole := int64(a) / amountScale
	frac := fmt.Sprintf("%06d", int64(a)%amountScale)
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return fmt.Sprintf("%d.%s", whole, frac)
}

// UnmarshalYAML accepts both quoted and bare decimal scalars.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseAmount(node.Value)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON renders the amount as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" {
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
