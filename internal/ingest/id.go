package ingest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// IsNull reports whether a cell holds one of the null markers exports use
func IsNull(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "", "nan", "NaN", "NAN", "None", "null", "NULL", "<NA>":
		return true
	}
	return false
}

// NormalizeID maps an id cell onto its canonical key. Numeric forms such as
// "123", "123.0" and "1.23e+18" become the exact integer string; anything
// that is not numeric is kept verbatim. Fractional or negative numbers are
// rejected, since they cannot be a post id.
func NormalizeID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if IsNull(s) {
		return "", ErrInvalidID
	}
	if !looksNumeric(s) {
		return s, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidID, raw, err)
	}
	if d.IsNegative() || !d.IsInteger() {
		return "", fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidID, raw)
	}
	return d.StringFixed(0), nil
}

// NormalizeOptionalID is NormalizeID for nullable reference columns
func NormalizeOptionalID(raw string) (string, error) {
	if IsNull(raw) {
		return "", nil
	}
	return NormalizeID(raw)
}

func looksNumeric(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == 'e' || r == 'E':
		case (r == '+' || r == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			return false
		}
	}
	return digits > 0
}
