// Package taxid normalizes Argentine tax identifiers (CUIT/CUIL) and person names
// so that values read from different sources can be compared.
package taxid

import (
	"strings"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
)

// Length is the number of digits in a CUIT/CUIL.
const Length = 11

// Normalize keeps only the digits of id. It reports false when id has none,
// which callers treat as an unknown identifier.
func Normalize(id string) (string, bool) {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// Format renders id as XX-XXXXXXXX-X. Only identifiers with exactly 11 digits
// can be formatted.
func Format(id string) (string, bool) {
	digits, ok := Normalize(id)
	if !ok || len(digits) != Length {
		return "", false
	}
	return digits[:2] + "-" + digits[2:10] + "-" + digits[10:], true
}

// Equal compares two identifiers by their digits. Two unknown identifiers are
// never equal.
func Equal(a, b string) bool {
	na, okA := Normalize(a)
	nb, okB := Normalize(b)
	if !okA || !okB {
		return false
	}
	return na == nb
}

// NormalizeName folds case, accents and spacing for name matching.
func NormalizeName(name string) string {
	return normalizer.FoldText(name)
}
