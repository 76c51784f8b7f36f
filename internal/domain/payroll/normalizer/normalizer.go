// Package normalizer handles regional money, date and text parsing.
// Converts Argentine and English formatted payroll figures into fixed-point decimals.
package normalizer

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
)

// Locale decides how a lone separator followed by three digits ("1.234") is read.
type Locale int

const (
	// LocaleAuto reads the ambiguous separator as a decimal marker.
	LocaleAuto Locale = iota
	// LocaleAR groups with '.' and marks decimals with ','.
	LocaleAR
	// LocaleEN groups with ',' and marks decimals with '.'.
	LocaleEN
)

// ParseLocale maps configuration values ("auto", "ar", "es-AR", "en") to a Locale.
func ParseLocale(s string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return LocaleAuto, nil
	case "ar", "es", "es-ar", "es_ar":
		return LocaleAR, nil
	case "en", "en-us", "en_us":
		return LocaleEN, nil
	}
	return LocaleAuto, errors.New("unknown locale " + s)
}

func (l Locale) String() string {
	switch l {
	case LocaleAR:
		return "ar"
	case LocaleEN:
		return "en"
	}
	return "auto"
}

var hundred = decimal.NewFromInt(100)

// ParseAmount converts an amount string to a fixed-point decimal.
// Accepts plain decimals (22852.54), Argentine grouping (2.285.254,37) and
// English grouping (2,285,254.37). Currency markers and surrounding spaces are
// ignored; a leading minus or surrounding parentheses mark a negative amount.
func ParseAmount(raw string, hint Locale) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Drop spaces (including NBSP) and currency symbols, then any currency code.
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '$' || r == '€' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimFunc(s, unicode.IsLetter)

	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	if s == "" || strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.' && r != ','
	}) >= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	canonical, err := canonicalNumber(s, hint)
	if err != nil {
		return decimal.Zero, err
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// canonicalNumber rewrites digits and separators into "1234.56" form.
func canonicalNumber(s string, hint Locale) (string, error) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the right-most one marks decimals.
		decimalSep, groupSep := ".", ","
		pos := lastDot
		if lastComma > lastDot {
			decimalSep, groupSep = ",", "."
			pos = lastComma
		}
		intPart, frac := s[:pos], s[pos+1:]
		if strings.Contains(intPart, decimalSep) || frac == "" {
			return "", ErrInvalidAmount
		}
		digits, err := ungroup(intPart, groupSep)
		if err != nil {
			return "", err
		}
		return digits + "." + frac, nil

	case lastDot >= 0 || lastComma >= 0:
		sep, pos := ".", lastDot
		if lastComma >= 0 {
			sep, pos = ",", lastComma
		}
		if strings.Count(s, sep) > 1 {
			return ungroup(s, sep)
		}
		intPart, frac := s[:pos], s[pos+1:]
		if frac == "" {
			return "", ErrInvalidAmount
		}
		if len(frac) == 3 && groupsWith(sep, hint) {
			return ungroup(s, sep)
		}
		if intPart == "" {
			intPart = "0"
		}
		return intPart + "." + frac, nil
	}

	return s, nil
}

// groupsWith reports whether sep is the grouping separator under hint.
func groupsWith(sep string, hint Locale) bool {
	switch hint {
	case LocaleAR:
		return sep == "."
	case LocaleEN:
		return sep == ","
	}
	return false
}

// ungroup removes grouping separators, requiring 3-digit groups after the first.
func ungroup(s, sep string) (string, error) {
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", ErrInvalidAmount
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", ErrInvalidAmount
		}
	}
	return strings.Join(groups, ""), nil
}

// FormatAmount renders the canonical form with at least two decimals, e.g. "22852.54".
// Extra precision is kept so the output always parses back to the same value.
func FormatAmount(d decimal.Decimal) string {
	if d.Exponent() < -2 {
		return d.String()
	}
	return d.StringFixed(2)
}

// FormatLocale renders an amount for display, e.g. "22.852,54" under LocaleAR.
func FormatLocale(d decimal.Decimal, locale Locale) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	groupSep, decimalSep := ",", "."
	if locale == LocaleAR {
		groupSep, decimalSep = ".", ","
	}

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(groupSep)
		}
		b.WriteRune(r)
	}
	b.WriteString(decimalSep)
	b.WriteString(frac)
	return b.String()
}

// Sum adds amounts. Fixed-point addition makes the result independent of order.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Difference returns a - b.
func Difference(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b)
}

// PercentOf returns part as a percentage of whole; zero when whole is zero.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// WithinTolerance reports whether |a-b| <= tolAbs + max(|a|,|b|) * tolPct / 100.
// With both tolerances zero it is exact equality.
func WithinTolerance(a, b, tolAbs, tolPct decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	base := decimal.Max(a.Abs(), b.Abs())
	allowed := tolAbs.Abs().Add(base.Mul(tolPct.Abs()).Div(hundred))
	return diff.LessThanOrEqual(allowed)
}

// Round rounds half away from zero to the given number of places. Use it only when
// presenting or reporting, never between calculation steps.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Common date formats used on Argentine bank receipts
var dateFormats = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04",
	"02-01-2006",
	"2/1/2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseFlexibleDate attempts to parse a date using multiple formats
func ParseFlexibleDate(raw string, preferredFormat string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if loc == nil {
		loc = time.UTC
	}

	if preferredFormat != "" {
		goFormat := convertDateFormat(preferredFormat)
		if t, err := time.ParseInLocation(goFormat, raw, loc); err == nil {
			return t, nil
		}
	}

	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, raw, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

// convertDateFormat converts user-friendly format strings to Go format
// e.g., "DD/MM/YYYY" -> "02/01/2006"
func convertDateFormat(format string) string {
	replacer := strings.NewReplacer(
		"YYYY", "2006",
		"YY", "06",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	)
	return replacer.Replace(format)
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanText trims and collapses whitespace in names and free text.
func CleanText(raw string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
}

// FoldText lower-cases, strips accents and collapses whitespace, so that
// "Nómina  ÁLVAREZ" and "nomina alvarez" compare equal.
func FoldText(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}
	return strings.ToLower(CleanText(folded))
}
