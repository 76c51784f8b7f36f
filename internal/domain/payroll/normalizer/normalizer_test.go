package normalizer

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseAmount_Argentine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2.285.254,37", "2285254.37"},
		{"22.852,54", "22852.54"},
		{"0,99", "0.99"},
		{"1.000.000,00", "1000000"},
		{"-45,23", "-45.23"},
		{"(45,23)", "-45.23"},
		{"  $ 1.500,00  ", "1500"},
		{"ARS 1.500,00", "1500"},
		{"1.234", "1234"}, // ambiguous, resolved by hint
		{"1,234", "1.234"},
		{"22852", "22852"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, LocaleAR)
		if err != nil {
			t.Errorf("ParseAmount(%q, AR) error: %v", tc.input, err)
			continue
		}
		if !got.Equal(dec(tc.expected)) {
			t.Errorf("ParseAmount(%q, AR) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_English(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2,285,254.37", "2285254.37"},
		{"22852.54", "22852.54"},
		{"1,000,000.00", "1000000"},
		{"$45.23", "45.23"},
		{"-29.99", "-29.99"},
		{"1,234", "1234"}, // ambiguous, resolved by hint
		{"1.234", "1.234"},
		{".50", "0.50"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, LocaleEN)
		if err != nil {
			t.Errorf("ParseAmount(%q, EN) error: %v", tc.input, err)
			continue
		}
		if !got.Equal(dec(tc.expected)) {
			t.Errorf("ParseAmount(%q, EN) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_AutoTreatsLoneSeparatorAsDecimal(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.234", "1.234"},
		{"1,234", "1.234"},
		{"22852,54", "22852.54"},
		{"1.234.567", "1234567"},
		{"1,234,567", "1234567"},
		{"2.285.254,37", "2285254.37"},
		{"2,285,254.37", "2285254.37"},
	}

	for _, tc := range tests {
		got, err := ParseAmount(tc.input, LocaleAuto)
		if err != nil {
			t.Errorf("ParseAmount(%q, Auto) error: %v", tc.input, err)
			continue
		}
		if !got.Equal(dec(tc.expected)) {
			t.Errorf("ParseAmount(%q, Auto) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	inputs := []string{"", "   ", "abc", "-", "12.", "1.2.3", "1,23,456.00", "1.234,56.78", "12a34", "1.234.5678,00"}

	for _, input := range inputs {
		_, err := ParseAmount(input, LocaleAuto)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) expected ErrInvalidAmount, got %v", input, err)
		}
	}
}

func TestParseAmount_LocalesAgree(t *testing.T) {
	ar, err := ParseAmount("2.285.254,37", LocaleAuto)
	if err != nil {
		t.Fatalf("ParseAmount AR: %v", err)
	}
	plain, err := ParseAmount("2285254.37", LocaleAuto)
	if err != nil {
		t.Fatalf("ParseAmount plain: %v", err)
	}
	if !ar.Equal(plain) {
		t.Errorf("%s != %s", ar, plain)
	}
}

func TestFormatAmount_RoundTrips(t *testing.T) {
	inputs := []string{"0", "0.01", "22852.54", "2285254.37", "1000000", "0.125", "99999999.99"}
	zero := decimal.Zero

	for _, input := range inputs {
		parsed, err := ParseAmount(input, LocaleAuto)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", input, err)
		}
		back, err := ParseAmount(FormatAmount(parsed), LocaleAuto)
		if err != nil {
			t.Fatalf("ParseAmount(FormatAmount(%q)): %v", input, err)
		}
		if !WithinTolerance(parsed, back, zero, zero) {
			t.Errorf("round trip of %q gave %s", input, back)
		}
	}
}

func TestFormatLocale(t *testing.T) {
	tests := []struct {
		amount   string
		locale   Locale
		expected string
	}{
		{"2285254.37", LocaleAR, "2.285.254,37"},
		{"2285254.37", LocaleEN, "2,285,254.37"},
		{"22852.5", LocaleAR, "22.852,50"},
		{"-999.99", LocaleAR, "-999,99"},
		{"0", LocaleEN, "0.00"},
	}

	for _, tc := range tests {
		if got := FormatLocale(dec(tc.amount), tc.locale); got != tc.expected {
			t.Errorf("FormatLocale(%s, %s) = %q, want %q", tc.amount, tc.locale, got, tc.expected)
		}
	}
}

func TestSum_OrderIndependent(t *testing.T) {
	amounts := []decimal.Decimal{
		dec("22852.54"), dec("0.01"), dec("1999.99"), dec("0.10"), dec("0.20"), dec("123456.78"), dec("0.33"),
	}
	want := Sum(amounts...)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]decimal.Decimal(nil), amounts...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := Sum(shuffled...); !got.Equal(want) {
			t.Fatalf("Sum in permutation %d = %s, want %s", i, got, want)
		}
	}

	if !Sum().Equal(decimal.Zero) {
		t.Error("Sum() of nothing must be zero")
	}
}

func TestDifferenceAndPercentOf(t *testing.T) {
	if got := Difference(dec("100.02"), dec("100.00")); !got.Equal(dec("0.02")) {
		t.Errorf("Difference = %s", got)
	}
	if got := PercentOf(dec("25"), dec("200")); !got.Equal(dec("12.5")) {
		t.Errorf("PercentOf = %s", got)
	}
	if got := PercentOf(dec("25"), decimal.Zero); !got.IsZero() {
		t.Errorf("PercentOf with zero whole = %s", got)
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		a, b, abs, pct string
		expected       bool
	}{
		{"100.00", "100.00", "0", "0", true},
		{"100.01", "100.00", "0", "0", false},
		{"100.02", "100.00", "0.01", "0", false},
		{"100.01", "100.00", "0.01", "0", true},
		{"100.00", "100.01", "0.01", "0", true},
		{"1000100", "1000000", "0", "0.01", true},
		{"1000101", "1000000", "0", "0.01", false},
		{"100.02", "100.00", "0.01", "0.01", true},
	}

	for _, tc := range tests {
		got := WithinTolerance(dec(tc.a), dec(tc.b), dec(tc.abs), dec(tc.pct))
		if got != tc.expected {
			t.Errorf("WithinTolerance(%s, %s, %s, %s%%) = %v, want %v", tc.a, tc.b, tc.abs, tc.pct, got, tc.expected)
		}
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"-1.005", "-1.01"},
		{"22852.545", "22852.55"},
	}

	for _, tc := range tests {
		if got := Round(dec(tc.input), 2); !got.Equal(dec(tc.expected)) {
			t.Errorf("Round(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestParseLocale(t *testing.T) {
	tests := map[string]Locale{"": LocaleAuto, "auto": LocaleAuto, "AR": LocaleAR, "es-AR": LocaleAR, "en": LocaleEN}
	for input, want := range tests {
		got, err := ParseLocale(input)
		if err != nil || got != want {
			t.Errorf("ParseLocale(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	if _, err := ParseLocale("fr"); err == nil {
		t.Error("expected error for unknown locale")
	}
}

func TestParseFlexibleDate(t *testing.T) {
	tests := []struct {
		input    string
		format   string
		expected string
	}{
		{"05/03/2024 10:22", "", "2024-03-05 10:22"},
		{"05/03/2024", "", "2024-03-05 00:00"},
		{"2024-03-05 10:22:41", "", "2024-03-05 10:22"},
		{"2024/03/05", "YYYY/MM/DD", "2024-03-05 00:00"},
	}

	for _, tc := range tests {
		got, err := ParseFlexibleDate(tc.input, tc.format, time.UTC)
		if err != nil {
			t.Errorf("ParseFlexibleDate(%q) error: %v", tc.input, err)
			continue
		}
		if s := got.Format("2006-01-02 15:04"); s != tc.expected {
			t.Errorf("ParseFlexibleDate(%q) = %s, want %s", tc.input, s, tc.expected)
		}
	}

	if _, err := ParseFlexibleDate("not-a-date", "", nil); err != ErrInvalidDate {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestCleanAndFoldText(t *testing.T) {
	if got := CleanText("  CABRERA   SILVIO\tVICTOR "); got != "CABRERA SILVIO VICTOR" {
		t.Errorf("CleanText = %q", got)
	}
	if got := FoldText("  Muñoz  ÁLVAREZ José "); got != "munoz alvarez jose" {
		t.Errorf("FoldText = %q", got)
	}
	if FoldText("Nómina") != FoldText("NOMINA") {
		t.Error("FoldText must ignore accents and case")
	}
}
