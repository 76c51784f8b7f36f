package taxid

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"20-12345678-9", "20123456789", true},
		{"20 12345678 9", "20123456789", true},
		{"20.123.456.789", "20123456789", true},
		{"20123456789", "20123456789", true},
		{"CUIL: 27-98765432-1", "27987654321", true},
		{"123", "123", true},
		{"", "", false},
		{"N/A", "", false},
	}

	for _, tc := range tests {
		got, ok := Normalize(tc.input)
		if got != tc.expected || ok != tc.ok {
			t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tc.input, got, ok, tc.expected, tc.ok)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"20123456789", "20-12345678-9", true},
		{"20 12345678 9", "20-12345678-9", true},
		{"20-12345678-9", "20-12345678-9", true},
		{"2012345678", "", false},
		{"201234567890", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		got, ok := Format(tc.input)
		if got != tc.expected || ok != tc.ok {
			t.Errorf("Format(%q) = %q, %v; want %q, %v", tc.input, got, ok, tc.expected, tc.ok)
		}
	}
}

func TestFormatIsStable(t *testing.T) {
	formatted, ok := Format("20123456789")
	if !ok {
		t.Fatal("expected formattable identifier")
	}
	again, ok := Format(formatted)
	if !ok || again != formatted {
		t.Errorf("Format(Format(x)) = %q, want %q", again, formatted)
	}
	digits, _ := Normalize(formatted)
	if digits != "20123456789" {
		t.Errorf("Normalize(Format(x)) = %q", digits)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"20-12345678-9", "20123456789", true},
		{"20 12345678 9", "20.12345678.9", true},
		{"20123456789", "27123456789", false},
		{"", "", false},
		{"N/A", "-", false},
		{"", "20123456789", false},
	}

	for _, tc := range tests {
		if got := Equal(tc.a, tc.b); got != tc.expected {
			t.Errorf("Equal(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.expected)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if NormalizeName("MUÑOZ  José") != NormalizeName("munoz jose") {
		t.Error("names differing only in accents, case and spacing should match")
	}
}
