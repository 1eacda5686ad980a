package validation

import "testing"

func TestIsValidOrderNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid example 1",
			number: "79927398713",
			valid:  true,
		},
		{
			name:   "valid example 2",
			number: "4539578763621486",
			valid:  true,
		},
		{
			name:   "invalid checksum",
			number: "79927398710",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "1234a67890",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidOrderNumber(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidOrderNumber(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestWithCheckDigit(t *testing.T) {
	tests := []struct {
		digits string
		want   string
	}{
		{digits: "7992739871", want: "79927398713"},
		{digits: "453957876362148", want: "4539578763621486"},
		{digits: "12a", want: ""},
	}

	for _, tt := range tests {
		got := WithCheckDigit(tt.digits)
		if got != tt.want {
			t.Fatalf("WithCheckDigit(%q) = %q, want %q", tt.digits, got, tt.want)
		}
		if got != "" && !IsValidOrderNumber(got) {
			t.Fatalf("WithCheckDigit(%q) produced invalid number %q", tt.digits, got)
		}
	}
}

func TestIsValidICCID(t *testing.T) {
	tests := []struct {
		iccid string
		valid bool
	}{
		{iccid: "8931234567890123456", valid: true},
		{iccid: "89012345678901234567", valid: true},
		{iccid: "1931234567890123456", valid: false},
		{iccid: "893123456789", valid: false},
		{iccid: "89312345678901234X6", valid: false},
	}

	for _, tt := range tests {
		if got := IsValidICCID(tt.iccid); got != tt.valid {
			t.Fatalf("IsValidICCID(%q) = %v, want %v", tt.iccid, got, tt.valid)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.COM "); got != "user@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}
