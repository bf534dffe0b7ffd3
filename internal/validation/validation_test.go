package validation

import (
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"jane@example.com", true},
		{"jane.doe+rental@example.co.uk", true},
		{"", false},
		{"not-an-email", false},
		{"jane@", false},
		{"@example.com", false},
	}

	for _, tc := range tests {
		result := IsValidEmail(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"USD", true},
		{"EUR", true},
		{"usd", false},
		{"US", false},
		{"USDD", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidCurrency(tc.code)
		if result != tc.valid {
			t.Errorf("IsValidCurrency(%q) = %v, want %v", tc.code, result, tc.valid)
		}
	}
}

func TestIsValidACRISSCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"ECMR", true},
		{"ec", false},
		{"ECM", false},
		{"ECMRX", false},
	}

	for _, tc := range tests {
		result := IsValidACRISSCode(tc.code)
		if result != tc.valid {
			t.Errorf("IsValidACRISSCode(%q) = %v, want %v", tc.code, result, tc.valid)
		}
	}
}

func TestIsValidReservationCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"AB12CD", true},
		{"XYZ123456789", true},
		{"ab12cd", false},
		{"AB1", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidReservationCode(tc.code)
		if result != tc.valid {
			t.Errorf("IsValidReservationCode(%q) = %v, want %v", tc.code, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "Jane"),
		ValidEmail("email", "jane@example.com"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidEmail("email", "not-an-email"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},

		// Invalid
		{".50", false},
		{"1.", false},
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
		{"1.005", false}, // too many fraction digits for money
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
