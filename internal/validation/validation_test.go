package validation

import (
	"testing"
)

func TestIsValidLicenseKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"lic_0123456789abcdef0123456789abcdef", true},
		{"lic_ffffffffffffffffffffffffffffffff", true},

		// Invalid cases
		{"0123456789abcdef0123456789abcdef", false},       // No prefix
		{"lic_0123456789abcdef0123456789abcde", false},    // Too short
		{"lic_0123456789abcdef0123456789abcdef00", false}, // Too long
		{"lic_0123456789ABCDEF0123456789ABCDEF", false},   // Uppercase hex
		{"app_0123456789abcdef0123456789abcdef", false},   // Wrong prefix
		{"lic_0123456789abcdefg123456789abcdef", false},   // Invalid chars
		{"", false},
		{"lic_", false},
	}

	for _, tc := range tests {
		result := IsValidLicenseKey(tc.key)
		if result != tc.valid {
			t.Errorf("IsValidLicenseKey(%q) = %v, want %v", tc.key, result, tc.valid)
		}
	}
}

func TestIsValidAPIKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"app_0123456789abcdef01234567", true},
		{"app_0123456789abcdef0123456", false},   // Too short
		{"app_0123456789abcdef012345678", false}, // Too long
		{"sk_0123456789abcdef01234567", false},   // Wrong prefix
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidAPIKey(tc.key)
		if result != tc.valid {
			t.Errorf("IsValidAPIKey(%q) = %v, want %v", tc.key, result, tc.valid)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"vendor@example.com", true},
		{"a@b.co", true},
		{"first.last+tag@sub.example.com", true},

		{"not-an-email", false},
		{"@example.com", false},
		{"vendor@", false},
		{"vendor@example", false}, // No TLD
		{"two words@example.com", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidEmail(tc.email)
		if result != tc.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tc.email, result, tc.valid)
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

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("  lic_0123456789abcdef0123456789abcdef "); got != "lic_0123456789abcdef0123456789abcdef" {
		t.Errorf("NormalizeKey trimmed to %q", got)
	}
	// Case must be preserved; keys are case-sensitive
	if got := NormalizeKey("LIC_ABC"); got != "LIC_ABC" {
		t.Errorf("NormalizeKey changed case: %q", got)
	}
}

func TestValidate(t *testing.T) {
	// Valid input produces no errors
	errors := Validate(
		Required("name", "Acme"),
		ValidLicenseKey("key", "lic_0123456789abcdef0123456789abcdef"),
		ValidEmail("email", "vendor@example.com"),
		NonNegative("maxUses", 0),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Each failing validator contributes one error
	errors = Validate(
		Required("name", "  "),
		ValidLicenseKey("key", "bogus"),
		Positive("amount", 0),
	)
	if len(errors) != 3 {
		t.Fatalf("Expected 3 errors, got %d: %v", len(errors), errors)
	}
	if errors[0].Field != "name" {
		t.Errorf("First error field = %q, want name", errors[0].Field)
	}

	// Optional validators skip empty values
	errors = Validate(
		ValidLicenseKey("key", ""),
		ValidEmail("email", ""),
	)
	if len(errors) != 0 {
		t.Errorf("Optional validators should skip empty values, got %v", errors)
	}
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("Empty errors message = %q", empty.Error())
	}

	errs := ValidationErrors{{Field: "key", Message: "is required"}}
	if errs.Error() != "key: is required" {
		t.Errorf("Error() = %q", errs.Error())
	}
}
