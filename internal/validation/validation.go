// Package validation provides input validation middleware for the Keymint API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// licenseKeyRegex validates license keys ("lic_" + 32 hex chars)
	licenseKeyRegex = regexp.MustCompile(`^lic_[a-f0-9]{32}$`)
	// apiKeyRegex validates application API keys ("app_" + 24 hex chars)
	apiKeyRegex = regexp.MustCompile(`^app_[a-f0-9]{24}$`)
	// emailRegex is a pragmatic sanity check, not a full RFC 5322 parser
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidLicenseKey checks if a string has license key shape.
func IsValidLicenseKey(key string) bool {
	return licenseKeyRegex.MatchString(key)
}

// IsValidAPIKey checks if a string has application API key shape.
func IsValidAPIKey(key string) bool {
	return apiKeyRegex.MatchString(key)
}

// IsValidEmail checks if a string looks like an email address.
func IsValidEmail(s string) bool {
	return len(s) <= 254 && emailRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// NormalizeKey trims whitespace around a license or API key. Keys are
// case-sensitive, so no case folding happens here.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidLicenseKey checks if a field is a well-formed license key
func ValidLicenseKey(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidLicenseKey(value) {
			return &ValidationError{Field: field, Message: "must be a valid license key (lic_ + 32 hex chars)"}
		}
		return nil
	}
}

// ValidEmail checks if a field is a plausible email address
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Positive checks if an integer field is greater than zero
func Positive(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// NonNegative checks if an integer field is zero or greater
func NonNegative(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// KeyParamMiddleware validates the :key URL parameter on routes that use it.
// Apply to route groups that include :key params to reject malformed license
// keys before they reach a handler.
func KeyParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if key != "" && !IsValidLicenseKey(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_key",
				"message": "key must be a valid license key (lic_ + 32 hex chars)",
			})
			return
		}
		c.Next()
	}
}
