// Package validation provides input validation middleware for the reservation API.
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
	// emailRegex validates a reasonably strict email address.
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	// currencyRegex validates a 3-letter ISO-4217 currency code.
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	// acrissRegex validates a 4-character ACRISS car classification code.
	acrissRegex = regexp.MustCompile(`^[A-Z]{4}$`)
	// phoneRegex validates an E.164-ish phone number.
	phoneRegex = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)
	// reservationCodeRegex validates a reservation confirmation code.
	reservationCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail checks if a string is a plausible email address.
func IsValidEmail(s string) bool {
	return len(s) <= 254 && emailRegex.MatchString(s)
}

// IsValidCurrency checks if a string is a 3-letter ISO-4217 currency code.
func IsValidCurrency(s string) bool {
	return currencyRegex.MatchString(s)
}

// IsValidACRISSCode checks if a string is a 4-character ACRISS car
// classification code (category, type, transmission/drive, fuel/AC).
func IsValidACRISSCode(s string) bool {
	return acrissRegex.MatchString(s)
}

// IsValidPhone checks if a string is a plausible E.164 phone number.
func IsValidPhone(s string) bool {
	return phoneRegex.MatchString(s)
}

// IsValidReservationCode checks if a string looks like a reservation
// confirmation code.
func IsValidReservationCode(s string) bool {
	return reservationCodeRegex.MatchString(s)
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

// ValidEmail checks if a field is a valid email address.
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidCurrency checks if a field is a valid ISO-4217 currency code.
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCurrency(value) {
			return &ValidationError{Field: field, Message: "must be a 3-letter ISO-4217 currency code"}
		}
		return nil
	}
}

// ValidPhone checks if a field is a valid phone number.
func ValidPhone(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidPhone(value) {
			return &ValidationError{Field: field, Message: "must be a valid phone number"}
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

// ReservationCodeParamMiddleware validates the :code URL parameter on routes
// that look up a reservation by confirmation code.
func ReservationCodeParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		if code != "" && !IsValidReservationCode(code) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_reservation_code",
				"message": "code must be 6-12 uppercase alphanumeric characters",
			})
			return
		}
		c.Next()
	}
}

// ValidAmount checks if a value is a valid decimal money amount (must be
// positive, at most two fractional digits).
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		decimalCount := 0
		fractionDigits := 0
		hasNonZero := false
		seenDecimal := false
		for i, c := range value {
			if c == '.' {
				decimalCount++
				if decimalCount > 1 {
					return &ValidationError{Field: field, Message: "invalid amount format"}
				}
				if i == 0 || i == len(value)-1 {
					return &ValidationError{Field: field, Message: "invalid amount format"}
				}
				seenDecimal = true
				continue
			}
			if c < '0' || c > '9' {
				return &ValidationError{Field: field, Message: "invalid amount format"}
			}
			if c != '0' {
				hasNonZero = true
			}
			if seenDecimal {
				fractionDigits++
			}
		}
		if fractionDigits > 2 {
			return &ValidationError{Field: field, Message: "amount must have at most 2 decimal places"}
		}
		if !hasNonZero {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}
