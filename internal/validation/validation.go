// Package validation provides input validation middleware and helpers
// for the riskgate API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxNoteLength caps free-text transfer notes.
const MaxNoteLength = 256

var (
	// accountNumberRegex validates 8-12 digit account numbers
	accountNumberRegex = regexp.MustCompile(`^[0-9]{8,12}$`)
	// bankCodeRegex validates short alphanumeric bank codes
	bankCodeRegex = regexp.MustCompile(`^[A-Z0-9]{3,11}$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountNumber checks that a string is a plausible account number.
func IsValidAccountNumber(s string) bool {
	return accountNumberRegex.MatchString(s)
}

// IsValidBankCode checks that a string is a plausible bank code.
func IsValidBankCode(s string) bool {
	return bankCodeRegex.MatchString(strings.ToUpper(s))
}

// SanitizeString trims whitespace, strips null bytes, and caps length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a single field failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs field validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAccountNumber checks that a field is a well-formed account number.
func ValidAccountNumber(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAccountNumber(value) {
			return &ValidationError{Field: field, Message: "must be an 8-12 digit account number"}
		}
		return nil
	}
}

// ValidBankCode checks that a field is a well-formed bank code.
func ValidBankCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidBankCode(value) {
			return &ValidationError{Field: field, Message: "must be a 3-11 character alphanumeric bank code"}
		}
		return nil
	}
}

// MaxLength checks that a field fits within max bytes.
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// TransferIDParamMiddleware validates the :id URL parameter on transfer
// routes, rejecting malformed IDs before any store lookup.
func TransferIDParamMiddleware() gin.HandlerFunc {
	idPattern := regexp.MustCompile(`^tr_[a-f0-9]{24}$`)
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !idPattern.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transfer_id",
				"message": "transfer id must look like tr_ followed by 24 hex chars",
			})
			return
		}
		c.Next()
	}
}
