// internal/common/validation/rules.go
package validation

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	emailPattern       = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	phonePattern       = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	schoolPhonePattern = regexp.MustCompile(`^\+27\s?\(?(0)?\)?\s?\d{2}\s?\d{3}\s?\d{4}$`)
	nationalIDPattern  = regexp.MustCompile(`^\d{13}$`)
)

// Blank reports whether s is empty after trimming.
func Blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// MinLength reports whether trimmed s has at least n characters.
func MinLength(s string, n int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) >= n
}

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(strings.TrimSpace(phone))
}

// ValidateSchoolPhone accepts South African numbers in +27 form.
func ValidateSchoolPhone(phone string) bool {
	return schoolPhonePattern.MatchString(strings.TrimSpace(phone))
}

// ValidateNationalID accepts 13-digit identity numbers.
func ValidateNationalID(id string) bool {
	return nationalIDPattern.MatchString(strings.TrimSpace(id))
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	return t, err == nil
}

// FieldErrors collects field → message pairs, keeping the first message per field.
type FieldErrors map[string]string

func (fe FieldErrors) Add(field, message string) {
	if _, exists := fe[field]; !exists {
		fe[field] = message
	}
}

// Require records message when value is blank and reports whether it was present.
func (fe FieldErrors) Require(field, value, message string) bool {
	if Blank(value) {
		fe.Add(field, message)
		return false
	}
	return true
}
