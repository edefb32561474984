package fieldtransformer

import (
	"regexp"
	"strings"
	"time"
)

var (
	nationalIDPattern = regexp.MustCompile(`^\d{13}$`)
	isoDatePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var genderDomain = map[string]bool{"male": true, "female": true, "other": true}

// Sanitize returns a copy of doc without fields that fail basic type or format
// checks. Bad fields are dropped one by one; a section disappears only when
// nothing valid is left in it.
func Sanitize(doc Document) Document {
	out, _ := sanitizeValue("", map[string]interface{}(doc))
	m, _ := out.(map[string]interface{})
	if m == nil {
		return Document{}
	}
	return Document(m)
}

// sanitizeValue reports false when v should be omitted.
func sanitizeValue(key string, v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return sanitizeString(key, val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if clean, ok := sanitizeValue(k, child); ok {
				out[k] = clean
			}
		}
		if key != "" && len(out) == 0 {
			return nil, false
		}
		return out, true
	case Document:
		return sanitizeValue(key, map[string]interface{}(val))
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, child := range val {
			if clean, ok := sanitizeValue("", child); ok {
				out = append(out, clean)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return v, true
	}
}

func sanitizeString(key, s string) (interface{}, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}
	switch {
	case strings.Contains(key, "id_number"):
		return trimmed, nationalIDPattern.MatchString(trimmed)
	case key == "date_of_birth" || key == "dob":
		return trimmed, validISODate(trimmed)
	case key == "gender":
		lower := strings.ToLower(trimmed)
		return lower, genderDomain[lower]
	}
	return trimmed, true
}

func validISODate(s string) bool {
	if !isoDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
