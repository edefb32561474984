// internal/engine/field-transformer/transformer.go
package fieldtransformer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"enrollment-sync/internal/models"
)

var ErrTransformFailed = errors.New("TRANSFORM_FAILED")

// Document is the remote (snake_case) representation exchanged with the backend.
type Document map[string]interface{}

// Internal identifiers whose remote name is not the mechanical snake_case form.
var aliases = map[string]string{
	"dob": "date_of_birth",
}

var reverseAliases = func() map[string]string {
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[v] = k
	}
	return out
}()

// Internal identifiers of date-valued and enum-valued fields.
var (
	dateFields = map[string]bool{"dob": true}
	enumFields = map[string]bool{"gender": true}
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Forward converts a record into the remote representation.
func Forward(rec models.ApplicationRecord) (Document, error) {
	generic, err := toGeneric(rec)
	if err != nil {
		return nil, err
	}
	out, _ := convert(generic, true).(map[string]interface{})
	return Document(out), nil
}

// ForwardSection converts one section of rec. It returns nil when the section is absent.
func ForwardSection(rec models.ApplicationRecord, section models.SectionName) (Document, error) {
	doc, err := Forward(rec.Only(section))
	if err != nil {
		return nil, err
	}
	switch v := doc[ToRemoteKey(string(section))].(type) {
	case map[string]interface{}:
		return Document(v), nil
	case []interface{}:
		return Document{ToRemoteKey(string(section)): v}, nil
	}
	return nil, nil
}

// Inverse converts a remote document back into a record. Unknown remote fields are ignored.
func Inverse(doc Document) (models.ApplicationRecord, error) {
	var rec models.ApplicationRecord
	if doc == nil {
		return rec, nil
	}
	internal := convert(map[string]interface{}(doc), false)

	raw, err := json.Marshal(internal)
	if err != nil {
		return rec, fmt.Errorf("%w: encode: %v", ErrTransformFailed, err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("%w: decode: %v", ErrTransformFailed, err)
	}
	return rec, nil
}

func toGeneric(rec models.ApplicationRecord) (map[string]interface{}, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrTransformFailed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTransformFailed, err)
	}
	return generic, nil
}

// convert renames keys recursively and applies the date and enum normalization.
// Rules are keyed by internal identifier, which is the source key when forward.
func convert(v interface{}, forward bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			newKey, internal := ToRemoteKey(k), k
			if !forward {
				newKey = ToInternalKey(k)
				internal = newKey
			}
			out[newKey] = normalizeValue(internal, convert(child, forward))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = convert(child, forward)
		}
		return out
	default:
		return v
	}
}

func normalizeValue(internal string, v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch {
	case dateFields[internal]:
		return NormalizeDate(s)
	case enumFields[internal]:
		return strings.ToLower(strings.TrimSpace(s))
	}
	return v
}

// NormalizeDate renders a date or timestamp as YYYY-MM-DD. Unparseable input is returned unchanged.
func NormalizeDate(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// ToRemoteKey maps an internal camelCase identifier to its snake_case remote name.
func ToRemoteKey(key string) string {
	if alias, ok := aliases[key]; ok {
		return alias
	}
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToInternalKey maps a snake_case remote name to its internal camelCase identifier.
func ToInternalKey(key string) string {
	if alias, ok := reverseAliases[key]; ok {
		return alias
	}
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
