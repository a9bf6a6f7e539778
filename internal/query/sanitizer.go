package query

import (
	"regexp"

	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Column names of the raw metrics table that callers may reference directly.
var allowedFields = map[string]struct{}{
	"metric_value": {},
	"tenant_id":    {},
	"workspace_id": {},
	"dimensions":   {},
	"timestamp":    {},
	"metric_type":  {},
}

var dimensionPath = regexp.MustCompile(`^dimensions->>?'[a-zA-Z0-9_-]+'$`)

// SanitizeField returns field unchanged when it is an allowed column or a
// single-level dimensions path, and an ErrInvalidField error otherwise.
func SanitizeField(field string) (string, error) {
	if _, ok := allowedFields[field]; ok {
		return field, nil
	}
	if dimensionPath.MatchString(field) {
		return field, nil
	}
	return "", utils.InvalidField("sanitize", field)
}

// IsJSONPath reports whether field is a dimensions path of the form dimensions->'k'.
func IsJSONPath(field string) bool {
	return dimensionPath.MatchString(field) && field[len("dimensions->")] != '>'
}

// IsTextPath reports whether field is a dimensions path of the form dimensions->>'k'.
func IsTextPath(field string) bool {
	return dimensionPath.MatchString(field) && field[len("dimensions->")] == '>'
}
