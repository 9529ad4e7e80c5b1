package filter

import (
	"regexp"
	"strings"

	"github.com/thisisjab/angora/fault"
)

// fieldPattern constrains field paths. Field names end up inside query text
// (literals never do), so they are validated strictly.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// parseKey splits a filter dict key such as "_created_at:$lt" on the last
// ':' into a field path and an operator token. A key with no ':' defaults
// to $eq. The token is resolved against the registry by the caller.
func parseKey(key string) (field, token string, err error) {
	field = key
	token = "$eq"

	if idx := strings.LastIndexByte(key, ':'); idx >= 0 {
		field = key[:idx]
		token = key[idx+1:]
	}

	if field == "" {
		return "", "", fault.Newf(fault.InvalidFieldCode, "empty field path in key %q", key).
			WithMetadata(map[string]any{"key": key})
	}
	if !fieldPattern.MatchString(field) {
		return "", "", fault.Newf(fault.InvalidFieldCode, "malformed field path %q", field).
			WithMetadata(map[string]any{"key": key})
	}

	return field, token, nil
}
