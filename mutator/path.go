package mutator

import "strings"

// getPath walks a dot path through nested maps.
func getPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	current := data
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}

		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}

	return nil, false
}

// setPath writes value at a dot path, creating intermediate maps as needed.
// A non-map value in the middle of the path is replaced by a map.
func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")

	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}

// unsetPath removes the value at a dot path. Missing segments are a no-op.
func unsetPath(data map[string]any, path string) {
	parts := strings.Split(path, ".")

	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return
		}
		current = next
	}

	delete(current, parts[len(parts)-1])
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}
