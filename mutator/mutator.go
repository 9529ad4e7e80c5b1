// Package mutator applies declarative mutation dicts to documents. A
// mutation key is a dot path with an optional operator suffix, mirroring
// the filter key syntax:
//
//	{
//	    "name": "sam",                  // $set is the default
//	    "visits:$incr": 1,
//	    "tags:$xadd": "vip",
//	    "deleted_at:$unset": true,
//	    "last_seen:$currdate": "+2Hours",
//	    "session_id:$uuid4": true,
//	}
//
// Mutations never touch the input document; the mutated copy is returned.
package mutator

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/macro"
)

// OpFunc implements a custom mutation operation. data is the working copy
// of the document; path and value come from the mutation entry.
type OpFunc func(data map[string]any, path string, value any) error

// Mutate applies mutations to a copy of init, in sorted key order for
// determinism. The reference clock feeds $currdate, injected for the same
// testability reason as in the filter compiler.
func Mutate(init, mutations map[string]any, now time.Time, custom map[string]OpFunc) (map[string]any, error) {
	data := deepCopyMap(init)
	if data == nil {
		data = make(map[string]any)
	}

	keys := make([]string, 0, len(mutations))
	for k := range mutations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path, op := splitOp(key)
		if path == "" {
			return nil, fault.Newf(fault.BadInputCode, "empty path in mutation key %q", key)
		}

		if err := applyOp(data, op, path, mutations[key], now, custom); err != nil {
			return nil, err
		}
	}

	return data, nil
}

// splitOp splits "some.path:$op" into the path and the bare operation name.
// No suffix means $set.
func splitOp(key string) (path, op string) {
	idx := strings.LastIndex(key, ":$")
	if idx < 0 {
		return key, "set"
	}
	return key[:idx], key[idx+2:]
}

func applyOp(data map[string]any, op, path string, value any, now time.Time, custom map[string]OpFunc) error {
	switch op {
	case "set":
		setPath(data, path, deepCopy(value))
		return nil

	case "incr":
		return incrPath(data, path, value, 1)

	case "decr":
		return incrPath(data, path, value, -1)

	case "unset":
		unsetPath(data, path)
		return nil

	case "currdate", "datetime", "timestamp":
		t := now
		if stmt, ok := value.(string); ok && stmt != "" {
			shifts, err := macro.ParseShifts(stmt)
			if err != nil {
				return fault.Newf(fault.BadInputCode, "mutation %s:$%s: malformed shift %q", path, op, stmt).
					WithOriginal(err)
			}
			t = macro.ApplyShifts(t, shifts)
		}
		setPath(data, path, t.Format(macro.ISODateLayout))
		return nil

	case "uuid4":
		setPath(data, path, uuid.NewString())
		return nil

	case "xadd":
		list := listAt(data, path)
		if !containsValue(list, value) {
			setPath(data, path, append(list, deepCopy(value)))
		}
		return nil

	case "xrem":
		list := listAt(data, path)
		out := make([]any, 0, len(list))
		for _, item := range list {
			if !reflect.DeepEqual(item, value) {
				out = append(out, item)
			}
		}
		setPath(data, path, out)
		return nil

	case "xpush":
		setPath(data, path, append(listAt(data, path), deepCopy(value)))
		return nil

	case "xpop":
		list := listAt(data, path)
		if len(list) > 0 {
			setPath(data, path, list[:len(list)-1])
		}
		return nil

	default:
		if fn, ok := custom[op]; ok {
			return fn(data, path, value)
		}
		return fault.Newf(fault.BadInputCode, "unknown mutation operator $%s", op).
			WithMetadata(map[string]any{"path": path})
	}
}

func incrPath(data map[string]any, path string, value any, sign float64) error {
	amount := 1.0
	switch v := value.(type) {
	case bool:
		// true means "by one"
	case int:
		amount = float64(v)
	case int64:
		amount = float64(v)
	case float64:
		amount = v
	default:
		return fault.Newf(fault.BadInputCode, "mutation %s: increment amount must be numeric, got %T", path, value)
	}

	current := 0.0
	if existing, ok := getPath(data, path); ok {
		switch v := existing.(type) {
		case int:
			current = float64(v)
		case int64:
			current = float64(v)
		case float64:
			current = v
		default:
			return fault.Newf(fault.BadInputCode, "mutation %s: existing value is not numeric", path)
		}
	}

	setPath(data, path, current+sign*amount)
	return nil
}

// listAt returns the list at path, or an empty one if the path is unset or
// holds a non-list.
func listAt(data map[string]any, path string) []any {
	if v, ok := getPath(data, path); ok {
		if list, ok := v.([]any); ok {
			return list
		}
	}
	return nil
}

func containsValue(list []any, value any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, value) {
			return true
		}
	}
	return false
}
