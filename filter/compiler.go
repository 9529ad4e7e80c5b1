package filter

import (
	"sort"
	"strconv"
	"time"

	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/macro"
)

// DefaultMaxDepth bounds filter recursion. Filters are trees (dicts cannot
// express cycles) but a pathological input should fail fast instead of
// blowing the stack.
const DefaultMaxDepth = 32

// Compiler turns a raw filter dict into a Node tree. Compilation is purely
// functional over the filter, the (frozen) registry and the reference
// clock; a Compiler can be shared by concurrent compiles.
type Compiler struct {
	Registry *Registry
	Macros   *macro.Env

	// MaxDepth overrides DefaultMaxDepth when positive.
	MaxDepth int
}

// NewCompiler wires a compiler from its two collaborators.
func NewCompiler(registry *Registry, macros *macro.Env) *Compiler {
	return &Compiler{Registry: registry, Macros: macros}
}

// Compile transforms the filter dict recursively. The first call freezes
// the registry, so all fragments produced afterwards see one consistent
// operator set. Compilation is all-or-nothing: on error no partial tree is
// returned.
//
// Sibling keys of one dict level are AND-ed together. Go maps don't carry
// insertion order, so siblings are compiled in sorted key order to keep the
// emitted query text reproducible.
func (c *Compiler) Compile(filterDict map[string]any, now time.Time) (Node, error) {
	c.Registry.freeze()
	return c.compileDict(filterDict, now, "", 0)
}

func (c *Compiler) maxDepth() int {
	if c.MaxDepth > 0 {
		return c.MaxDepth
	}
	return DefaultMaxDepth
}

func (c *Compiler) compileDict(m map[string]any, now time.Time, path string, depth int) (Node, error) {
	if depth > c.maxDepth() {
		return nil, fault.Newf(fault.FilterTooDeepCode, "filter exceeds maximum depth of %d", c.maxDepth()).
			WithMetadata(map[string]any{"path": path})
	}

	if len(m) == 0 {
		return MatchAll{}, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, key := range keys {
		keyPath := joinPath(path, key)

		var (
			child Node
			err   error
		)
		switch key {
		case "$and":
			child, err = c.compileLogical(ConnectiveAnd, m[key], now, keyPath, depth)
		case "$or":
			child, err = c.compileLogical(ConnectiveOr, m[key], now, keyPath, depth)
		default:
			child, err = c.compileComparison(key, m[key], now, keyPath)
		}
		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return Logical{Connective: ConnectiveAnd, Children: children}, nil
}

// compileLogical handles a `$and`/`$or` key. The value must be a non-empty
// array of sub-filter dicts; an empty array is ambiguous (an explicit empty
// filter is spelled {}) and is rejected.
func (c *Compiler) compileLogical(conn Connective, value any, now time.Time, path string, depth int) (Node, error) {
	subs, err := subFilters(value, path)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fault.Newf(fault.InvalidFilterCode, "%s requires at least one sub-filter", path).
			WithMetadata(map[string]any{"path": path})
	}

	children := make([]Node, 0, len(subs))
	for i, sub := range subs {
		child, err := c.compileDict(sub, now, indexPath(path, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	// A single-child group carries no connective semantics; collapse it.
	if len(children) == 1 {
		return children[0], nil
	}

	return Logical{Connective: conn, Children: children}, nil
}

func (c *Compiler) compileComparison(key string, value any, now time.Time, path string) (Node, error) {
	field, token, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	op, err := c.Registry.Resolve(token)
	if err != nil {
		return nil, err
	}

	lit, err := c.expandValue(value, now, path)
	if err != nil {
		return nil, err
	}

	switch op.Arity {
	case ArityNAry:
		if _, ok := lit.([]any); !ok {
			return nil, fault.Newf(fault.InvalidFilterCode, "%s: operator %s expects an array value", path, op.Token).
				WithMetadata(map[string]any{"path": path, "value": value})
		}
	case ArityBinary:
		if _, ok := lit.([]any); ok {
			return nil, fault.Newf(fault.InvalidFilterCode, "%s: operator %s expects a single value", path, op.Token).
				WithMetadata(map[string]any{"path": path, "value": value})
		}
	}

	return Comparison{Field: field, Op: op, Value: lit}, nil
}

// expandValue runs macro expansion over string values, element-wise for
// arrays. A dict value under a comparison key means a connective was nested
// inside a comparison, which would make precedence ambiguous; it is
// rejected outright.
func (c *Compiler) expandValue(value any, now time.Time, path string) (any, error) {
	switch v := value.(type) {
	case string:
		lit, err := c.Macros.Expand(v, now)
		if err != nil {
			return nil, attachPath(err, path)
		}
		return lit, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			lit, err := c.expandValue(item, now, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = lit
		}
		return out, nil

	case map[string]any:
		return nil, fault.Newf(fault.InvalidFilterCode, "%s: connectives cannot appear inside a comparison value", path).
			WithMetadata(map[string]any{"path": path})

	default:
		// Scalar literal (number, boolean, null); used as-is.
		return value, nil
	}
}

// subFilters normalizes the value of a logical key into a list of dicts.
// A single dict is accepted as a one-element list for compatibility with
// hand-written filters.
func subFilters(value any, path string) ([]map[string]any, error) {
	switch v := value.(type) {
	case []any:
		subs := make([]map[string]any, 0, len(v))
		for i, item := range v {
			sub, ok := item.(map[string]any)
			if !ok {
				return nil, fault.Newf(fault.InvalidFilterCode, "%s: sub-filter must be an object", indexPath(path, i)).
					WithMetadata(map[string]any{"path": indexPath(path, i)})
			}
			subs = append(subs, sub)
		}
		return subs, nil
	case []map[string]any:
		return v, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fault.Newf(fault.InvalidFilterCode, "%s must map to an array of sub-filters", path).
			WithMetadata(map[string]any{"path": path})
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// attachPath re-raises a macro fault with the tree path so the caller can
// locate the offending value.
func attachPath(err error, path string) error {
	return fault.Newf(fault.CodeOf(err), "macro expansion failed at %s", path).
		WithMetadata(map[string]any{"path": path}).
		WithOriginal(err)
}
