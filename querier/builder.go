// Package querier serializes compiled filter trees into ClickHouse SQL.
// Literals are never inlined; every one becomes a named bind parameter so
// the driver handles type-correct encoding and injection is impossible by
// construction.
package querier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/filter"
)

const (
	// DefaultLimit is applied when a query doesn't ask for a limit.
	DefaultLimit = 10
	// DefaultMaxLimit caps any requested limit.
	DefaultMaxLimit = 100
)

var (
	// collectionPattern constrains collection names, which end up inside
	// query text as table references.
	collectionPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

	// fieldExprPattern re-validates field and sort names at build time.
	// The compiler already rejects malformed fields, but the builder is
	// also reachable with hand-built trees.
	fieldExprPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

// Options holds configuration for the query builder.
type Options struct {
	// TablePrefix is prepended to collection names to form table names.
	// Defaults to "doc_".
	TablePrefix string

	// DocColumn is the JSON column holding the document body. Defaults to
	// "doc".
	DocColumn string

	// KeyColumn is the column holding the document key. Defaults to "key".
	KeyColumn string

	// DefaultLimit and MaxLimit control LIMIT handling. Zero values fall
	// back to the package defaults.
	DefaultLimit int
	MaxLimit     int
}

// Builder builds SELECT queries for one store dialect from compiled filter
// trees. It is stateless and safe for concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder creates a builder, filling unset options with defaults.
func NewBuilder(opts Options) *Builder {
	if opts.TablePrefix == "" {
		opts.TablePrefix = "doc_"
	}
	if opts.DocColumn == "" {
		opts.DocColumn = "doc"
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = "key"
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	return &Builder{opts: opts}
}

// Spec carries the non-filter clauses of a find.
type Spec struct {
	// Projection lists document fields to return. Empty means the whole
	// document.
	Projection []string

	// Sort entries look like "name:desc" or just "name" (ascending).
	Sort []string

	// Limit, Offset and Page control pagination. When Offset is zero and
	// Page is greater than one, the offset is computed from the page.
	Limit  int
	Offset int
	Page   int
}

// BuildResult holds the generated query text and its bind parameters.
type BuildResult struct {
	Query  string
	Params map[string]any
}

// Build serializes node into a full SELECT against the given collection.
func (b *Builder) Build(collection string, node filter.Node, spec Spec) (BuildResult, error) {
	table, err := b.tableFor(collection)
	if err != nil {
		return BuildResult{}, err
	}

	ps := newParamSet()

	where, err := b.walkNode(node, ps)
	if err != nil {
		return BuildResult{}, err
	}

	selectCols, err := b.projectionColumns(spec.Projection)
	if err != nil {
		return BuildResult{}, err
	}

	orderBy, err := b.orderByClause(spec.Sort)
	if err != nil {
		return BuildResult{}, err
	}

	limit, offset := b.limitOffset(spec)
	ps.set("limit", limit)
	ps.set("offset", offset)

	// FINAL collapses ReplacingMergeTree versions at read time, so a find
	// right after an update sees only the newest document per key.
	query := fmt.Sprintf(
		"SELECT %s FROM %s FINAL WHERE %s%s LIMIT @limit OFFSET @offset",
		selectCols,
		table,
		where,
		orderBy,
	)

	return BuildResult{Query: query, Params: ps.params}, nil
}

// BuildCount serializes node into a count query against the collection.
func (b *Builder) BuildCount(collection string, node filter.Node) (BuildResult, error) {
	table, err := b.tableFor(collection)
	if err != nil {
		return BuildResult{}, err
	}

	ps := newParamSet()
	where, err := b.walkNode(node, ps)
	if err != nil {
		return BuildResult{}, err
	}

	query := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE %s", table, where)
	return BuildResult{Query: query, Params: ps.params}, nil
}

func (b *Builder) tableFor(collection string) (string, error) {
	if !collectionPattern.MatchString(collection) {
		return "", fault.Newf(fault.BadInputCode, "invalid collection name %q", collection)
	}
	return b.opts.TablePrefix + collection, nil
}

// walkNode recursively serializes the filter tree. Logical groups are fully
// parenthesized so the database evaluates precedence exactly as compiled.
func (b *Builder) walkNode(node filter.Node, ps *paramSet) (string, error) {
	switch n := node.(type) {
	case filter.MatchAll:
		return "1 = 1", nil

	case filter.Logical:
		if len(n.Children) == 0 {
			return "", fault.New(fault.InvalidFilterCode, "logical node without children")
		}

		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			part, err := b.walkNode(child, ps)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return "(" + strings.Join(parts, " "+string(n.Connective)+" ") + ")", nil

	case filter.Comparison:
		return b.formatComparison(n, ps)

	default:
		return "", fault.Newf(fault.InvalidFilterCode, "unknown filter node type: %T", node)
	}
}

func (b *Builder) formatComparison(n filter.Comparison, ps *paramSet) (string, error) {
	if !fieldExprPattern.MatchString(n.Field) {
		return "", fault.Newf(fault.InvalidFieldCode, "malformed field path %q", n.Field)
	}
	if n.Op.Translate == nil {
		return "", fault.Newf(fault.InvalidFilterCode, "operator %q has no translation", n.Op.Token)
	}

	param := ps.add(n.Field, n.Value)
	return n.Op.Translate(b.opts.DocColumn+"."+n.Field, param), nil
}

// projectionColumns renders the SELECT list. Document values are pulled out
// as JSON text so the scan side stays uniform across projections.
func (b *Builder) projectionColumns(projection []string) (string, error) {
	if len(projection) == 0 {
		return fmt.Sprintf("%s, toJSONString(%s) AS %s", b.opts.KeyColumn, b.opts.DocColumn, b.opts.DocColumn), nil
	}

	cols := []string{b.opts.KeyColumn}
	for _, field := range projection {
		if !fieldExprPattern.MatchString(field) {
			return "", fault.Newf(fault.InvalidFieldCode, "malformed projection field %q", field)
		}
		alias := strings.ReplaceAll(field, ".", "_")
		cols = append(cols, fmt.Sprintf("toJSONString(%s.%s) AS %s", b.opts.DocColumn, field, alias))
	}

	return strings.Join(cols, ", "), nil
}

// orderByClause renders sort specs of the form "field:desc" / "field".
func (b *Builder) orderByClause(sorts []string) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		field := s
		direction := "ASC"

		if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
			field = s[:idx]
			switch strings.ToLower(s[idx+1:]) {
			case "asc":
			case "desc":
				direction = "DESC"
			default:
				return "", fault.Newf(fault.BadInputCode, "invalid sort direction in %q", s)
			}
		}

		if !fieldExprPattern.MatchString(field) {
			return "", fault.Newf(fault.InvalidFieldCode, "malformed sort field %q", field)
		}

		parts = append(parts, fmt.Sprintf("%s.%s %s", b.opts.DocColumn, field, direction))
	}

	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// limitOffset applies the default and maximum limit, computing the offset
// from the page number when no explicit offset is given.
func (b *Builder) limitOffset(spec Spec) (limit, offset int) {
	limit = spec.Limit
	if limit <= 0 {
		limit = b.opts.DefaultLimit
	}
	if limit > b.opts.MaxLimit {
		limit = b.opts.MaxLimit
	}

	offset = spec.Offset
	if offset <= 0 && spec.Page > 1 {
		offset = (spec.Page - 1) * limit
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
