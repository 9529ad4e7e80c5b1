package angora

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thisisjab/angora/fault"
	"github.com/thisisjab/angora/macro"
	"github.com/thisisjab/angora/mutator"
	"github.com/thisisjab/angora/querier"
	"github.com/thisisjab/angora/storage"
	"github.com/valyala/fastjson"
)

func storageDoc(key string, createdAt, updatedAt time.Time, body map[string]any) storage.Doc {
	return storage.Doc{Key: key, CreatedAt: createdAt, UpdatedAt: updatedAt, Body: body}
}

// Document is one document body, as stored.
type Document map[string]any

// Reserved document fields, managed by the client.
const (
	FieldKey        = "_key"
	FieldCreatedAt  = "_created_at"
	FieldModifiedAt = "_modified_at"
)

// Collection is a handle on one collection. It is cheap and safe to share.
type Collection struct {
	name   string
	client *Client
}

func (col *Collection) Name() string {
	return col.name
}

// FindOption tweaks the non-filter clauses of a find.
type FindOption func(*querier.Spec)

func WithProjection(fields ...string) FindOption {
	return func(s *querier.Spec) { s.Projection = fields }
}

// WithSort takes specs like "name:desc" or "name".
func WithSort(sorts ...string) FindOption {
	return func(s *querier.Spec) { s.Sort = sorts }
}

func WithLimit(limit int) FindOption {
	return func(s *querier.Spec) { s.Limit = limit }
}

func WithOffset(offset int) FindOption {
	return func(s *querier.Spec) { s.Offset = offset }
}

func WithPage(page int) FindOption {
	return func(s *querier.Spec) { s.Page = page }
}

func findSpec(opts []FindOption) querier.Spec {
	var spec querier.Spec
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// Plan compiles and builds the query for a filter without executing it.
// Useful for tests and for logging what would hit the store.
func (col *Collection) Plan(filterDict map[string]any, opts ...FindOption) (querier.BuildResult, error) {
	return col.plan(filterDict, findSpec(opts))
}

func (col *Collection) plan(filterDict map[string]any, spec querier.Spec) (querier.BuildResult, error) {
	node, err := col.client.compiler.Compile(filterDict, col.client.now())
	if err != nil {
		return querier.BuildResult{}, err
	}

	return col.client.builder.Build(col.name, node, spec)
}

// Find compiles the filter dict, builds the query and runs it.
func (col *Collection) Find(ctx context.Context, filterDict map[string]any, opts ...FindOption) ([]Document, error) {
	spec := findSpec(opts)

	res, err := col.plan(filterDict, spec)
	if err != nil {
		return nil, err
	}

	col.client.logger.Debug("running find.", "collection", col.name, "query", res.Query)

	rows, err := col.client.store.Select(ctx, res.Query, res.Params)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeRow(row.Key, row.Columns, len(spec.Projection) == 0)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// FindOne runs Find with limit 1 and fails with a not-found fault when the
// filter matches nothing.
func (col *Collection) FindOne(ctx context.Context, filterDict map[string]any, opts ...FindOption) (Document, error) {
	docs, err := col.Find(ctx, filterDict, append(opts, WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fault.Newf(fault.NotFoundCode, "no document matches the filter in collection %q", col.name)
	}
	return docs[0], nil
}

// Count returns how many documents match the filter.
func (col *Collection) Count(ctx context.Context, filterDict map[string]any) (uint64, error) {
	node, err := col.client.compiler.Compile(filterDict, col.client.now())
	if err != nil {
		return 0, err
	}

	res, err := col.client.builder.BuildCount(col.name, node)
	if err != nil {
		return 0, err
	}

	return col.client.store.SelectCount(ctx, res.Query, res.Params)
}

// Insert writes a document and returns its key. When no key is given a
// random one is generated. The reserved fields are stamped into the body so
// they are filterable like any other field.
func (col *Collection) Insert(ctx context.Context, doc Document, key ...string) (string, error) {
	docKey := ""
	if len(key) > 0 {
		docKey = key[0]
	}
	if docKey == "" {
		docKey = uuid.NewString()
	}

	now := col.client.now()
	stamp := now.Format(macro.ISODateLayout)

	body := make(map[string]any, len(doc)+3)
	for k, v := range doc {
		body[k] = v
	}
	body[FieldKey] = docKey
	body[FieldCreatedAt] = stamp
	body[FieldModifiedAt] = stamp

	err := col.client.store.InsertDocs(ctx, col.name, storageDoc(docKey, now, now, body))
	if err != nil {
		return "", err
	}

	return docKey, nil
}

// InsertRaw validates raw JSON and inserts it. Validation uses fastjson so
// malformed payloads are rejected without a full decode.
func (col *Collection) InsertRaw(ctx context.Context, raw []byte, key ...string) (string, error) {
	parsed, err := fastjson.ParseBytes(raw)
	if err != nil {
		return "", fault.New(fault.BadInputCode, "document is not valid JSON").WithOriginal(err)
	}
	if parsed.Type() != fastjson.TypeObject {
		return "", fault.Newf(fault.BadInputCode, "document must be a JSON object, got %s", parsed.Type())
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("cannot decode document: %w", err)
	}

	return col.Insert(ctx, doc, key...)
}

// Update loads the document, applies the mutation dict and writes the new
// version back. The storage engine keeps the newest version per key.
func (col *Collection) Update(ctx context.Context, key string, mutations map[string]any) (Document, error) {
	existing, err := col.FindOne(ctx, map[string]any{FieldKey: key})
	if err != nil {
		return nil, err
	}

	now := col.client.now()

	mutated, err := mutator.Mutate(existing, mutations, now, col.client.mutationOps)
	if err != nil {
		return nil, err
	}
	mutated[FieldKey] = key
	mutated[FieldModifiedAt] = now.Format(macro.ISODateLayout)

	createdAt := now
	if stamp, ok := existing[FieldCreatedAt].(string); ok {
		if t, err := time.Parse(macro.ISODateLayout, stamp); err == nil {
			createdAt = t
		}
	}

	if err := col.client.store.InsertDocs(ctx, col.name, storageDoc(key, createdAt, now, mutated)); err != nil {
		return nil, err
	}

	return mutated, nil
}

// Delete removes a document by key.
func (col *Collection) Delete(ctx context.Context, key string) error {
	return col.client.store.DeleteByKey(ctx, col.name, key)
}

// decodeRow rebuilds a Document from the JSON text columns of a result
// row. Whole-document selects come back in the "doc" column; projections
// come back as one column per field. wholeDoc is decided by the caller
// from the projection, not from the column name, so a projected field
// that happens to be called "doc" still decodes as a field.
func decodeRow(key string, columns map[string]string, wholeDoc bool) (Document, error) {
	doc := make(Document)

	if wholeDoc {
		if err := json.Unmarshal([]byte(columns["doc"]), &doc); err != nil {
			return nil, fmt.Errorf("cannot decode document %q: %w", key, err)
		}
	} else {
		for col, raw := range columns {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("cannot decode column %q of document %q: %w", col, key, err)
			}
			doc[col] = v
		}
	}

	doc[FieldKey] = key
	return doc, nil
}
