// Package angora is a client-side layer for a ClickHouse backed document
// store. Documents and queries are declared as JSON-like dicts; the filter
// compiler turns a filter dict into parameterized SQL before anything
// touches the wire.
package angora

import (
	"context"
	"log/slog"
	"time"

	"github.com/thisisjab/angora/filter"
	"github.com/thisisjab/angora/macro"
	"github.com/thisisjab/angora/mutator"
	"github.com/thisisjab/angora/querier"
	"github.com/thisisjab/angora/storage"
)

// Options configures a Client. Zero values fall back to sane defaults; the
// registry and macro env are created fresh when not supplied, so custom
// operators and shifter hooks can be registered on them before the first
// compile.
type Options struct {
	Storage storage.Config
	Logger  *slog.Logger

	Registry *filter.Registry
	Macros   *macro.Env

	// MutationOps extends Collection.Update with custom operations.
	MutationOps map[string]mutator.OpFunc

	MaxFilterDepth int
	DefaultLimit   int
	MaxLimit       int

	// Now is the reference clock for macro expansion. Defaults to UTC
	// wall-clock; tests inject a fixed one.
	Now func() time.Time
}

// Client is a database handle. It owns the connection pool plus the shared,
// read-only compiler collaborators; one Client serves concurrent finds.
type Client struct {
	store       *storage.Store
	logger      *slog.Logger
	registry    *filter.Registry
	macros      *macro.Env
	compiler    *filter.Compiler
	builder     *querier.Builder
	mutationOps map[string]mutator.OpFunc
	now         func() time.Time
}

// New wires a client. Connect must be called before any collection I/O.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := opts.Registry
	if registry == nil {
		registry = filter.NewRegistry()
	}

	macros := opts.Macros
	if macros == nil {
		macros = macro.NewEnv()
	}

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	compiler := filter.NewCompiler(registry, macros)
	compiler.MaxDepth = opts.MaxFilterDepth

	builder := querier.NewBuilder(querier.Options{
		DefaultLimit: opts.DefaultLimit,
		MaxLimit:     opts.MaxLimit,
	})

	return &Client{
		store:       storage.New(opts.Storage),
		logger:      logger,
		registry:    registry,
		macros:      macros,
		compiler:    compiler,
		builder:     builder,
		mutationOps: opts.MutationOps,
		now:         now,
	}
}

// Registry exposes the operator registry for custom registrations. The
// registry freezes when the first compile starts.
func (c *Client) Registry() *filter.Registry {
	return c.registry
}

// Macros exposes the macro env for custom macros and shifter hooks.
func (c *Client) Macros() *macro.Env {
	return c.macros
}

func (c *Client) Connect(ctx context.Context) error {
	return c.store.Connect(ctx)
}

func (c *Client) Close() error {
	return c.store.Close()
}

// SelectCollection returns a handle for the named collection, creating its
// table when missing.
func (c *Client) SelectCollection(ctx context.Context, name string) (*Collection, error) {
	if err := c.store.EnsureCollection(ctx, name); err != nil {
		return nil, err
	}

	c.logger.Debug("collection selected.", "collection", name)
	return &Collection{name: name, client: c}, nil
}

// DetachedCollection returns a collection handle without touching the
// store. Only Plan works on it; useful for inspecting what a filter
// compiles to before connecting.
func DetachedCollection(c *Client, name string) *Collection {
	return &Collection{name: name, client: c}
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	return c.store.ListCollections(ctx)
}

func (c *Client) DropCollection(ctx context.Context, name string) error {
	c.logger.Debug("dropping collection.", "collection", name)
	return c.store.DropCollection(ctx, name)
}
