// Package storage is the ClickHouse transport for the document store. Each
// collection is one table with the document body in a JSON column; queries
// arrive fully built, as text plus a named-parameter table.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// tablePrefix namespaces collection tables inside the database. It has to
// match the query builder's TablePrefix.
const tablePrefix = "doc_"

type Config struct {
	Addr     []string `yaml:"addr"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// Store wraps one ClickHouse connection pool.
type Store struct {
	conn driver.Conn
	cfg  Config
}

func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: s.cfg.Addr,
		Auth: clickhouse.Auth{
			Database: s.cfg.Database,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"allow_experimental_json_type": 1, // This is for supporting JSON columns
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %v", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping the database: %w", err)
	}

	s.conn = conn
	return nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection table if it doesn't exist yet.
// ReplacingMergeTree keyed on updated_at gives last-write-wins per document
// key, which is how updates are implemented (write a newer version).
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key String,
			created_at DateTime64(3),
			updated_at DateTime64(3),
			doc JSON
		)
		ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY key
	`, tablePrefix+name)

	return s.conn.Exec(ctx, query)
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	return s.conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tablePrefix+name))
}

// ListCollections returns the collection names present in the database.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT name FROM system.tables WHERE database = @db AND startsWith(name, @prefix)",
		clickhouse.Named("db", s.cfg.Database),
		clickhouse.Named("prefix", tablePrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		names = append(names, strings.TrimPrefix(table, tablePrefix))
	}

	return names, rows.Err()
}

// Doc is one document version headed for a collection table.
type Doc struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      map[string]any
}

// InsertDocs writes the documents in one batch.
func (s *Store) InsertDocs(ctx context.Context, collection string, docs ...Doc) error {
	if len(docs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (key, created_at, updated_at, doc)", tablePrefix+collection))
	if err != nil {
		return fmt.Errorf("couldn't prepare batch: %w", err)
	}

	for _, doc := range docs {
		if err := batch.Append(doc.Key, doc.CreatedAt, doc.UpdatedAt, doc.Body); err != nil {
			return fmt.Errorf("couldn't append document to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("couldn't send batch: %w", err)
	}

	return nil
}

// DeleteByKey removes one document by key (lightweight delete).
func (s *Store) DeleteByKey(ctx context.Context, collection, key string) error {
	return s.conn.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE key = @key", tablePrefix+collection),
		clickhouse.Named("key", key),
	)
}

// Row is one result row: the document key plus the selected columns as JSON
// text, keyed by column alias.
type Row struct {
	Key     string
	Columns map[string]string
}

// Select runs a built query. Every non-key column is expected to be JSON
// text (the builder wraps projections in toJSONString), so scanning stays
// uniform no matter what was projected.
func (s *Store) Select(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	rows, err := s.conn.Query(ctx, query, namedArgs(params)...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols := rows.Columns()

	var out []Row
	for rows.Next() {
		dests := make([]any, len(cols))
		values := make([]string, len(cols))
		for i := range values {
			dests[i] = &values[i]
		}

		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		row := Row{Columns: make(map[string]string, len(cols)-1)}
		for i, col := range cols {
			if col == "key" {
				row.Key = values[i]
				continue
			}
			row.Columns[col] = values[i]
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// SelectCount runs a built count query.
func (s *Store) SelectCount(ctx context.Context, query string, params map[string]any) (uint64, error) {
	row := s.conn.QueryRow(ctx, query, namedArgs(params)...)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}

	return count, nil
}

// namedArgs turns the builder's parameter table into driver named args.
func namedArgs(params map[string]any) []any {
	args := make([]any, 0, len(params))
	for name, value := range params {
		args = append(args, clickhouse.Named(name, value))
	}
	return args
}
