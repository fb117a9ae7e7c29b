// Package postgres upserts records into PostgreSQL. Batches land via
// INSERT ... ON CONFLICT DO UPDATE keyed on the configured primary-key
// columns, which is what makes replayed batches after a crash
// idempotent instead of duplicated.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/models"
	"github.com/flowsync-io/flowsync/pkg/registry"
	sinkpkg "github.com/flowsync-io/flowsync/pkg/sink"
)

func init() {
	registry.RegisterSink("postgres", func(cfg config.DestinationConfig, logger *zap.Logger) (sinkpkg.Sink, error) {
		return New(context.Background(), cfg.DSN, cfg.KeyColumns, logger)
	})
}

// Sink writes record batches to PostgreSQL through a pgx pool
type Sink struct {
	pool       *pgxpool.Pool
	keyColumns []string
	logger     *zap.Logger
}

// New connects to the destination database
func New(ctx context.Context, dsn string, keyColumns []string, logger *zap.Logger) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to connect to destination database")
	}

	return &Sink{
		pool:       pool,
		keyColumns: keyColumns,
		logger:     logger.With(zap.String("sink", "postgres")),
	}, nil
}

// Upsert inserts or replaces whole records by primary key
func (s *Sink) Upsert(ctx context.Context, table string, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	columns := unionColumns(records)
	if len(columns) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgx.Identifier{table}.Sanitize())
	sb.WriteString(" (")
	sb.WriteString(joinIdentifiers(columns))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*len(columns))
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			v, _ := rec.Get(col)
			args = append(args, v)
		}
		sb.WriteString(")")
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(joinIdentifiers(s.keyColumns))
	sb.WriteString(") DO UPDATE SET ")
	first := true
	for _, col := range columns {
		if contains(s.keyColumns, col) {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		ident := pgx.Identifier{col}.Sanitize()
		sb.WriteString(ident)
		sb.WriteString(" = EXCLUDED.")
		sb.WriteString(ident)
	}
	if first {
		// All columns are key columns; nothing to update
		sb.Reset()
		return s.upsertKeysOnly(ctx, table, columns, records)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "upsert failed").
			WithDetail("table", table).
			WithDetail("records", len(records))
	}
	return nil
}

// upsertKeysOnly handles the degenerate all-key-columns case
func (s *Sink) upsertKeysOnly(ctx context.Context, table string, columns []string, records []*models.Record) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgx.Identifier{table}.Sanitize())
	sb.WriteString(" (")
	sb.WriteString(joinIdentifiers(columns))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(records)*len(columns))
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			v, _ := rec.Get(col)
			args = append(args, v)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(joinIdentifiers(s.keyColumns))
	sb.WriteString(") DO NOTHING")

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "upsert failed").WithDetail("table", table)
	}
	return nil
}

// Update applies partial records to existing rows by primary key
func (s *Sink) Update(ctx context.Context, table string, records []*models.Record) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		cols := rec.Columns()
		var sb strings.Builder
		args := make([]interface{}, 0, len(cols))

		sb.WriteString("UPDATE ")
		sb.WriteString(pgx.Identifier{table}.Sanitize())
		sb.WriteString(" SET ")
		first := true
		for _, col := range cols {
			if contains(s.keyColumns, col) {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			first = false
			v, _ := rec.Get(col)
			args = append(args, v)
			fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{col}.Sanitize(), len(args))
		}
		if first {
			continue
		}
		sb.WriteString(" WHERE ")
		for i, key := range s.keyColumns {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			v, _ := rec.Get(key)
			args = append(args, v)
			fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{key}.Sanitize(), len(args))
		}
		batch.Queue(sb.String(), args...)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "update batch failed").WithDetail("table", table)
	}
	return nil
}

// Delete removes rows matching the given key values
func (s *Sink) Delete(ctx context.Context, table string, keys []map[string]interface{}) error {
	batch := &pgx.Batch{}
	for _, key := range keys {
		var sb strings.Builder
		args := make([]interface{}, 0, len(key))

		sb.WriteString("DELETE FROM ")
		sb.WriteString(pgx.Identifier{table}.Sanitize())
		sb.WriteString(" WHERE ")
		first := true
		for col, v := range key {
			if !first {
				sb.WriteString(" AND ")
			}
			first = false
			args = append(args, v)
			fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{col}.Sanitize(), len(args))
		}
		if first {
			continue
		}
		batch.Queue(sb.String(), args...)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "delete batch failed").WithDetail("table", table)
	}
	return nil
}

// Flush is a no-op; writes are not buffered client-side
func (s *Sink) Flush(_ context.Context) error {
	return nil
}

// Close releases the connection pool
func (s *Sink) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// unionColumns collects every column seen across the batch, sorted
func unionColumns(records []*models.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for col := range rec.Data {
			seen[col] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	// deterministic statement shape helps the server's plan cache
	sort.Strings(columns)
	return columns
}

func joinIdentifiers(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(parts, ", ")
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
