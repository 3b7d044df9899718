package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs TrackingStore with etl_load_status in the ANALYTICS
// warehouse's `raw` schema (spec §6).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore wraps pool. schema names the warehouse schema the
// pipeline writes loaded tables into (the tracking table lives alongside
// them, e.g. "raw").
func NewPostgresStore(pool *pgxpool.Pool, schema string) *PostgresStore {
	return &PostgresStore{pool: pool, schema: schema}
}

func (s *PostgresStore) createTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.etl_load_status (
	id                   SERIAL PRIMARY KEY,
	table_name           TEXT NOT NULL UNIQUE,
	last_loaded          TIMESTAMPTZ,
	last_primary_value   TEXT,
	primary_column_name  TEXT,
	rows_loaded          INTEGER NOT NULL DEFAULT 0,
	load_status          TEXT NOT NULL DEFAULT 'pending',
	loaded_at            TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_load_status_table_name ON %s.etl_load_status (table_name);
CREATE INDEX IF NOT EXISTS idx_load_status_last_loaded ON %s.etl_load_status (last_loaded);`,
		s.schema, s.schema, s.schema)
}

// EnsureSchema creates the raw schema and etl_load_status if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema)); err != nil {
		return fmt.Errorf("tracking: ensure schema %s: %w", s.schema, err)
	}
	if _, err := s.pool.Exec(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("tracking: ensure etl_load_status: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureRow(ctx context.Context, name string) error {
	query := fmt.Sprintf(`
INSERT INTO %s.etl_load_status (table_name, load_status)
VALUES ($1, 'pending')
ON CONFLICT (table_name) DO NOTHING`, s.schema)
	if _, err := s.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("tracking: ensure row %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) ReadProgress(ctx context.Context, name string) (Row, error) {
	query := fmt.Sprintf(`
SELECT table_name, last_loaded, last_primary_value, primary_column_name,
       rows_loaded, load_status, created_at, updated_at
FROM %s.etl_load_status WHERE table_name = $1`, s.schema)

	var row Row
	var lastLoaded *time.Time
	var lastPrimaryValue, primaryColumnName *string

	err := s.pool.QueryRow(ctx, query, name).Scan(
		&row.TableName, &lastLoaded, &lastPrimaryValue, &primaryColumnName,
		&row.Rows, &row.Status, &row.CreatedAt, &row.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("tracking: read progress %s: %w", name, err)
	}

	if lastLoaded != nil {
		row.LastCopiedOrLoaded = *lastLoaded
	}
	if lastPrimaryValue != nil {
		row.LastPrimaryValue = *lastPrimaryValue
	}
	if primaryColumnName != nil {
		row.PrimaryColumnName = *primaryColumnName
	}
	return row, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, name, lastPrimaryValue, primaryColumn string, rows int64, status Status) error {
	query := fmt.Sprintf(`
INSERT INTO %s.etl_load_status
	(table_name, last_loaded, last_primary_value, primary_column_name, rows_loaded, load_status, loaded_at)
VALUES ($1, now(), $2, $3, $4, $5, now())
ON CONFLICT (table_name) DO UPDATE SET
	last_loaded = EXCLUDED.last_loaded,
	last_primary_value = EXCLUDED.last_primary_value,
	primary_column_name = EXCLUDED.primary_column_name,
	rows_loaded = EXCLUDED.rows_loaded,
	load_status = EXCLUDED.load_status,
	loaded_at = EXCLUDED.loaded_at,
	updated_at = now()`, s.schema)

	if _, err := s.pool.Exec(ctx, query, name, lastPrimaryValue, primaryColumn, rows, status); err != nil {
		return fmt.Errorf("tracking: update progress %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) RowCount(ctx context.Context, name string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s`, s.schema, pgQuoteIdent(name))
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("tracking: row count %s: %w", name, err)
	}
	return count, nil
}

// pgQuoteIdent wraps a table name in double quotes for use as an
// identifier in a dynamically built query. Table names come from the
// table catalog, never from external input.
func pgQuoteIdent(name string) string {
	return `"` + name + `"`
}
