package tracking

import (
	"context"
	"database/sql"
	"fmt"
)

// MySQLStore backs TrackingStore with etl_copy_status on the REPLICA side
// (spec §6). Grounded on the upsert shape used for alert persistence in
// the teacher's SQLite storage adapter, retargeted to MySQL's
// `ON DUPLICATE KEY UPDATE`.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps db, which must already point at the replica database
// containing etl_copy_status.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const createCopyStatusTable = `
CREATE TABLE IF NOT EXISTS etl_copy_status (
	id                   INT AUTO_INCREMENT PRIMARY KEY,
	table_name           VARCHAR(255) NOT NULL UNIQUE,
	last_copied          TIMESTAMP NULL,
	last_primary_value   TEXT,
	primary_column_name  VARCHAR(255),
	rows_copied          INT NOT NULL DEFAULT 0,
	copy_status          VARCHAR(32) NOT NULL DEFAULT 'pending',
	created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	INDEX idx_copy_status_table_name (table_name),
	INDEX idx_copy_status_last_copied (last_copied)
)`

// EnsureSchema creates etl_copy_status if absent. Called once at startup.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createCopyStatusTable); err != nil {
		return fmt.Errorf("tracking: ensure etl_copy_status: %w", err)
	}
	return nil
}

func (s *MySQLStore) EnsureRow(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO etl_copy_status (table_name, copy_status)
VALUES (?, 'pending')
ON DUPLICATE KEY UPDATE table_name = table_name`, name)
	if err != nil {
		return fmt.Errorf("tracking: ensure row %s: %w", name, err)
	}
	return nil
}

func (s *MySQLStore) ReadProgress(ctx context.Context, name string) (Row, error) {
	var row Row
	var lastCopied sql.NullTime
	var lastPrimaryValue, primaryColumnName sql.NullString

	err := s.db.QueryRowContext(ctx, `
SELECT table_name, last_copied, last_primary_value, primary_column_name,
       rows_copied, copy_status, created_at, updated_at
FROM etl_copy_status WHERE table_name = ?`, name).Scan(
		&row.TableName, &lastCopied, &lastPrimaryValue, &primaryColumnName,
		&row.Rows, &row.Status, &row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("tracking: read progress %s: %w", name, err)
	}

	row.LastCopiedOrLoaded = lastCopied.Time
	row.LastPrimaryValue = lastPrimaryValue.String
	row.PrimaryColumnName = primaryColumnName.String
	return row, nil
}

func (s *MySQLStore) UpdateProgress(ctx context.Context, name, lastPrimaryValue, primaryColumn string, rows int64, status Status) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO etl_copy_status
	(table_name, last_copied, last_primary_value, primary_column_name, rows_copied, copy_status)
VALUES (?, NOW(), ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	last_copied = NOW(),
	last_primary_value = VALUES(last_primary_value),
	primary_column_name = VALUES(primary_column_name),
	rows_copied = VALUES(rows_copied),
	copy_status = VALUES(copy_status)`,
		name, lastPrimaryValue, primaryColumn, rows, status)
	if err != nil {
		return fmt.Errorf("tracking: update progress %s: %w", name, err)
	}
	return nil
}

func (s *MySQLStore) RowCount(ctx context.Context, name string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", name)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("tracking: row count %s: %w", name, err)
	}
	return count, nil
}
