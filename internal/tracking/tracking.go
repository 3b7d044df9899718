// Package tracking implements TrackingStore (spec §4.3): per-table,
// per-side progress rows backed by etl_copy_status (REPLICA, MySQL-family)
// and etl_load_status (ANALYTICS, Postgres-family `raw` schema).
package tracking

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a tracking row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Row is one tracking entry for a table on one side (replica or warehouse).
type Row struct {
	TableName          string
	LastCopiedOrLoaded time.Time
	LastPrimaryValue   string
	PrimaryColumnName  string
	Rows               int64
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store is the contract every side-specific tracking implementation
// satisfies. A single Store instance tracks one side (replica or
// analytics); the runner holds one of each.
type Store interface {
	// EnsureRow creates a pending row for name if one does not already
	// exist. Idempotent.
	EnsureRow(ctx context.Context, name string) error

	// ReadProgress returns the current tracking row for name. Returns
	// ErrNotFound if EnsureRow was never called for name.
	ReadProgress(ctx context.Context, name string) (Row, error)

	// UpdateProgress upserts progress for name in a single statement.
	// lastPrimaryValue empty clears the stored cutoff (full_table success).
	UpdateProgress(ctx context.Context, name, lastPrimaryValue, primaryColumn string, rows int64, status Status) error

	// RowCount returns the current row count of name on this side,
	// independent of the tracking table itself.
	RowCount(ctx context.Context, name string) (int64, error)
}

// ErrNotFound is returned by ReadProgress when no row exists for the table.
var ErrNotFound = errors.New("tracking: row not found")
