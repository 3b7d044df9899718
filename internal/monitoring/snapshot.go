// Package monitoring implements the snapshot reader interface the core
// exposes to monitoring collaborators (spec §6): per-table row counts,
// status, cutoffs and last-updated timestamps read from the tracking
// tables, with an HTTP surface over it. Snapshots carry no durations;
// phase durations exist only as the Prometheus histograms that Server
// exposes on /metrics (a supplemented feature — the original
// system drove an operational dashboard from these same tracking reads).
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
)

// SideSnapshot is one tracking row, read-only, for one side of one table.
type SideSnapshot struct {
	LastUpdated      time.Time `json:"last_updated,omitempty"`
	Rows             int64     `json:"rows"`
	Status           string    `json:"status"`
	PrimaryColumn    string    `json:"primary_column,omitempty"`
	LastPrimaryValue string    `json:"last_primary_value,omitempty"`
	Present          bool      `json:"present"`
}

// TableSnapshot is the per-table monitoring view: progress on both the
// REPLICA (copy) side and the ANALYTICS (load) side.
type TableSnapshot struct {
	TableName string       `json:"table_name"`
	Category  string       `json:"performance_category"`
	Copy      SideSnapshot `json:"copy"`
	Load      SideSnapshot `json:"load"`
}

// Reader answers snapshot queries by reading both tracking stores; it owns
// no state of its own and never mutates a tracking row.
type Reader struct {
	catalog           *catalog.Catalog
	replicaTracking   tracking.Store
	analyticsTracking tracking.Store
}

// NewReader builds a Reader over the catalog and the two tracking stores
// the Extractor and Loader already write through.
func NewReader(cat *catalog.Catalog, replicaTracking, analyticsTracking tracking.Store) *Reader {
	return &Reader{catalog: cat, replicaTracking: replicaTracking, analyticsTracking: analyticsTracking}
}

// Table returns the snapshot for one table. ErrUnknownTable if the catalog
// has no entry by that name.
func (r *Reader) Table(ctx context.Context, name string) (TableSnapshot, error) {
	spec, err := r.catalog.Get(name)
	if err != nil {
		return TableSnapshot{}, fmt.Errorf("monitoring: %w", ErrUnknownTable)
	}

	snap := TableSnapshot{TableName: name, Category: string(spec.PerformanceCategory)}
	snap.Copy = sideSnapshotFor(ctx, r.replicaTracking, name)
	snap.Load = sideSnapshotFor(ctx, r.analyticsTracking, name)
	return snap, nil
}

// All returns snapshots for every table in the catalog, in catalog order.
func (r *Reader) All(ctx context.Context) []TableSnapshot {
	names := r.catalog.List()
	snapshots := make([]TableSnapshot, 0, len(names))
	for _, name := range names {
		snap, err := r.Table(ctx, name)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func sideSnapshotFor(ctx context.Context, store tracking.Store, name string) SideSnapshot {
	row, err := store.ReadProgress(ctx, name)
	if err != nil {
		return SideSnapshot{}
	}
	return SideSnapshot{
		LastUpdated:      row.LastCopiedOrLoaded,
		Rows:             row.Rows,
		Status:           string(row.Status),
		PrimaryColumn:    row.PrimaryColumnName,
		LastPrimaryValue: row.LastPrimaryValue,
		Present:          true,
	}
}
