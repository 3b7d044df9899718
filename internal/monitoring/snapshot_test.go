package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
)

type fakeStore struct {
	rows map[string]tracking.Row
}

func newFakeStore(rows map[string]tracking.Row) *fakeStore {
	return &fakeStore{rows: rows}
}

func (f *fakeStore) EnsureRow(ctx context.Context, name string) error { return nil }

func (f *fakeStore) ReadProgress(ctx context.Context, name string) (tracking.Row, error) {
	row, ok := f.rows[name]
	if !ok {
		return tracking.Row{}, tracking.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, name, lastPrimaryValue, primaryColumn string, rows int64, status tracking.Status) error {
	return nil
}

func (f *fakeStore) RowCount(ctx context.Context, name string) (int64, error) {
	return f.rows[name].Rows, nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(`
tables:
  patient:
    name: patient
    extraction_strategy: incremental
    incremental_columns: [DateTStamp]
    primary_incremental_column: DateTStamp
    incremental_strategy: single_column
    primary_key: [PatNum]
    batch_size: 500
    performance_category: medium
    estimated_size_mb: 10
  ref_tiny:
    name: ref_tiny
    extraction_strategy: full_table
    primary_key: [id]
    batch_size: 100
    performance_category: tiny
    estimated_size_mb: 0.01
`))
	require.NoError(t, err)
	return cat
}

func TestReader_Table_ReturnsBothSides(t *testing.T) {
	cat := testCatalog(t)
	now := time.Now()

	replica := newFakeStore(map[string]tracking.Row{
		"patient": {TableName: "patient", LastCopiedOrLoaded: now, Rows: 100, Status: tracking.StatusSuccess, LastPrimaryValue: "2026-01-01", PrimaryColumnName: "DateTStamp"},
	})
	analytics := newFakeStore(map[string]tracking.Row{
		"patient": {TableName: "patient", LastCopiedOrLoaded: now, Rows: 98, Status: tracking.StatusSuccess},
	})

	reader := NewReader(cat, replica, analytics)
	snap, err := reader.Table(context.Background(), "patient")
	require.NoError(t, err)

	assert.Equal(t, "patient", snap.TableName)
	assert.Equal(t, "medium", snap.Category)
	assert.True(t, snap.Copy.Present)
	assert.Equal(t, int64(100), snap.Copy.Rows)
	assert.Equal(t, "2026-01-01", snap.Copy.LastPrimaryValue)
	assert.True(t, snap.Load.Present)
	assert.Equal(t, int64(98), snap.Load.Rows)
}

func TestReader_Table_MissingTrackingRowIsNotPresentNotError(t *testing.T) {
	cat := testCatalog(t)
	replica := newFakeStore(map[string]tracking.Row{})
	analytics := newFakeStore(map[string]tracking.Row{})

	reader := NewReader(cat, replica, analytics)
	snap, err := reader.Table(context.Background(), "ref_tiny")
	require.NoError(t, err)
	assert.False(t, snap.Copy.Present)
	assert.False(t, snap.Load.Present)
}

func TestReader_Table_UnknownTableErrors(t *testing.T) {
	cat := testCatalog(t)
	reader := NewReader(cat, newFakeStore(nil), newFakeStore(nil))

	_, err := reader.Table(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestReader_All_ReturnsEverySnapshotInCatalogOrder(t *testing.T) {
	cat := testCatalog(t)
	reader := NewReader(cat, newFakeStore(nil), newFakeStore(nil))

	snapshots := reader.All(context.Background())
	assert.Len(t, snapshots, 2)

	names := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		names = append(names, s.TableName)
	}
	assert.Equal(t, []string{"patient", "ref_tiny"}, names)
}
