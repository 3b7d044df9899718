package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/extractor"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
)

type fakeTrackingStore struct {
	rows map[string]tracking.Row
}

func newFakeTrackingStore() *fakeTrackingStore {
	return &fakeTrackingStore{rows: make(map[string]tracking.Row)}
}

func (f *fakeTrackingStore) EnsureRow(ctx context.Context, name string) error {
	if _, ok := f.rows[name]; !ok {
		f.rows[name] = tracking.Row{TableName: name, Status: tracking.StatusPending}
	}
	return nil
}

func (f *fakeTrackingStore) ReadProgress(ctx context.Context, name string) (tracking.Row, error) {
	row, ok := f.rows[name]
	if !ok {
		return tracking.Row{}, tracking.ErrNotFound
	}
	return row, nil
}

func (f *fakeTrackingStore) UpdateProgress(ctx context.Context, name, lastPrimaryValue, primaryColumn string, rows int64, status tracking.Status) error {
	row := f.rows[name]
	row.TableName = name
	row.LastPrimaryValue = lastPrimaryValue
	row.PrimaryColumnName = primaryColumn
	row.Rows = rows
	row.Status = status
	row.LastCopiedOrLoaded = time.Now()
	f.rows[name] = row
	return nil
}

func (f *fakeTrackingStore) RowCount(ctx context.Context, name string) (int64, error) {
	return f.rows[name].Rows, nil
}

func testConfig() *runtimeconfig.Config {
	return &runtimeconfig.Config{
		RateLimit: runtimeconfig.RateLimit{RequestsPerSecond: 1000, Burst: 50},
		Retry:     runtimeconfig.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0},
	}
}

func fullTableSpec() []byte {
	return []byte(`
tables:
  patient:
    name: patient
    extraction_strategy: full_table
    primary_key: [patnum]
    batch_size: 2
    performance_category: small
    estimated_size_mb: 0.5
`)
}

func TestRun_DryRunSkipsExtractAndLoad(t *testing.T) {
	cat, err := catalog.LoadBytes(fullTableSpec())
	require.NoError(t, err)

	sourceDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	p := pools.New(sourceDB, nil, nil, testConfig(), nil)
	replicaStore := newFakeTrackingStore()
	ex := extractor.New(p, cat, replicaStore, nil)

	r := New(cat, ex, nil, replicaStore, true, nil)

	result := r.Run(context.Background(), "patient", false)
	assert.True(t, result.Success)
	assert.Equal(t, string(catalog.StrategyFullTable), result.Strategy.Strategy)
	assert.False(t, result.Strategy.ForceFullApplied)
}

func TestRun_UnknownTableFails(t *testing.T) {
	cat, err := catalog.LoadBytes(fullTableSpec())
	require.NoError(t, err)

	r := New(cat, nil, nil, newFakeTrackingStore(), true, nil)
	result := r.Run(context.Background(), "missing", false)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestRun_ExtractFailureMarksTrackingFailedAndSkipsLoad(t *testing.T) {
	cat, err := catalog.LoadBytes(fullTableSpec())
	require.NoError(t, err)

	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	p := pools.New(sourceDB, nil, nil, testConfig(), nil)
	replicaStore := newFakeTrackingStore()
	ex := extractor.New(p, cat, replicaStore, nil)

	r := New(cat, ex, nil, replicaStore, false, nil)

	sourceMock.ExpectQuery("SHOW CREATE TABLE `patient`").WillReturnError(errors.New("connection reset"))

	result := r.Run(context.Background(), "patient", false)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	progress, err := replicaStore.ReadProgress(context.Background(), "patient")
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFailed, progress.Status)
}

func TestResolveStrategy_TimeGapPromotesForceFull(t *testing.T) {
	specYAML := []byte(`
tables:
  procedurelog:
    name: procedurelog
    extraction_strategy: incremental
    incremental_columns: [procnum]
    primary_incremental_column: procnum
    incremental_strategy: single_column
    primary_key: [procnum]
    batch_size: 2
    performance_category: large
    estimated_size_mb: 10
    time_gap_threshold_days: 7
`)
	cat, err := catalog.LoadBytes(specYAML)
	require.NoError(t, err)

	replicaStore := newFakeTrackingStore()
	require.NoError(t, replicaStore.EnsureRow(context.Background(), "procedurelog"))
	require.NoError(t, replicaStore.UpdateProgress(context.Background(), "procedurelog", "100", "procnum", 100, tracking.StatusSuccess))
	row := replicaStore.rows["procedurelog"]
	row.LastCopiedOrLoaded = time.Now().Add(-30 * 24 * time.Hour)
	replicaStore.rows["procedurelog"] = row

	r := New(cat, nil, nil, replicaStore, true, nil)
	spec, err := cat.Get("procedurelog")
	require.NoError(t, err)

	strategy := r.resolveStrategy(context.Background(), spec, false)
	assert.True(t, strategy.ForceFullApplied)
	assert.Equal(t, "time_gap_exceeded", strategy.Reason)
}

func TestResolveStrategy_WithinTimeGapStaysIncremental(t *testing.T) {
	specYAML := []byte(`
tables:
  procedurelog:
    name: procedurelog
    extraction_strategy: incremental
    incremental_columns: [procnum]
    primary_incremental_column: procnum
    incremental_strategy: single_column
    primary_key: [procnum]
    batch_size: 2
    performance_category: large
    estimated_size_mb: 10
    time_gap_threshold_days: 7
`)
	cat, err := catalog.LoadBytes(specYAML)
	require.NoError(t, err)

	replicaStore := newFakeTrackingStore()
	require.NoError(t, replicaStore.EnsureRow(context.Background(), "procedurelog"))
	require.NoError(t, replicaStore.UpdateProgress(context.Background(), "procedurelog", "100", "procnum", 100, tracking.StatusSuccess))

	r := New(cat, nil, nil, replicaStore, true, nil)
	spec, err := cat.Get("procedurelog")
	require.NoError(t, err)

	strategy := r.resolveStrategy(context.Background(), spec, false)
	assert.False(t, strategy.ForceFullApplied)
	assert.Equal(t, "incremental", strategy.Reason)
}
