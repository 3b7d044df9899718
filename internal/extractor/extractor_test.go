package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
)

// fakeTrackingStore is an in-memory tracking.Store for tests that don't need
// to exercise the MySQL or Postgres implementations themselves.
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
		Retry: runtimeconfig.RetryConfig{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2.0,
		},
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

func incrementalSpec(strategy catalog.IncrementalStrategy) []byte {
	return []byte(`
tables:
  procedurelog:
    name: procedurelog
    extraction_strategy: incremental
    incremental_columns: [procnum, datetstamp]
    primary_incremental_column: procnum
    incremental_strategy: ` + string(strategy) + `
    primary_key: [procnum]
    batch_size: 2
    performance_category: large
    estimated_size_mb: 250
`)
}

func TestCopy_FullTable_RecreatesAndCopiesBatches(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	replicaDB, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cat, err := catalog.LoadBytes(fullTableSpec())
	require.NoError(t, err)

	p := pools.New(sourceDB, replicaDB, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	ex := New(p, cat, store, nil)

	sourceMock.ExpectQuery("SHOW CREATE TABLE `patient`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("patient", "CREATE TABLE `patient` (`patnum` int, `lname` varchar(100))"))

	replicaMock.ExpectExec("DROP TABLE IF EXISTS `patient`").WillReturnResult(sqlmock.NewResult(0, 0))
	replicaMock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	sourceMock.ExpectQuery("SELECT \\* FROM `patient`").
		WillReturnRows(sqlmock.NewRows([]string{"patnum", "lname"}).
			AddRow(1, "Smith").
			AddRow(2, "Jones").
			AddRow(3, "Lee"))

	replicaMock.ExpectExec("INSERT INTO `patient`").WillReturnResult(sqlmock.NewResult(0, 2))
	replicaMock.ExpectExec("INSERT INTO `patient`").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := ex.Copy(context.Background(), "patient", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(3), result.RowsProcessed)
	assert.Equal(t, string(catalog.StrategyFullTable), result.StrategyUsed)

	progress, err := store.ReadProgress(context.Background(), "patient")
	require.NoError(t, err)
	assert.Equal(t, "", progress.LastPrimaryValue)
	assert.Equal(t, tracking.StatusSuccess, progress.Status)

	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestCopy_Incremental_OrLogicWithoutCutoffReadsAllAndAdvancesCutoff(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	replicaDB, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cat, err := catalog.LoadBytes(incrementalSpec(catalog.IncrementalOrLogic))
	require.NoError(t, err)

	p := pools.New(sourceDB, replicaDB, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	ex := New(p, cat, store, nil)

	sourceMock.ExpectQuery("SELECT \\* FROM `procedurelog` ORDER BY `procnum` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"procnum", "datetstamp"}).
			AddRow(100, time.Now()).
			AddRow(101, time.Now()))

	replicaMock.ExpectExec("INSERT INTO `procedurelog`").WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := ex.Copy(context.Background(), "procedurelog", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(2), result.RowsProcessed)
	assert.Equal(t, "101", result.LastPrimaryValue)

	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestCopy_Incremental_ZeroRowsLeavesTrackingUnchanged(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	replicaDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cat, err := catalog.LoadBytes(incrementalSpec(catalog.IncrementalOrLogic))
	require.NoError(t, err)

	p := pools.New(sourceDB, replicaDB, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	require.NoError(t, store.EnsureRow(context.Background(), "procedurelog"))
	require.NoError(t, store.UpdateProgress(context.Background(), "procedurelog", "500", "procnum", 10, tracking.StatusSuccess))

	ex := New(p, cat, store, nil)

	sourceMock.ExpectQuery("SELECT \\* FROM `procedurelog` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"procnum", "datetstamp"}))

	result, err := ex.Copy(context.Background(), "procedurelog", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(0), result.RowsProcessed)
	assert.Equal(t, "500", result.LastPrimaryValue)

	progress, err := store.ReadProgress(context.Background(), "procedurelog")
	require.NoError(t, err)
	assert.Equal(t, "500", progress.LastPrimaryValue)

	assert.NoError(t, sourceMock.ExpectationsWereMet())
}

func TestCopy_Incremental_SingleColumnIgnoresOtherIncrementalColumns(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	replicaDB, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cat, err := catalog.LoadBytes(incrementalSpec(catalog.IncrementalSingleColumn))
	require.NoError(t, err)

	p := pools.New(sourceDB, replicaDB, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	require.NoError(t, store.EnsureRow(context.Background(), "procedurelog"))
	require.NoError(t, store.UpdateProgress(context.Background(), "procedurelog", "100", "procnum", 5, tracking.StatusSuccess))

	ex := New(p, cat, store, nil)

	sourceMock.ExpectQuery("SELECT \\* FROM `procedurelog` WHERE `procnum` > \\? ORDER BY `procnum` ASC").
		WithArgs("100").
		WillReturnRows(sqlmock.NewRows([]string{"procnum", "datetstamp"}).
			AddRow(101, time.Now()))

	replicaMock.ExpectExec("INSERT INTO `procedurelog`").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := ex.Copy(context.Background(), "procedurelog", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.RowsProcessed)
	assert.Equal(t, "101", result.LastPrimaryValue)

	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestCopy_ForceFullPromotesIncrementalTableToFullTable(t *testing.T) {
	sourceDB, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	replicaDB, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cat, err := catalog.LoadBytes(incrementalSpec(catalog.IncrementalAndLogic))
	require.NoError(t, err)

	p := pools.New(sourceDB, replicaDB, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	ex := New(p, cat, store, nil)

	sourceMock.ExpectQuery("SHOW CREATE TABLE `procedurelog`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("procedurelog", "CREATE TABLE `procedurelog` (`procnum` int, `datetstamp` datetime)"))
	replicaMock.ExpectExec("DROP TABLE IF EXISTS `procedurelog`").WillReturnResult(sqlmock.NewResult(0, 0))
	replicaMock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	sourceMock.ExpectQuery("SELECT \\* FROM `procedurelog`$").
		WillReturnRows(sqlmock.NewRows([]string{"procnum", "datetstamp"}).AddRow(1, time.Now()))
	replicaMock.ExpectExec("INSERT INTO `procedurelog`").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := ex.Copy(context.Background(), "procedurelog", true)
	require.NoError(t, err)
	assert.True(t, result.ForceFullApplied)
	assert.Equal(t, string(catalog.StrategyFullTable), result.StrategyUsed)

	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestCopy_NoSourcePoolReturnsError(t *testing.T) {
	cat, err := catalog.LoadBytes(fullTableSpec())
	require.NoError(t, err)

	p := pools.New(nil, nil, nil, testConfig(), nil)
	store := newFakeTrackingStore()
	ex := New(p, cat, store, nil)

	_, err = ex.Copy(context.Background(), "patient", false)
	assert.ErrorIs(t, err, ErrNoSourcePool)
}

func TestBuildUpsertMySQL_OmitsUpdateClauseWhenAllColumnsArePrimaryKey(t *testing.T) {
	stmt, args := buildUpsertMySQL("patient", []string{"patnum"}, []string{"patnum"}, [][]interface{}{{1}, {2}})
	assert.NotContains(t, stmt, "ON DUPLICATE KEY UPDATE")
	assert.Equal(t, []interface{}{1, 2}, args)
}

func TestResolveMethod_PicksBySize(t *testing.T) {
	small := &catalog.TableSpec{EstimatedSizeMB: 0.2}
	medium := &catalog.TableSpec{EstimatedSizeMB: 5}
	large := &catalog.TableSpec{EstimatedSizeMB: 500}

	assert.Equal(t, MethodSmall, resolveMethod(small))
	assert.Equal(t, MethodMedium, resolveMethod(medium))
	assert.Equal(t, MethodLarge, resolveMethod(large))
}
