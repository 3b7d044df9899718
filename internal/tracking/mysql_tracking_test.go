package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLStore_EnsureRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO etl_copy_status").
		WithArgs("procedurelog").
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewMySQLStore(db)
	err = store.EnsureRow(context.Background(), "procedurelog")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_ReadProgress_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_name, last_copied").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	store := NewMySQLStore(db)
	_, err = store.ReadProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLStore_ReadProgress_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"table_name", "last_copied", "last_primary_value", "primary_column_name",
		"rows_copied", "copy_status", "created_at", "updated_at",
	}).AddRow("procedurelog", now, "1545", "ProcNum", int64(1090), StatusSuccess, now, now)

	mock.ExpectQuery("SELECT table_name, last_copied").
		WithArgs("procedurelog").
		WillReturnRows(rows)

	store := NewMySQLStore(db)
	row, err := store.ReadProgress(context.Background(), "procedurelog")
	require.NoError(t, err)
	assert.Equal(t, "procedurelog", row.TableName)
	assert.Equal(t, "1545", row.LastPrimaryValue)
	assert.Equal(t, "ProcNum", row.PrimaryColumnName)
	assert.Equal(t, int64(1090), row.Rows)
	assert.Equal(t, StatusSuccess, row.Status)
}

func TestMySQLStore_UpdateProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO etl_copy_status").
		WithArgs("procedurelog", "1090", "ProcNum", int64(1090), StatusSuccess).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewMySQLStore(db)
	err = store.UpdateProgress(context.Background(), "procedurelog", "1090", "ProcNum", 1090, StatusSuccess)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_RowCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `procedurelog`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1090)))

	store := NewMySQLStore(db)
	count, err := store.RowCount(context.Background(), "procedurelog")
	require.NoError(t, err)
	assert.Equal(t, int64(1090), count)
}

func TestMySQLStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS etl_copy_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewMySQLStore(db)
	err = store.EnsureSchema(context.Background())
	assert.NoError(t, err)
}
