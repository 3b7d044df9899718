package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSourceDef_BuildsColumnsAndPrimaryKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT column_name, column_type, is_nullable").
		WithArgs("ref_tiny").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable"}).
			AddRow("Id", "int(11)", "NO").
			AddRow("Descript", "varchar(255)", "YES"))

	mock.ExpectQuery("SELECT column_name\\s+FROM information_schema.key_column_usage").
		WithArgs("ref_tiny").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("Id"))

	a := NewAdapter(db, nil, "raw", nil, 1000, nil)
	def, err := a.ReadSourceDef(context.Background(), "ref_tiny")
	require.NoError(t, err)

	assert.Equal(t, "ref_tiny", def.Name)
	assert.Len(t, def.Columns, 2)
	assert.Equal(t, "Id", def.Columns[0].Name)
	assert.False(t, def.Columns[0].Nullable)
	assert.Equal(t, []string{"Id"}, def.PrimaryKey)
}

func TestReadSourceDef_NoColumnsIsSchemaReadError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT column_name, column_type, is_nullable").
		WithArgs("missing_table").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable"}))

	a := NewAdapter(db, nil, "raw", nil, 1000, nil)
	_, err = a.ReadSourceDef(context.Background(), "missing_table")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaRead)
}

func TestResolveTargetTypes_SamplesAmbiguousColumnsOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT MIN\\(`PatNum`\\), MAX\\(`PatNum`\\)").
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(1, 42000))

	a := NewAdapter(db, nil, "raw", nil, 1000, nil)
	def := &TableDef{
		Name: "procedurelog",
		Columns: []ColumnDef{
			{Name: "PatNum", SourceType: "int(11)"},
			{Name: "Descript", SourceType: "varchar(255)"},
		},
	}

	targets, err := a.ResolveTargetTypes(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "integer", targets["PatNum"])
	assert.Equal(t, "text", targets["Descript"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTargetTypes_UsesCacheWhenPresent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cache, err := NewDecisionCache(128, nil, 0, nil)
	require.NoError(t, err)
	cache.Set(context.Background(), "procedurelog", "PatNum", "smallint")

	a := NewAdapter(db, nil, "raw", cache, 1000, nil)
	def := &TableDef{
		Name:    "procedurelog",
		Columns: []ColumnDef{{Name: "PatNum", SourceType: "int(11)"}},
	}

	targets, err := a.ResolveTargetTypes(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "smallint", targets["PatNum"])
}

func TestTypesCompatible(t *testing.T) {
	assert.True(t, typesCompatible("text", "character varying"))
	assert.True(t, typesCompatible("numeric", "numeric"))
	assert.True(t, typesCompatible("timestamp", "timestamp without time zone"))
	assert.False(t, typesCompatible("integer", "text"))
}

func TestTargetColumns_PreservesOrder(t *testing.T) {
	def := &TableDef{Columns: []ColumnDef{{Name: "Id"}, {Name: "Descript"}}}
	assert.Equal(t, []string{"Id", "Descript"}, TargetColumns(def))
}
