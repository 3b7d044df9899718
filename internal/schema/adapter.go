// Package schema implements SchemaAdapter (spec §4.4): reading a source
// table's shape, mapping it to a warehouse definition, creating or
// verifying the target table, and converting rows between the two sides.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Adapter reads table definitions from the REPLICA (MySQL-family) and
// manages their counterpart in the ANALYTICS warehouse's configured schema.
type Adapter struct {
	replica    *sql.DB
	analytics  *pgxpool.Pool
	schemaName string
	cache      *DecisionCache
	sampleSize int
	logger     *slog.Logger
}

// NewAdapter builds an Adapter. sampleSize bounds how many rows are read
// per ambiguous column when resolving the analyzed map.
func NewAdapter(replica *sql.DB, analytics *pgxpool.Pool, schemaName string, cache *DecisionCache, sampleSize int, logger *slog.Logger) *Adapter {
	if sampleSize <= 0 {
		sampleSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		replica:    replica,
		analytics:  analytics,
		schemaName: schemaName,
		cache:      cache,
		sampleSize: sampleSize,
		logger:     logger,
	}
}

// ReadSourceDef reads name's column definitions and primary key from the
// replica's information_schema.
func (a *Adapter) ReadSourceDef(ctx context.Context, name string) (*TableDef, error) {
	rows, err := a.replica.QueryContext(ctx, `
SELECT column_name, column_type, is_nullable
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaRead, name, err)
	}
	defer rows.Close()

	def := &TableDef{Name: name}
	for rows.Next() {
		var col ColumnDef
		var nullable string
		if err := rows.Scan(&col.Name, &col.SourceType, &nullable); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchemaRead, name, err)
		}
		col.Nullable = nullable == "YES"
		def.Columns = append(def.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaRead, name, err)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s: table not found or has no columns", ErrSchemaRead, name)
	}

	pk, err := a.readPrimaryKey(ctx, name)
	if err != nil {
		return nil, err
	}
	def.PrimaryKey = pk

	return def, nil
}

func (a *Adapter) readPrimaryKey(ctx context.Context, name string) ([]string, error) {
	rows, err := a.replica.QueryContext(ctx, `
SELECT column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'
ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: primary key: %v", ErrSchemaRead, name, err)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("%w: %s: primary key: %v", ErrSchemaRead, name, err)
		}
		pk = append(pk, col)
	}
	return pk, rows.Err()
}

// ResolveTargetTypes maps every column of def to its warehouse type,
// sampling ambiguous-width columns (through the decision cache) per the
// analyzed map policy. A column whose sampling query fails gets its
// standard-map type, and that fallback is not cached.
func (a *Adapter) ResolveTargetTypes(ctx context.Context, def *TableDef) (map[string]string, error) {
	targets := make(map[string]string, len(def.Columns))

	for _, col := range def.Columns {
		if !AmbiguousWidth(col.SourceType) {
			targets[col.Name] = ResolveType(col, nil)
			continue
		}

		if a.cache != nil {
			if cached, ok := a.cache.Get(ctx, def.Name, col.Name); ok {
				targets[col.Name] = cached
				continue
			}
		}

		sample, err := a.sampleColumn(ctx, def.Name, col)
		if err != nil {
			a.logger.Warn("schema: column sampling failed, using standard map",
				"table", def.Name, "column", col.Name, "error", err)
			targets[col.Name] = ResolveType(col, nil)
			continue
		}
		resolved := ResolveType(col, &sample)
		targets[col.Name] = resolved

		if a.cache != nil {
			a.cache.Set(ctx, def.Name, col.Name, resolved)
		}
	}

	return targets, nil
}

func (a *Adapter) sampleColumn(ctx context.Context, table string, col ColumnDef) (Sample, error) {
	query := fmt.Sprintf(
		"SELECT MIN(`%s`), MAX(`%s`) FROM (SELECT `%s` FROM `%s` LIMIT ?) AS sampled",
		col.Name, col.Name, col.Name, table,
	)

	var sample Sample
	var min, max sql.NullInt64
	if err := a.replica.QueryRowContext(ctx, query, a.sampleSize).Scan(&min, &max); err != nil {
		return Sample{}, err
	}
	if !min.Valid {
		return Sample{RowsSampled: 0}, nil
	}

	sample.MinInt = min.Int64
	sample.MaxInt = max.Int64
	sample.RowsSampled = a.sampleSize
	sample.SawOnlyZeroOrOne = min.Int64 >= 0 && max.Int64 <= 1

	return sample, nil
}

// EnsureTarget creates name's warehouse table if absent; if present,
// verifies its column set against targetTypes and reports (never alters)
// on mismatch.
func (a *Adapter) EnsureTarget(ctx context.Context, def *TableDef, targetTypes map[string]string) ([]Mismatch, error) {
	exists, err := a.targetExists(ctx, def.Name)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := a.createTarget(ctx, def, targetTypes); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return a.verifyTarget(ctx, def, targetTypes)
}

func (a *Adapter) targetExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.analytics.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2
)`, a.schemaName, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrSchemaRead, name, err)
	}
	return exists, nil
}

func (a *Adapter) createTarget(ctx context.Context, def *TableDef, targetTypes map[string]string) error {
	columnDefs := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		columnDefs = append(columnDefs, fmt.Sprintf("%q %s", col.Name, targetTypes[col.Name]))
	}

	var pkClause string
	if len(def.PrimaryKey) > 0 {
		quoted := make([]string, len(def.PrimaryKey))
		for i, c := range def.PrimaryKey {
			quoted[i] = fmt.Sprintf("%q", c)
		}
		pkClause = fmt.Sprintf(",\n\tPRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%q (\n\t%s%s\n)",
		a.schemaName, def.Name, strings.Join(columnDefs, ",\n\t"), pkClause)

	if _, err := a.analytics.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaTransform, def.Name, err)
	}

	a.logger.Info("created warehouse table", "table", def.Name, "columns", len(def.Columns))
	return nil
}

func (a *Adapter) verifyTarget(ctx context.Context, def *TableDef, targetTypes map[string]string) ([]Mismatch, error) {
	rows, err := a.analytics.Query(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`, a.schemaName, def.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaVerify, def.Name, err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var col, dtype string
		if err := rows.Scan(&col, &dtype); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchemaVerify, def.Name, err)
		}
		actual[col] = dtype
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaVerify, def.Name, err)
	}

	var mismatches []Mismatch
	for _, col := range def.Columns {
		expected := targetTypes[col.Name]
		got, ok := actual[col.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Column: col.Name, Expected: expected, Reason: "missing"})
			continue
		}
		if !typesCompatible(expected, got) {
			mismatches = append(mismatches, Mismatch{Column: col.Name, Expected: expected, Actual: got, Reason: "type_mismatch"})
		}
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Column < mismatches[j].Column })

	if len(mismatches) > 0 {
		a.logger.Warn("warehouse table column set differs from expected definition",
			"table", def.Name, "mismatches", len(mismatches))
	}

	return mismatches, nil
}

// typesCompatible tolerates Postgres's information_schema naming
// ("character varying" vs our "text" label etc.) without requiring exact
// string equality.
func typesCompatible(expected, actual string) bool {
	if expected == actual {
		return true
	}
	equivalents := map[string][]string{
		"text":             {"text", "character varying", "character"},
		"numeric":          {"numeric", "decimal"},
		"timestamp":        {"timestamp without time zone"},
		"timestamptz":      {"timestamp with time zone"},
		"double precision": {"double precision"},
		"bytea":            {"bytea"},
	}
	for _, alt := range equivalents[expected] {
		if actual == alt {
			return true
		}
	}
	return false
}

// TargetColumns returns def's column names in declared order, the order
// ConvertRow and the upsert statement builder must agree on.
func TargetColumns(def *TableDef) []string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = c.Name
	}
	return cols
}
