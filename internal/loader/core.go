package loader

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// loadBatched streams spec's rows from REPLICA (optionally filtered by
// whereClause/args, ordered by spec.PrimaryIncrementalCol when present)
// through SchemaAdapter.ConvertRow and into ANALYTICS in upsert batches of
// batchSize. Shared by the standard and streaming strategies, which differ
// only in batch size, and used by the chunked and parallel strategies when
// the table has a composite primary key.
func (l *Loader) loadBatched(ctx context.Context, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}, batchSize int) (int64, string, error) {
	targetCols := schema.TargetColumns(def)
	orderBy := spec.PrimaryIncrementalCol

	query := fmt.Sprintf("SELECT * FROM %s", quoteIdentMySQL(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	if orderBy != "" {
		query += " ORDER BY " + quoteIdentMySQL(orderBy) + " ASC"
	}

	var rowsProcessed int64
	var maxValue string
	batch := make([][]interface{}, 0, batchSize)

	err := l.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "loader.select", func(ctx context.Context) error {
		rows, err := l.pools.Replica.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLoadQuery, err)
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLoadQuery, err)
		}

		for rows.Next() {
			raw, err := scanRowMap(rows, columns)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrLoadQuery, err)
			}

			converted, err := schema.ConvertRow(targetCols, targetTypes, raw)
			if err != nil {
				return err
			}

			if orderBy != "" {
				if v := stringifyNative(raw[orderBy]); v != "" {
					maxValue = v
				}
			}

			batch = append(batch, converted.OrderedValues())
			if len(batch) >= batchSize {
				if err := l.flushUpsert(ctx, spec.Name, targetCols, spec.PrimaryKey, batch); err != nil {
					return err
				}
				rowsProcessed += int64(len(batch))
				batch = batch[:0]
			}
		}
		return rows.Err()
	})
	if err != nil {
		return rowsProcessed, maxValue, err
	}

	if len(batch) > 0 {
		if err := l.flushUpsert(ctx, spec.Name, targetCols, spec.PrimaryKey, batch); err != nil {
			return rowsProcessed, maxValue, err
		}
		rowsProcessed += int64(len(batch))
	}

	return rowsProcessed, maxValue, nil
}

// scanRowMap scans the current row into a column-name-keyed map, the shape
// SchemaAdapter.ConvertRow expects.
func scanRowMap(rows *sql.Rows, columns []string) (map[string]interface{}, error) {
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	raw := make(map[string]interface{}, len(columns))
	for i, c := range columns {
		raw[c] = values[i]
	}
	return raw, nil
}

func stringifyNative(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// flushUpsert executes one upsert batch against ANALYTICS.
func (l *Loader) flushUpsert(ctx context.Context, table string, columns, primaryKey []string, batch [][]interface{}) error {
	stmt, args := buildUpsertPostgres(l.schemaName, table, columns, primaryKey, batch)
	return l.pools.ExecuteWithRetry(ctx, pools.RoleAnalytics, "loader.upsert_batch", func(ctx context.Context) error {
		if _, err := l.pools.Analytics.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("%w: %v", ErrLoadInsert, err)
		}
		return nil
	})
}
