package loader

import (
	"context"
	"fmt"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// chunkedLoad implements spec §4.6's "chunked" strategy: keyset pagination
// by primary_key, chunk size from config, each chunk upserted (and so
// committed) independently. Falls back to a single batched pass when the
// table has a composite primary key, since keyset pagination needs one
// sortable cursor column.
func chunkedLoad(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error) {
	if len(spec.PrimaryKey) != 1 {
		return l.loadBatched(ctx, spec, def, targetTypes, whereClause, args, l.batch.ChunkedBatchSize)
	}
	return l.paginatedLoad(ctx, spec, def, targetTypes, whereClause, args, spec.PrimaryKey[0], l.batch.ChunkedBatchSize)
}

// paginatedLoad drives keyset pagination over pk within whereClause,
// reading and upserting chunkSize rows per page until a short page signals
// the range is exhausted. Used directly by chunkedLoad over the whole
// table, and by parallelLoad's per-range workers over a key sub-range.
func (l *Loader) paginatedLoad(ctx context.Context, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}, pk string, chunkSize int) (int64, string, error) {
	var totalRows int64
	var maxValue string
	var cursor string
	haveCursor := false

	for {
		pageWhere, pageArgs := withCursorCondition(whereClause, args, pk, cursor, haveCursor)
		rowsInPage, pageMaxValue, lastPK, err := l.loadPage(ctx, spec, def, targetTypes, pageWhere, pageArgs, pk, chunkSize)
		if err != nil {
			return totalRows, maxValue, err
		}

		totalRows += rowsInPage
		if pageMaxValue != "" {
			maxValue = pageMaxValue
		}

		if rowsInPage < int64(chunkSize) {
			break
		}

		cursor = lastPK
		haveCursor = true
	}

	return totalRows, maxValue, nil
}

// withCursorCondition appends "pk > cursor" to whereClause, AND-joined with
// any existing filter, to advance keyset pagination.
func withCursorCondition(whereClause string, args []interface{}, pk, cursor string, haveCursor bool) (string, []interface{}) {
	if !haveCursor {
		return whereClause, args
	}
	cond := quoteIdentMySQL(pk) + " > ?"
	newArgs := append(append([]interface{}{}, args...), cursor)
	if whereClause == "" {
		return cond, newArgs
	}
	return "(" + whereClause + ") AND " + cond, newArgs
}

// loadPage runs one LIMIT-bounded page of spec's rows, ordered by pk
// ascending, converting and upserting the page in one batch. Returns the
// row count in the page, the running max of the primary incremental
// column (if the table has one), and the last pk value seen (the next
// page's cursor).
func (l *Loader) loadPage(ctx context.Context, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}, pk string, limit int) (int64, string, string, error) {
	targetCols := schema.TargetColumns(def)
	orderBy := spec.PrimaryIncrementalCol

	query := fmt.Sprintf("SELECT * FROM %s", quoteIdentMySQL(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += fmt.Sprintf(" ORDER BY %s ASC LIMIT %d", quoteIdentMySQL(pk), limit)

	var rowsInPage int64
	var maxValue, lastPK string
	batch := make([][]interface{}, 0, limit)

	err := l.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "loader.select_page", func(ctx context.Context) error {
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

			if v := stringifyNative(raw[pk]); v != "" {
				lastPK = v
			}
			if orderBy != "" {
				if v := stringifyNative(raw[orderBy]); v != "" {
					maxValue = v
				}
			}

			batch = append(batch, converted.OrderedValues())
			rowsInPage++
		}
		return rows.Err()
	})
	if err != nil {
		return 0, "", "", err
	}

	if len(batch) > 0 {
		if err := l.flushUpsert(ctx, spec.Name, targetCols, spec.PrimaryKey, batch); err != nil {
			return 0, "", "", err
		}
	}

	return rowsInPage, maxValue, lastPK, nil
}
