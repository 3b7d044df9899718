package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
)

// copyBulkLoad implements spec §4.6's "copy_bulk" strategy: rows are
// staged via the warehouse's native bulk-ingest path (Postgres COPY into a
// session-scoped temp table) and merged into the target with upsert
// semantics, batch by batch.
func copyBulkLoad(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error) {
	targetCols := schema.TargetColumns(def)
	orderBy := spec.PrimaryIncrementalCol

	query := fmt.Sprintf("SELECT * FROM %s", quoteIdentMySQL(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	if orderBy != "" {
		query += " ORDER BY " + quoteIdentMySQL(orderBy) + " ASC"
	}

	var total int64
	var maxValue string
	batchSize := l.batch.CopyBulkBatchSize
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
				if err := l.copyBulkFlush(ctx, spec, targetCols, batch); err != nil {
					return err
				}
				total += int64(len(batch))
				batch = batch[:0]
			}
		}
		return rows.Err()
	})
	if err != nil {
		return total, maxValue, err
	}

	if len(batch) > 0 {
		if err := l.copyBulkFlush(ctx, spec, targetCols, batch); err != nil {
			return total, maxValue, err
		}
		total += int64(len(batch))
	}

	return total, maxValue, nil
}

// copyBulkFlush stages one batch into a temp table via COPY, then merges
// it into the target with an upsert, all in one transaction on one
// connection (temp tables are session-scoped).
func (l *Loader) copyBulkFlush(ctx context.Context, spec *catalog.TableSpec, targetCols []string, batch [][]interface{}) error {
	return l.pools.ExecuteWithRetry(ctx, pools.RoleAnalytics, "loader.copy_bulk_merge", func(ctx context.Context) error {
		conn, err := l.pools.Analytics.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("%w: acquire connection: %v", ErrLoadTxn, err)
		}
		defer conn.Release()

		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin: %v", ErrLoadTxn, err)
		}
		defer tx.Rollback(ctx)

		staging := fmt.Sprintf("loader_staging_%s", spec.Name)
		createSQL := fmt.Sprintf(
			"CREATE TEMP TABLE %s (LIKE %s.%s INCLUDING DEFAULTS) ON COMMIT DROP",
			quoteIdentPG(staging), quoteIdentPG(l.schemaName), quoteIdentPG(spec.Name))
		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("%w: create staging table: %v", ErrLoadTxn, err)
		}

		if _, err := tx.Conn().CopyFrom(ctx, pgx.Identifier{staging}, targetCols, pgx.CopyFromRows(batch)); err != nil {
			return fmt.Errorf("%w: copy into staging: %v", ErrLoadInsert, err)
		}

		mergeSQL := buildMergeFromStaging(l.schemaName, spec.Name, staging, targetCols, spec.PrimaryKey)
		if _, err := tx.Exec(ctx, mergeSQL); err != nil {
			return fmt.Errorf("%w: merge staging into target: %v", ErrLoadInsert, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit: %v", ErrLoadTxn, err)
		}
		return nil
	})
}

// buildMergeFromStaging builds the upsert that merges a staging temp
// table into the target, keyed on primaryKey.
func buildMergeFromStaging(schema, table, staging string, columns, primaryKey []string) string {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdentPG(c)
	}

	pkSet := make(map[string]bool, len(primaryKey))
	for _, c := range primaryKey {
		pkSet[c] = true
	}
	quotedPK := make([]string, len(primaryKey))
	for i, c := range primaryKey {
		quotedPK[i] = quoteIdentPG(c)
	}

	updateClauses := make([]string, 0, len(columns))
	for _, c := range columns {
		if pkSet[c] {
			continue
		}
		updateClauses = append(updateClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdentPG(c), quoteIdentPG(c)))
	}

	target := fmt.Sprintf("%s.%s", quoteIdentPG(schema), quoteIdentPG(table))
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		target, strings.Join(quotedCols, ", "), strings.Join(quotedCols, ", "), quoteIdentPG(staging), strings.Join(quotedPK, ", "))

	if len(updateClauses) > 0 {
		stmt += " DO UPDATE SET " + strings.Join(updateClauses, ", ")
	} else {
		stmt += " DO NOTHING"
	}
	return stmt
}
