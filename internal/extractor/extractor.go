// Package extractor implements the Extractor (spec §4.5): copying rows
// from SOURCE into REPLICA, both MySQL-family engines, using a full-table
// or incremental strategy resolved per table.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/metrics"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/logger"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

// Extractor copies one table's rows from SOURCE to REPLICA.
type Extractor struct {
	pools    *pools.ConnectionPools
	catalog  *catalog.Catalog
	tracking tracking.Store
	metrics  *metrics.PipelineMetrics
	logger   *slog.Logger
}

// New builds an Extractor. tracking must be the REPLICA-side store
// (etl_copy_status).
func New(p *pools.ConnectionPools, cat *catalog.Catalog, trackingStore tracking.Store, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{pools: p, catalog: cat, tracking: trackingStore, metrics: metrics.NewPipelineMetrics(), logger: log}
}

// Copy runs the Extractor's public operation for name (spec §4.5).
func (e *Extractor) Copy(ctx context.Context, name string, forceFull bool) (types.PhaseResult, error) {
	start := time.Now()

	spec, err := e.catalog.Get(name)
	if err != nil {
		return failure(err, start), err
	}

	if e.pools.Source == nil {
		err := ErrNoSourcePool
		return failure(err, start), err
	}

	if err := e.tracking.EnsureRow(ctx, name); err != nil {
		return failure(err, start), err
	}

	strategy := resolveStrategy(spec, forceFull)
	method := resolveMethod(spec)

	var result types.PhaseResult
	switch strategy {
	case catalog.StrategyFullTable:
		result, err = e.copyFullTable(ctx, spec, method)
	default:
		result, err = e.copyIncremental(ctx, spec, strategy, method)
	}

	result.DurationSeconds = time.Since(start).Seconds()
	result.ForceFullApplied = forceFull
	result.StrategyUsed = string(strategy)

	e.metrics.RecordPhase("extract", name, string(strategy), result.DurationSeconds)
	e.metrics.AddRows("extract", name, result.RowsProcessed)

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

func failure(err error, start time.Time) types.PhaseResult {
	return types.PhaseResult{
		Success:         false,
		Error:           err.Error(),
		DurationSeconds: time.Since(start).Seconds(),
	}
}

// copyFullTable implements spec §4.5's full-table procedure: drop and
// recreate the replica table preserving the source definition, then copy
// in batches of batch_size.
func (e *Extractor) copyFullTable(ctx context.Context, spec *catalog.TableSpec, method Method) (types.PhaseResult, error) {
	ddl, err := e.readCreateTable(ctx, spec.Name)
	if err != nil {
		return types.PhaseResult{}, err
	}

	err = e.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "extractor.recreate_table", func(ctx context.Context) error {
		if _, err := e.pools.Replica.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(spec.Name))); err != nil {
			return err
		}
		_, err := e.pools.Replica.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return types.PhaseResult{}, fmt.Errorf("extractor: recreate replica table %s: %w", spec.Name, err)
	}

	rowsCopied, _, err := e.copyRows(ctx, spec, "", nil, "", method)
	if err != nil {
		return types.PhaseResult{}, err
	}

	if err := e.tracking.UpdateProgress(ctx, spec.Name, "", spec.PrimaryIncrementalCol, rowsCopied, tracking.StatusSuccess); err != nil {
		return types.PhaseResult{}, err
	}

	return types.PhaseResult{
		Success:          true,
		RowsProcessed:    rowsCopied,
		PrimaryColumn:    spec.PrimaryIncrementalCol,
		LastPrimaryValue: "",
	}, nil
}

// copyIncremental implements spec §4.5's incremental procedure.
func (e *Extractor) copyIncremental(ctx context.Context, spec *catalog.TableSpec, strategy catalog.ExtractionStrategy, method Method) (types.PhaseResult, error) {
	progress, err := e.tracking.ReadProgress(ctx, spec.Name)
	if err != nil && err != tracking.ErrNotFound {
		return types.PhaseResult{}, err
	}

	whereClause, args := buildWhereClause(spec, progress.LastPrimaryValue, progress.LastCopiedOrLoaded)
	orderBy := spec.PrimaryIncrementalCol

	rowsCopied, maxValue, err := e.copyRows(ctx, spec, whereClause, args, orderBy, method)
	if err != nil {
		return types.PhaseResult{}, err
	}

	if rowsCopied == 0 {
		// spec §4.5 edge case: zero rows produced and tracking already
		// reflects current state. No tracking change.
		return types.PhaseResult{
			Success:          true,
			RowsProcessed:    0,
			PrimaryColumn:    spec.PrimaryIncrementalCol,
			LastPrimaryValue: progress.LastPrimaryValue,
		}, nil
	}

	if maxValue == "" {
		maxValue = progress.LastPrimaryValue
	}

	if err := e.tracking.UpdateProgress(ctx, spec.Name, maxValue, spec.PrimaryIncrementalCol, rowsCopied, tracking.StatusSuccess); err != nil {
		return types.PhaseResult{}, err
	}

	return types.PhaseResult{
		Success:          true,
		RowsProcessed:    rowsCopied,
		PrimaryColumn:    spec.PrimaryIncrementalCol,
		LastPrimaryValue: maxValue,
	}, nil
}

// readCreateTable reads name's CREATE TABLE statement from SOURCE.
func (e *Extractor) readCreateTable(ctx context.Context, name string) (string, error) {
	var tableName, ddl string
	err := e.pools.ExecuteWithRetry(ctx, pools.RoleSource, "extractor.show_create_table", func(ctx context.Context) error {
		return e.pools.Source.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE %s", quoteIdent(name))).Scan(&tableName, &ddl)
	})
	if err != nil {
		return "", fmt.Errorf("extractor: read source definition for %s: %w", name, err)
	}
	return ddl, nil
}

// copyRows streams name's rows from SOURCE (optionally filtered by
// whereClause/args and ordered by orderBy) into REPLICA, in batches of
// spec.BatchSize, using an upsert so reruns are idempotent. method selects
// the progress-logging cadence: large tables log every batch flush, medium
// and small tables copy silently. Returns the row count copied and the
// maximum value observed in orderBy, if any.
func (e *Extractor) copyRows(ctx context.Context, spec *catalog.TableSpec, whereClause string, args []interface{}, orderBy string, method Method) (int64, string, error) {
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(spec.Name))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	if orderBy != "" {
		query += " ORDER BY " + quoteIdent(orderBy) + " ASC"
	}

	var rowsCopied int64
	var maxValue string
	var columns []string
	batch := make([][]interface{}, 0, spec.BatchSize)
	log := logger.FromContext(ctx, e.logger)

	err := e.pools.ExecuteWithRetry(ctx, pools.RoleSource, "extractor.select", func(ctx context.Context) error {
		rows, err := e.pools.Source.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		columns, err = rows.Columns()
		if err != nil {
			return err
		}

		orderByIdx := -1
		for i, c := range columns {
			if c == orderBy {
				orderByIdx = i
			}
		}

		for rows.Next() {
			values := make([]interface{}, len(columns))
			ptrs := make([]interface{}, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}

			if orderByIdx >= 0 {
				maxValue = stringifyValue(values[orderByIdx])
			}

			batch = append(batch, values)
			if len(batch) >= spec.BatchSize {
				if err := e.flushBatch(ctx, spec.Name, columns, spec.PrimaryKey, batch); err != nil {
					return err
				}
				rowsCopied += int64(len(batch))
				batch = batch[:0]
				if method == MethodLarge {
					log.Info("extractor batch flushed", "table", spec.Name, "rows_copied", rowsCopied)
				}
			}
		}
		return rows.Err()
	})
	if err != nil {
		return rowsCopied, maxValue, fmt.Errorf("extractor: copy rows for %s: %w", spec.Name, err)
	}

	if len(batch) > 0 {
		if err := e.flushBatch(ctx, spec.Name, columns, spec.PrimaryKey, batch); err != nil {
			return rowsCopied, maxValue, fmt.Errorf("extractor: copy rows for %s: %w", spec.Name, err)
		}
		rowsCopied += int64(len(batch))
	}

	return rowsCopied, maxValue, nil
}

func (e *Extractor) flushBatch(ctx context.Context, table string, columns, primaryKey []string, batch [][]interface{}) error {
	stmt, args := buildUpsertMySQL(table, columns, primaryKey, batch)
	return e.pools.ExecuteWithRetry(ctx, pools.RoleReplica, "extractor.insert_batch", func(ctx context.Context) error {
		_, err := e.pools.Replica.ExecContext(ctx, stmt, args...)
		return err
	})
}

// buildUpsertMySQL builds a multi-row INSERT ... ON DUPLICATE KEY UPDATE
// statement so a rerun of a partially-applied batch is idempotent.
func buildUpsertMySQL(table string, columns, primaryKey []string, batch [][]interface{}) (string, []interface{}) {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}

	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	valueRows := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*len(columns))
	for i, row := range batch {
		valueRows[i] = placeholderRow
		args = append(args, row...)
	}

	pkSet := make(map[string]bool, len(primaryKey))
	for _, c := range primaryKey {
		pkSet[c] = true
	}

	updateClauses := make([]string, 0, len(columns))
	for _, c := range columns {
		if pkSet[c] {
			continue
		}
		updateClauses = append(updateClauses, fmt.Sprintf("%s = VALUES(%s)", quoteIdent(c), quoteIdent(c)))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(valueRows, ", "))
	if len(updateClauses) > 0 {
		stmt += " ON DUPLICATE KEY UPDATE " + strings.Join(updateClauses, ", ")
	}

	return stmt, args
}

func stringifyValue(v interface{}) string {
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
