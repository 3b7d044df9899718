// Package loader implements the Loader (spec §4.6): moving rows from
// REPLICA (MySQL-family) into ANALYTICS (Postgres-family, `raw` schema)
// through one of five size-adaptive strategies, all sharing the same
// preflight, upsert semantics, stale-state recovery, and post-load
// verification.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/metrics"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/logger"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

// verifyToleranceFraction is the ≤0.1% row-count discrepancy the
// post-load verification step tolerates without failing the phase
// (spec §4.6 "Verification").
const verifyToleranceFraction = 0.001

// Loader moves one table's rows from REPLICA to ANALYTICS.
type Loader struct {
	pools   *pools.ConnectionPools
	catalog *catalog.Catalog
	schema  *schema.Adapter

	// analyticsTracking is the ANALYTICS-side store (etl_load_status); it is
	// both read for incremental cutoffs and written after each phase.
	analyticsTracking tracking.Store

	// replicaTracking is used only for RowCount, to evaluate the
	// stale-state recovery condition against the REPLICA's actual size.
	replicaTracking tracking.Store

	schemaName string
	batch      runtimeconfig.BatchConfig
	workers    runtimeconfig.WorkersConfig
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
}

// New builds a Loader. schemaName is the warehouse schema tables load
// into (e.g. "raw").
func New(p *pools.ConnectionPools, cat *catalog.Catalog, adapter *schema.Adapter, analyticsTracking, replicaTracking tracking.Store, schemaName string, batch runtimeconfig.BatchConfig, workers runtimeconfig.WorkersConfig, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		pools:             p,
		catalog:           cat,
		schema:            adapter,
		analyticsTracking: analyticsTracking,
		replicaTracking:   replicaTracking,
		schemaName:        schemaName,
		batch:             batch,
		workers:           workers,
		metrics:           metrics.NewPipelineMetrics(),
		logger:            log,
	}
}

// strategyFunc is the signature every per-strategy implementation satisfies.
// whereClause/args filter the REPLICA read; empty means unconditional.
// Returns the row count processed and the maximum primary-column value
// observed, if the table has one.
type strategyFunc func(ctx context.Context, l *Loader, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, error)

func strategyFuncFor(s Strategy) strategyFunc {
	switch s {
	case StrategyStreaming:
		return streamingLoad
	case StrategyChunked:
		return chunkedLoad
	case StrategyCopyBulk:
		return copyBulkLoad
	case StrategyParallel:
		return parallelLoad
	default:
		return standardLoad
	}
}

// Load runs the Loader's public operation for name (spec §4.6).
func (l *Loader) Load(ctx context.Context, name string, forceFull bool) (types.PhaseResult, error) {
	start := time.Now()

	spec, err := l.catalog.Get(name)
	if err != nil {
		return failure(err, start), err
	}

	if l.pools.Analytics == nil {
		err := ErrNoAnalyticsPool
		return failure(err, start), err
	}

	if err := l.analyticsTracking.EnsureRow(ctx, name); err != nil {
		return failure(err, start), err
	}

	def, err := l.schema.ReadSourceDef(ctx, name)
	if err != nil {
		return failure(err, start), err
	}

	targetTypes, err := l.schema.ResolveTargetTypes(ctx, def)
	if err != nil {
		return failure(err, start), err
	}

	if _, err := l.schema.EnsureTarget(ctx, def, targetTypes); err != nil {
		return failure(err, start), err
	}

	progress, err := l.analyticsTracking.ReadProgress(ctx, name)
	if err != nil && err != tracking.ErrNotFound {
		return failure(err, start), err
	}

	strategy := resolveStrategy(spec)

	var whereClause string
	var args []interface{}
	if !forceFull && len(spec.IncrementalColumns) > 0 {
		whereClause, args = buildWhereClause(spec, progress.LastPrimaryValue, progress.LastCopiedOrLoaded)
	}

	rowsProcessed, maxValue, rebuilt, err := l.runWithRecovery(ctx, strategyFuncFor(strategy), spec, def, targetTypes, whereClause, args)
	if err != nil {
		_ = l.markFailed(ctx, name, progress)
		result := failure(err, start)
		result.StrategyUsed = string(strategy)
		return result, err
	}

	if maxValue == "" {
		maxValue = progress.LastPrimaryValue
	}

	if err := l.analyticsTracking.UpdateProgress(ctx, name, maxValue, spec.PrimaryIncrementalCol, rowsProcessed, tracking.StatusSuccess); err != nil {
		return failure(err, start), err
	}

	l.verify(ctx, name)

	duration := time.Since(start).Seconds()
	l.metrics.RecordPhase("load", name, string(strategy), duration)
	l.metrics.AddRows("load", name, rowsProcessed)

	return types.PhaseResult{
		Success:          true,
		RowsProcessed:    rowsProcessed,
		StrategyUsed:     string(strategy),
		PrimaryColumn:    spec.PrimaryIncrementalCol,
		LastPrimaryValue: maxValue,
		DurationSeconds:  duration,
		ForceFullApplied: forceFull || rebuilt,
	}, nil
}

// runWithRecovery runs the strategy once and, if it produced zero rows
// against a filtered query while the REPLICA genuinely has more rows than
// ANALYTICS, rebuilds the query unconditionally and reruns (spec §4.6,
// "Stale-state recovery invariant").
func (l *Loader) runWithRecovery(ctx context.Context, run strategyFunc, spec *catalog.TableSpec, def *schema.TableDef, targetTypes map[string]string, whereClause string, args []interface{}) (int64, string, bool, error) {
	rowsProcessed, maxValue, err := run(ctx, l, spec, def, targetTypes, whereClause, args)
	if err != nil {
		return 0, "", false, err
	}

	if rowsProcessed != 0 || whereClause == "" {
		return rowsProcessed, maxValue, false, nil
	}

	recover, err := l.needsRecovery(ctx, spec.Name)
	if err != nil {
		return rowsProcessed, maxValue, false, err
	}
	if !recover {
		return rowsProcessed, maxValue, false, nil
	}

	logger.FromContext(ctx, l.logger).Warn("loader: stale-state recovery triggered, rebuilding as unconditional full load",
		"table", spec.Name)

	rowsProcessed, maxValue, err = run(ctx, l, spec, def, targetTypes, "", nil)
	if err != nil {
		return 0, "", false, err
	}
	return rowsProcessed, maxValue, true, nil
}

// needsRecovery implements the spec §4.6 recovery condition:
// RowCount(replica,name) > RowCount(analytics,name).
func (l *Loader) needsRecovery(ctx context.Context, name string) (bool, error) {
	replicaCount, err := l.replicaTracking.RowCount(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: replica row count for %s: %v", ErrLoadVerify, name, err)
	}
	analyticsCount, err := l.analyticsTracking.RowCount(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: analytics row count for %s: %v", ErrLoadVerify, name, err)
	}
	return replicaCount > analyticsCount, nil
}

// verify reports, but never fails, a post-load row-count discrepancy
// exceeding the tolerated fraction (spec §4.6 "Verification").
func (l *Loader) verify(ctx context.Context, name string) {
	log := logger.FromContext(ctx, l.logger)

	replicaCount, err := l.replicaTracking.RowCount(ctx, name)
	if err != nil {
		log.Warn("loader: post-load verification could not read replica row count", "table", name, "error", err)
		return
	}
	analyticsCount, err := l.analyticsTracking.RowCount(ctx, name)
	if err != nil {
		log.Warn("loader: post-load verification could not read analytics row count", "table", name, "error", err)
		return
	}
	if replicaCount == 0 {
		return
	}
	discrepancy := float64(replicaCount-analyticsCount) / float64(replicaCount)
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}
	if discrepancy > verifyToleranceFraction {
		log.Warn("loader: row count discrepancy exceeds tolerance",
			"table", name, "replica_count", replicaCount, "analytics_count", analyticsCount,
			"discrepancy_fraction", discrepancy)
	}
}

// markFailed records status=failed while leaving the previously recorded
// cutoff and row count untouched (spec §4.6 "On failure").
func (l *Loader) markFailed(ctx context.Context, name string, progress tracking.Row) error {
	return l.analyticsTracking.UpdateProgress(ctx, name, progress.LastPrimaryValue, progress.PrimaryColumnName, progress.Rows, tracking.StatusFailed)
}

func failure(err error, start time.Time) types.PhaseResult {
	return types.PhaseResult{
		Success:         false,
		Error:           err.Error(),
		DurationSeconds: time.Since(start).Seconds(),
	}
}
