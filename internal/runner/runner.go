// Package runner implements TableRunner (spec §4.7): Extract then Load for
// one table, with the resolved-strategy bookkeeping and tracking updates
// that happen around those two phases rather than inside either of them.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/extractor"
	"github.com/sjksingh/clinical-warehouse-etl/internal/loader"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/logger"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

// TableRunner runs Extract then Load for one table.
type TableRunner struct {
	catalog         *catalog.Catalog
	extractor       *extractor.Extractor
	loader          *loader.Loader
	replicaTracking tracking.Store
	dryRun          bool
	logger          *slog.Logger
}

// New builds a TableRunner. replicaTracking must be the same REPLICA-side
// store the Extractor uses, read here only to resolve the time-gap
// promotion and to mark a table failed if Extract errors. dryRun resolves
// the strategy and logs it without invoking Extract or Load.
func New(cat *catalog.Catalog, ex *extractor.Extractor, ld *loader.Loader, replicaTracking tracking.Store, dryRun bool, log *slog.Logger) *TableRunner {
	if log == nil {
		log = slog.Default()
	}
	return &TableRunner{
		catalog:         cat,
		extractor:       ex,
		loader:          ld,
		replicaTracking: replicaTracking,
		dryRun:          dryRun,
		logger:          log,
	}
}

// Run executes spec §4.7's steps for one table. If ctx does not already
// carry a run id (the Scheduler attaches one per RunCategories/RunAll
// invocation), Run generates one itself so a standalone call still
// correlates its own Extract/Load log lines.
func (r *TableRunner) Run(ctx context.Context, name string, forceFull bool) types.TableRunResult {
	start := time.Now()

	if logger.GetRunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, uuid.NewString())
	}
	log := logger.FromContext(ctx, r.logger)

	spec, err := r.catalog.Get(name)
	if err != nil {
		return types.TableRunResult{Name: name, Success: false, Error: err.Error()}
	}

	strategy := r.resolveStrategy(ctx, spec, forceFull)

	if r.dryRun {
		log.Info("table runner dry run",
			"table", name, "strategy", strategy.Strategy,
			"force_full_applied", strategy.ForceFullApplied, "reason", strategy.Reason)
		return types.TableRunResult{Name: name, Success: true, Strategy: strategy}
	}

	extractResult, err := r.extractor.Copy(ctx, name, strategy.ForceFullApplied)
	if err != nil {
		log.Error("table runner extract failed", "table", name, "error", err)
		_ = r.markExtractFailed(ctx, name)
		return types.TableRunResult{
			Name: name, Success: false, Strategy: strategy,
			Extract: extractResult, Error: err.Error(),
		}
	}

	loadResult, err := r.loader.Load(ctx, name, strategy.ForceFullApplied)
	if err != nil {
		log.Error("table runner load failed", "table", name, "error", err)
		return types.TableRunResult{
			Name: name, Success: false, Strategy: strategy,
			Extract: extractResult, Load: loadResult, Error: err.Error(),
		}
	}

	log.Info("table runner completed", "table", name, "duration_seconds", time.Since(start).Seconds())
	return types.TableRunResult{
		Name: name, Success: true, Strategy: strategy,
		Extract: extractResult, Load: loadResult,
	}
}

// resolveStrategy implements spec §4.7 step 2, including the §4.5 edge
// case that promotes a call to forceFull when time_gap_threshold_days has
// elapsed since the last successful extraction.
func (r *TableRunner) resolveStrategy(ctx context.Context, spec *catalog.TableSpec, forceFull bool) types.ResolvedStrategy {
	reason := "incremental"
	if forceFull {
		reason = "as_requested"
	}

	if !forceFull && spec.TimeGapThresholdDays > 0 {
		progress, err := r.replicaTracking.ReadProgress(ctx, spec.Name)
		if err == nil && !progress.LastCopiedOrLoaded.IsZero() {
			threshold := time.Duration(spec.TimeGapThresholdDays) * 24 * time.Hour
			if time.Since(progress.LastCopiedOrLoaded) > threshold {
				forceFull = true
				reason = "time_gap_exceeded"
			}
		}
	}

	return types.ResolvedStrategy{
		Strategy:           string(spec.ExtractionStrategy),
		ForceFullApplied:   forceFull,
		Reason:             reason,
		IncrementalColumns: spec.IncrementalColumns,
		PrimaryColumn:      spec.PrimaryIncrementalCol,
		EstimatedRows:      spec.EstimatedRows,
	}
}

// markExtractFailed records status=failed on the REPLICA-side tracking row
// without disturbing the last successful cutoff (spec §4.5/§4.7: "On
// failure, mark tracking").
func (r *TableRunner) markExtractFailed(ctx context.Context, name string) error {
	progress, err := r.replicaTracking.ReadProgress(ctx, name)
	if err != nil && err != tracking.ErrNotFound {
		return err
	}
	return r.replicaTracking.UpdateProgress(ctx, name, progress.LastPrimaryValue, progress.PrimaryColumnName, progress.Rows, tracking.StatusFailed)
}
