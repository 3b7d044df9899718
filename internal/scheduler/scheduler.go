// Package scheduler implements the Scheduler (spec §4.8): a grouped pass
// over tables by performance category, pooling only the `large` category
// by default, aggregating per-category outcomes, and honoring context
// cancellation between tables.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/metrics"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runner"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/logger"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/types"
)

// defaultCategoryOrder is the pass order RunAll uses: large first so its
// pooled workers start as early as possible, then the sequential
// categories smallest-impact-last.
var defaultCategoryOrder = []catalog.PerformanceCategory{
	catalog.CategoryLarge,
	catalog.CategoryMedium,
	catalog.CategorySmall,
	catalog.CategoryTiny,
}

// Scheduler runs every table in the catalog, grouped by category.
type Scheduler struct {
	catalog *catalog.Catalog
	runner  *runner.TableRunner
	workers runtimeconfig.WorkersConfig
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

// New builds a Scheduler.
func New(cat *catalog.Catalog, r *runner.TableRunner, workers runtimeconfig.WorkersConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{catalog: cat, runner: r, workers: workers, metrics: metrics.NewPipelineMetrics(), logger: log}
}

// RunAll runs every category in the default order with the spec §4.8
// default pooling (only `large` is pooled).
func (s *Scheduler) RunAll(ctx context.Context, forceFull bool) types.CategoryResult {
	return s.RunCategories(ctx, defaultCategoryOrder, forceFull, nil)
}

// RunCategories runs only the named categories, in the order given.
// maxWorkersOverride lets an operator raise any category's pool size above
// the spec default (the per-category concurrency override); a nil or
// zero-valued entry falls back to the default (pooled for `large` at
// workers.LargeCategoryWorkers, sequential otherwise).
//
// Every table run under one RunCategories invocation shares a single
// generated run id, attached to ctx, so the Extractor/Loader/TableRunner
// log lines for the whole pass can be correlated; a caller that already
// attached one (e.g. a test, or a wrapping invocation) is left alone.
func (s *Scheduler) RunCategories(ctx context.Context, categories []catalog.PerformanceCategory, forceFull bool, maxWorkersOverride map[catalog.PerformanceCategory]int) types.CategoryResult {
	if logger.GetRunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, uuid.NewString())
	}
	log := logger.FromContext(ctx, s.logger)

	result := make(types.CategoryResult, len(categories))
	for _, category := range categories {
		if ctx.Err() != nil {
			log.Warn("scheduler: run cancelled before category started", "category", category)
			break
		}
		result[string(category)] = s.runCategory(ctx, category, forceFull, maxWorkersOverride)
	}
	return result
}

func (s *Scheduler) runCategory(ctx context.Context, category catalog.PerformanceCategory, forceFull bool, overrides map[catalog.PerformanceCategory]int) types.CategoryOutcome {
	names := s.catalog.ByCategory(category)
	outcome := types.CategoryOutcome{Total: len(names)}
	if len(names) == 0 {
		return outcome
	}

	log := logger.FromContext(ctx, s.logger)

	workers := s.workersFor(category, overrides)
	if workers <= 1 {
		for _, name := range names {
			if ctx.Err() != nil {
				break
			}
			s.recordResult(log, &outcome, category, s.runner.Run(ctx, name, forceFull))
		}
		return outcome
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result := s.runner.Run(gctx, name, forceFull)
			mu.Lock()
			s.recordResult(log, &outcome, category, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcome
}

// workersFor resolves the worker pool size for category: an explicit
// override wins, otherwise only `large` pools (spec §4.8 default), every
// other category runs with one worker (sequential).
func (s *Scheduler) workersFor(category catalog.PerformanceCategory, overrides map[catalog.PerformanceCategory]int) int {
	if w, ok := overrides[category]; ok && w > 0 {
		return w
	}
	if category != catalog.CategoryLarge {
		return 1
	}
	workers := s.workers.LargeCategoryWorkers
	if workers <= 0 {
		workers = 5
	}
	return workers
}

func (s *Scheduler) recordResult(log *slog.Logger, outcome *types.CategoryOutcome, category catalog.PerformanceCategory, result types.TableRunResult) {
	if result.Success {
		outcome.Success = append(outcome.Success, result.Name)
		s.metrics.RecordTableOutcome(string(category), "success")
		return
	}
	outcome.Failed = append(outcome.Failed, result.Name)
	s.metrics.RecordTableOutcome(string(category), "failed")
	log.Warn("scheduler: table failed", "table", result.Name, "error", result.Error)
}
