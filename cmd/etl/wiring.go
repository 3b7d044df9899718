package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sjksingh/clinical-warehouse-etl/internal/catalog"
	"github.com/sjksingh/clinical-warehouse-etl/internal/extractor"
	"github.com/sjksingh/clinical-warehouse-etl/internal/loader"
	"github.com/sjksingh/clinical-warehouse-etl/internal/monitoring"
	"github.com/sjksingh/clinical-warehouse-etl/internal/pools"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runner"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
	"github.com/sjksingh/clinical-warehouse-etl/internal/scheduler"
	"github.com/sjksingh/clinical-warehouse-etl/internal/schema"
	"github.com/sjksingh/clinical-warehouse-etl/internal/tracking"
	"github.com/sjksingh/clinical-warehouse-etl/pkg/logger"
)

// analyticsSchema is the warehouse schema the core writes to. Of the four
// schemas ConnectionPools can reach (spec §4.2: raw, staging, intermediate,
// marts), the core owns only raw; downstream modeling owns the rest.
const analyticsSchema = "raw"

// pipeline bundles every wired component one CLI invocation needs. Built
// once per process by newPipeline, torn down by close.
type pipeline struct {
	cat       *catalog.Catalog
	pools     *pools.ConnectionPools
	scheduler *scheduler.Scheduler
	runner    *runner.TableRunner
	monitor   *monitoring.Reader
	logger    *slog.Logger
}

func (p *pipeline) close() {
	if p.pools != nil {
		p.pools.Close()
	}
}

// newPipeline wires ConfigCatalog through ConnectionPools, TrackingStore,
// SchemaAdapter, Extractor, Loader, TableRunner and Scheduler, in the
// dependency order spec §2 lays out (leaves first).
func newPipeline(ctx context.Context, catalogPath, configPath string, dryRun bool) (*pipeline, error) {
	cfg, err := runtimeconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading runtime config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	connPools, err := pools.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening connection pools: %w", err)
	}

	replicaTracking := tracking.NewMySQLStore(connPools.Replica)
	analyticsTracking := tracking.NewPostgresStore(connPools.Analytics, analyticsSchema)

	var redisClient *redis.Client
	if cfg.Schema.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Schema.RedisAddr})
	}
	cache, err := schema.NewDecisionCache(cfg.Schema.LRUSize, redisClient, cfg.Schema.CacheTTL, log)
	if err != nil {
		connPools.Close()
		return nil, fmt.Errorf("building schema decision cache: %w", err)
	}

	adapter := schema.NewAdapter(connPools.Replica, connPools.Analytics, analyticsSchema, cache, cfg.Schema.SampleSize, log)

	ex := extractor.New(connPools, cat, replicaTracking, log)
	ld := loader.New(connPools, cat, adapter, analyticsTracking, replicaTracking, analyticsSchema, cfg.Batch, cfg.Workers, log)
	tr := runner.New(cat, ex, ld, replicaTracking, dryRun, log)
	sch := scheduler.New(cat, tr, cfg.Workers, log)

	return &pipeline{
		cat:       cat,
		pools:     connPools,
		scheduler: sch,
		runner:    tr,
		monitor:   monitoring.NewReader(cat, replicaTracking, analyticsTracking),
		logger:    log,
	}, nil
}
