// Package pools implements ConnectionPools (spec §4.2): pooled handles for
// SOURCE, REPLICA (both MySQL-family) and ANALYTICS (Postgres-family,
// `raw` schema), with session tuning and a shared ExecuteWithRetry helper.
package pools

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/sjksingh/clinical-warehouse-etl/internal/metrics"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
)

// ConnectionPools holds the three pooled handles the rest of the pipeline
// borrows connections from. Connections are never held across a phase
// (spec §5); every call acquires, uses, and releases implicitly via the
// underlying driver pool.
type ConnectionPools struct {
	Source    *sql.DB
	Replica   *sql.DB
	Analytics *pgxpool.Pool

	sourceLimiter   *rate.Limiter
	retryCfg        runtimeconfig.RetryConfig
	logger          *slog.Logger
	retryMetrics    *metrics.RetryMetrics
	pipelineMetrics *metrics.PipelineMetrics
}

// New wires a ConnectionPools around already-open handles. Production code
// reaches this indirectly via Open; tests construct handles themselves
// (e.g. sqlmock, an in-memory pgx pool) and call New directly.
func New(source, replica *sql.DB, analytics *pgxpool.Pool, cfg *runtimeconfig.Config, logger *slog.Logger) *ConnectionPools {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionPools{
		Source:          source,
		Replica:         replica,
		Analytics:       analytics,
		sourceLimiter:   newSourceLimiter(cfg.RateLimit),
		retryCfg:        cfg.Retry,
		logger:          logger,
		retryMetrics:    metrics.NewRetryMetrics(),
		pipelineMetrics: metrics.NewPipelineMetrics(),
	}
}

// Open builds all three pools from cfg, resolving DSNs from the environment
// variables cfg names. Environment selection is explicit: in production,
// a missing DSN env var is fatal (spec §4.2, §6); in test, an empty DSN is
// tolerated so unit tests can construct a ConnectionPools without live
// databases and call ExecuteWithRetry directly.
func Open(ctx context.Context, cfg *runtimeconfig.Config, logger *slog.Logger) (*ConnectionPools, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sourceDSN, err := resolveDSN(cfg, cfg.Source.EnvVar)
	if err != nil {
		return nil, err
	}
	replicaDSN, err := resolveDSN(cfg, cfg.Replica.EnvVar)
	if err != nil {
		return nil, err
	}
	analyticsDSN, err := resolveDSN(cfg, cfg.Analytics.EnvVar)
	if err != nil {
		return nil, err
	}

	p := New(nil, nil, nil, cfg, logger)

	if sourceDSN != "" {
		p.Source, err = openMySQLPool(ctx, RoleSource, sourceDSN, cfg.Pools, logger)
		if err != nil {
			return nil, err
		}
	}

	if replicaDSN != "" {
		p.Replica, err = openMySQLPool(ctx, RoleReplica, replicaDSN, cfg.Pools, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
	}

	if analyticsDSN != "" {
		p.Analytics, err = openPostgresPool(ctx, analyticsDSN, cfg.Pools, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
	}

	return p, nil
}

func resolveDSN(cfg *runtimeconfig.Config, envVar string) (string, error) {
	if envVar == "" {
		return "", nil
	}
	dsn := os.Getenv(envVar)
	if dsn == "" && cfg.Environment == runtimeconfig.EnvProduction {
		return "", fmt.Errorf("%w: %s", ErrEnvironment, envVar)
	}
	return dsn, nil
}

// Close releases all open pools, tolerating any of them being nil (tests may
// construct a partial ConnectionPools).
func (p *ConnectionPools) Close() {
	if p.Source != nil {
		p.Source.Close()
	}
	if p.Replica != nil {
		p.Replica.Close()
	}
	if p.Analytics != nil {
		p.Analytics.Close()
	}
}
