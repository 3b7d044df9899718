package pools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
)

// openPostgresPool opens a pgxpool.Pool against the ANALYTICS warehouse,
// applying large working-memory session defaults (spec §4.2).
func openPostgresPool(ctx context.Context, dsn string, cfg runtimeconfig.PoolsConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: analytics pool: parsing dsn: %v", ErrConnect, err)
	}

	poolConfig.MaxConns = cfg.AnalyticsMaxConn
	poolConfig.MinConns = cfg.AnalyticsMinConn
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: analytics pool: %v", ErrConnect, err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: analytics pool: ping: %v", ErrConnect, err)
	}

	logger.Info("connected to analytics pool", "max_conns", cfg.AnalyticsMaxConn, "min_conns", cfg.AnalyticsMinConn)

	applyPostgresTuning(connectCtx, pool, logger)

	return pool, nil
}

// applyPostgresTuning sets large working-memory defaults for the warehouse
// session. Settings requiring elevated privilege are skipped with a log
// record, never fatal (spec §4.2).
func applyPostgresTuning(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	statements := []string{
		"SET work_mem = '256MB'",
		"SET maintenance_work_mem = '512MB'",
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			logger.Warn("skipping session tuning statement (insufficient privilege or unsupported)",
				"role", RoleAnalytics, "statement", stmt, "error", err)
		}
	}
}
