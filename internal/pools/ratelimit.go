package pools

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sjksingh/clinical-warehouse-etl/internal/resilience"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
)

// sourceLimiter rate-limits operations that read from SOURCE, the remote
// primary, so a full-catalog run does not overwhelm it (spec §4.2, §4.5).
func newSourceLimiter(cfg runtimeconfig.RateLimit) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

// ExecuteWithRetry wraps op with the shared retry policy and, for SOURCE
// operations, blocks on the per-operation rate limiter first (spec §4.2).
func (p *ConnectionPools) ExecuteWithRetry(ctx context.Context, role Role, operation string, op func(ctx context.Context) error) error {
	if role == RoleSource {
		waitStart := time.Now()
		if err := p.sourceLimiter.Wait(ctx); err != nil {
			return err
		}
		p.pipelineMetrics.RecordRateLimiterWait(operation, time.Since(waitStart).Seconds())
	}

	policy := &resilience.RetryPolicy{
		MaxRetries:    p.retryCfg.MaxRetries,
		BaseDelay:     p.retryCfg.BaseDelay,
		MaxDelay:      p.retryCfg.MaxDelay,
		Multiplier:    p.retryCfg.Multiplier,
		Jitter:        p.retryCfg.Jitter,
		ErrorChecker:  p.errorCheckerFor(role),
		Logger:        p.logger,
		Metrics:       p.retryMetrics,
		OperationName: operation,
	}

	return resilience.WithRetry(ctx, policy, func() error {
		return op(ctx)
	})
}

func (p *ConnectionPools) errorCheckerFor(role Role) resilience.RetryableErrorChecker {
	if role == RoleAnalytics {
		return resilience.NewPgTransientChecker()
	}
	return resilience.NewMySQLTransientChecker()
}
