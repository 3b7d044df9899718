package pools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjksingh/clinical-warehouse-etl/internal/resilience"
	"github.com/sjksingh/clinical-warehouse-etl/internal/runtimeconfig"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPingUntilReady_SucceedsImmediately(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	err = pingUntilReady(context.Background(), db, time.Second, discardLogger())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingUntilReady_RetriesThenSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	err = pingUntilReady(context.Background(), db, 2*time.Second, discardLogger())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingUntilReady_TimesOut(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused")).WillDelayFor(0)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = pingUntilReady(context.Background(), db, 600*time.Millisecond, discardLogger())
	assert.Error(t, err)
}

func TestPingUntilReady_RespectsContextCancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pingUntilReady(ctx, db, 5*time.Second, discardLogger())
	assert.Error(t, err)
}

func TestApplyMySQLBulkTuning_WarnsOnErrorWithoutFailing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET SESSION foreign_key_checks = 0").WillReturnError(errors.New("access denied"))
	mock.ExpectExec("SET SESSION unique_checks = 0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION autocommit = 0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION bulk_insert_buffer_size = 268435456").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NotPanics(t, func() {
		applyMySQLBulkTuning(context.Background(), db, RoleReplica, discardLogger())
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDSN_EmptyEnvVarSkipsRole(t *testing.T) {
	cfg := &runtimeconfig.Config{Environment: runtimeconfig.EnvProduction}
	dsn, err := resolveDSN(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "", dsn)
}

func TestResolveDSN_ProductionRequiresEnvVarSet(t *testing.T) {
	cfg := &runtimeconfig.Config{Environment: runtimeconfig.EnvProduction}
	t.Setenv("PW_TEST_MISSING_DSN", "")

	_, err := resolveDSN(cfg, "PW_TEST_MISSING_DSN")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnvironment)
}

func TestResolveDSN_TestEnvironmentToleratesMissingDSN(t *testing.T) {
	cfg := &runtimeconfig.Config{Environment: runtimeconfig.EnvTest}

	dsn, err := resolveDSN(cfg, "PW_TEST_MISSING_DSN")
	require.NoError(t, err)
	assert.Equal(t, "", dsn)
}

func TestResolveDSN_ReadsSetEnvVar(t *testing.T) {
	cfg := &runtimeconfig.Config{Environment: runtimeconfig.EnvProduction}
	t.Setenv("PW_TEST_DSN", "user:pass@tcp(127.0.0.1:3306)/warehouse")

	dsn, err := resolveDSN(cfg, "PW_TEST_DSN")
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(127.0.0.1:3306)/warehouse", dsn)
}

func TestOpen_NoDSNsConfiguredReturnsEmptyPools(t *testing.T) {
	cfg := &runtimeconfig.Config{Environment: runtimeconfig.EnvTest}

	p, err := Open(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.Source)
	assert.Nil(t, p.Replica)
	assert.Nil(t, p.Analytics)

	p.Close()
}

func TestNew_WiresHandlesAndDefaults(t *testing.T) {
	sourceDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sourceDB.Close()

	cfg := &runtimeconfig.Config{
		RateLimit: runtimeconfig.RateLimit{RequestsPerSecond: 50, Burst: 10},
		Retry:     runtimeconfig.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0},
	}

	p := New(sourceDB, nil, nil, cfg, nil)
	assert.Same(t, sourceDB, p.Source)
	assert.Nil(t, p.Replica)
	assert.Nil(t, p.Analytics)

	calls := 0
	err = p.ExecuteWithRetry(context.Background(), RoleSource, "test_op", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_SourceWaitsOnLimiterThenSucceeds(t *testing.T) {
	p := &ConnectionPools{
		sourceLimiter: newSourceLimiter(runtimeconfig.RateLimit{RequestsPerSecond: 1000, Burst: 10}),
		retryCfg: runtimeconfig.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			Multiplier: 2.0,
		},
		logger:          discardLogger(),
		retryMetrics:    nil,
		pipelineMetrics: nil,
	}

	calls := 0
	err := p.ExecuteWithRetry(context.Background(), RoleSource, "test_op", func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_AnalyticsUsesPgChecker(t *testing.T) {
	p := &ConnectionPools{
		retryCfg: runtimeconfig.RetryConfig{
			MaxRetries: 0,
			BaseDelay:  time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			Multiplier: 2.0,
		},
		logger: discardLogger(),
	}

	checker := p.errorCheckerFor(RoleAnalytics)
	require.IsType(t, &resilience.PgTransientChecker{}, checker)

	checker2 := p.errorCheckerFor(RoleReplica)
	require.IsType(t, &resilience.MySQLTransientChecker{}, checker2)
}

func TestClose_TreatsNilPoolsAsNoop(t *testing.T) {
	p := &ConnectionPools{}
	assert.NotPanics(t, func() {
		p.Close()
	})
}
