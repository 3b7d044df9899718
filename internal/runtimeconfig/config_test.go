package runtimeconfig

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, EnvProduction, cfg.Environment)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, 5, cfg.Workers.LargeCategoryWorkers)
	require.Equal(t, 1000, cfg.Batch.StandardBatchSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper(t)

	os.Setenv("WORKERS_LARGE_CATEGORY_WORKERS", "9")
	defer os.Unsetenv("WORKERS_LARGE_CATEGORY_WORKERS")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Workers.LargeCategoryWorkers)
}

func TestValidate_RejectsUnknownEnvironment(t *testing.T) {
	cfg := &Config{Environment: "staging"}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_ProductionRequiresDSNEnvVars(t *testing.T) {
	resetViper(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Source.EnvVar = ""
	err = cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsNonPositivePoolSizes(t *testing.T) {
	resetViper(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Pools.SourceMaxOpen = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsLowMultiplier(t *testing.T) {
	resetViper(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Retry.Multiplier = 0.5
	require.Error(t, cfg.Validate())
}
