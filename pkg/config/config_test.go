package config_test

import (
	"testing"
	"time"

	"github.com/kekeling/kekeling/services/distribution/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresNeo4jPassword(t *testing.T) {
	t.Setenv("NEO4J_PASSWORD", "")

	_, err := config.Load()

	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("DISTRIBUTION_SERVER_PORT", "6000")
	t.Setenv("DISTRIBUTION_STATS_BACKOFF_BASE", "250ms")
	t.Setenv("DISTRIBUTION_SETTLEMENT_COOLING_OFF", "not-a-duration")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6000", cfg.Server.Address())
	assert.Equal(t, 250*time.Millisecond, cfg.Service.StatsBackoffBase)
	assert.Equal(t, 7*24*time.Hour, cfg.Service.SettlementCoolingOff)
	assert.Equal(t, 3, cfg.Service.HierarchyDepth)
	assert.Equal(t, uint64(3), cfg.Service.StatsMaxRetries)
	assert.False(t, cfg.Redis.Enabled())
}

func TestServiceConfigValidation(t *testing.T) {
	require.NoError(t, config.DefaultServiceConfig().Validate())

	cfg := config.DefaultServiceConfig()
	cfg.HierarchyDepth = 0
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultServiceConfig()
	cfg.MaxChainWalk = 2
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultServiceConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())
}
