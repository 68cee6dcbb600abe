package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4jURI)
	assert.Equal(t, 50, cfg.MergeBatchSize)
	assert.Equal(t, 3, cfg.MergeMaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval, "background sweep defaults to off")
	assert.Empty(t, cfg.ResetToken, "reset defaults to disabled")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("MERGE_BATCH_SIZE", "100")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("RESET_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 100, cfg.MergeBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "secret", cfg.ResetToken)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Neo4jURI:         "bolt://localhost:7687",
		Neo4jUser:        "neo4j",
		Neo4jPassword:    "password",
		MergeBatchSize:   50,
		MergeMaxAttempts: 3,
	}
	assert.NoError(t, cfg.Validate())

	invalid := *cfg
	invalid.Neo4jURI = ""
	assert.Error(t, invalid.Validate())

	invalid = *cfg
	invalid.MergeBatchSize = 0
	assert.Error(t, invalid.Validate())
}
