package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "nonexistent.env"))
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 30, cfg.EnrichConcurrency)
	assert.Equal(t, 6, cfg.EnrichBatchSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: /srv/blaulicht\nenrich_batch_size: 9\n"), 0o644))

	cfg, err := Load(cfgPath, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/blaulicht", cfg.DataDir)
	assert.Equal(t, 9, cfg.EnrichBatchSize)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("enrich_batch_size: 9\n"), 0o644))

	t.Setenv("PIPELINE_ENRICH_BATCH_SIZE", "3")
	cfg, err := Load(cfgPath, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.EnrichBatchSize)
}

func TestRequireLLMFailsWithoutKey(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireLLM())
	cfg.LLMAPIKey = "sk-test"
	cfg.LLMBaseURL = "https://api.example.com"
	assert.NoError(t, cfg.RequireLLM())
}
