package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/curio/internal/model"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	opts := cfg.StoreOptions()
	assert.Equal(t, 24, opts.DefaultPageSize)
	assert.Equal(t, 100, opts.MaxPageSize)
	assert.Equal(t, model.SortNewest, opts.DefaultSort)
	assert.Equal(t, model.Variants, opts.PreferredVariants)
	assert.False(t, cfg.IsPostgres())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://localhost/curio
query:
  default_size: 10
summaries:
  preferred_variants: [executive, audio]
feeds:
  poll_interval: 30m
`), 0o600))
	t.Setenv("CURIO_QUERY_MAX_SIZE", "50")
	t.Setenv("CURIO_DEFAULT_SOURCE", "Pod")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsPostgres())
	assert.Equal(t, "postgres://localhost/curio", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Query.DefaultSize)
	assert.Equal(t, 50, cfg.Query.MaxSize)
	assert.Equal(t, "newest", cfg.Query.DefaultSort)
	assert.Equal(t, 30*time.Minute, cfg.Feeds.PollInterval)
	assert.Equal(t, "pod", cfg.DefaultSource)
	assert.Equal(t, []model.Variant{model.VariantExecutive, model.VariantAudio}, cfg.StoreOptions().PreferredVariants)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Addr, cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"default above max", func(c *Config) { c.Query.DefaultSize = 200 }},
		{"bad sort", func(c *Config) { c.Query.DefaultSort = "random" }},
		{"bad variant", func(c *Config) { c.Summaries.PreferredVariants = []string{"poem"} }},
		{"bad source", func(c *Config) { c.DefaultSource = "not a slug" }},
		{"negative poll", func(c *Config) { c.Feeds.PollInterval = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
