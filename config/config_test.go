package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, defaultImageHost, cfg.ProvidersConfig.ImageHost)
	assert.Equal(t, defaultScoreHost, cfg.ProvidersConfig.ScoreHost)
	assert.Equal(t, defaultTimeout, cfg.ProvidersConfig.Timeout)
	assert.Equal(t, 512, cfg.ProvidersConfig.Width)
	assert.Equal(t, 1, cfg.ProvidersConfig.Steps)
	assert.Equal(t, 5.0, cfg.ProvidersConfig.CfgScale)
	assert.Equal(t, defaultCacheSize, cfg.CacheConfig.Size)
	assert.Equal(t, defaultSweepSpec, cfg.RoomsConfig.SweepSpec)
	assert.False(t, cfg.RoomsConfig.RetainEmptyPrivate)
	assert.Empty(t, cfg.OIDCConfigs)
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.toml"), []byte(`
log_level = "debug"

[providers]
image_host = "http://sd:7860"
timeout = "30s"
steps = 20

[rooms]
retain_empty_private = true
sweep_spec = "@every 1m"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.toml"), []byte(`
[relay]
filter = 'len(Text) < 100'

[persistence]
type = "buntdb"
dsn = "images.db"

[[oidc]]
name = "google"
provider_url = "https://accounts.google.com"
`), 0o600))

	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--providers-score-host", "http://score:9000"}))

	cfg, err := ReadConfiguration(dir, flagSet)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://sd:7860", cfg.ProvidersConfig.ImageHost)
	assert.Equal(t, "http://score:9000", cfg.ProvidersConfig.ScoreHost)
	assert.Equal(t, 30*time.Second, cfg.ProvidersConfig.Timeout)
	assert.Equal(t, 20, cfg.ProvidersConfig.Steps)
	assert.True(t, cfg.RoomsConfig.RetainEmptyPrivate)
	assert.Equal(t, "@every 1m", cfg.RoomsConfig.SweepSpec)
	assert.Equal(t, "len(Text) < 100", cfg.RelayConfig.Filter)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, "images.db", cfg.PersistenceConfig.DSN)
	require.Len(t, cfg.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.OIDCConfigs[0].Name)
}

func TestReadConfigurationMissingFile(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(t.TempDir(), "missing.toml"), nil)
	assert.Error(t, err)
}
