package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	v := New()
	v.Set(KeyDir, dir)

	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.True(t, cfg.SQLite)
	assert.True(t, cfg.JSON)
	assert.True(t, cfg.Pickle)
	assert.True(t, cfg.CSV)
	assert.False(t, cfg.YAML)
	assert.Equal(t, "sar.db", cfg.DBFile)
	assert.Equal(t, "01/01/1980", cfg.StartDate)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.DirExists(t, dir, "output directory should be created")
}

func TestLoad_FileMergesWithDefaults(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")
	content := `{
  "DIR": "` + filepath.ToSlash(filepath.Join(tmp, "data")) + `",
  "PICKLE": false,
  "CSV": false,
  "MAX_DELAY": "250ms",
  "WORKERS": 3
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.False(t, cfg.Pickle)
	assert.False(t, cfg.CSV)
	assert.True(t, cfg.JSON, "missing keys should fall back to defaults")
	assert.True(t, cfg.SQLite)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxDelay)
	assert.Equal(t, 3, cfg.HistoryWorkers())

	formats := cfg.Formats()
	assert.True(t, formats.SQLite)
	assert.True(t, formats.JSON)
	assert.False(t, formats.Blob)
	assert.False(t, formats.CSV)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WRANGLER_JSON", "false")
	t.Setenv("WRANGLER_DIR", filepath.Join(t.TempDir(), "env"))

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.False(t, cfg.JSON)
	assert.DirExists(t, cfg.Dir)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	cfg, err := Load(New(), path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestFromViper_Validation(t *testing.T) {
	v := New()
	v.Set(KeyStartDate, "1980-01-01")
	v.Set(KeyWorkers, -1)

	_, err := FromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyStartDate)
	assert.Contains(t, err.Error(), KeyWorkers)

	v = New()
	v.Set(KeyLogLevel, "loud")
	_, err = FromViper(v)
	assert.Error(t, err)
}

func TestDefaultWorkers(t *testing.T) {
	assert.Equal(t, 5, DefaultWorkers(1))
	assert.Equal(t, 12, DefaultWorkers(8))
	assert.Equal(t, 32, DefaultWorkers(28))
	assert.Equal(t, 32, DefaultWorkers(128))

	cfg := &Config{}
	assert.GreaterOrEqual(t, cfg.HistoryWorkers(), 5)
	assert.LessOrEqual(t, cfg.HistoryWorkers(), 32)
}
