package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen.Address)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, "./www", cfg.Static.Root)
	assert.Equal(t, 10*1024*1024, cfg.Limits.MaxChunkedBodyBytes)
	assert.Equal(t, 128, cfg.Listen.Backlog)
}

func TestLoadClampsWorkerCountToHardCeiling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  count: 9000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, MaxWorkers, cfg.Workers.Count)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
listen:
  address: ":9090"
workers:
  count: 8
static:
  root: "/srv/www"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen.Address)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, "/srv/www", cfg.Static.Root)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  address: \":9090\"\n"), 0o644))

	t.Setenv("PREFORKD_LISTEN_ADDRESS", ":7070")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen.Address)
}
