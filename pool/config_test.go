package pool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
name: orders-pool
conninfo: "sqlserver://localhost?database=orders"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "orders-pool", cfg.Name)
	assert.Equal(t, 4, cfg.MinConns)
	assert.Equal(t, 4, cfg.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 10*time.Minute, cfg.MaxIdle)
	assert.Equal(t, 5*time.Minute, cfg.ReconnectTimeout)
	assert.Equal(t, 3, cfg.NumWorkers)
}

func TestLoadConfigRejectsInconsistentBounds(t *testing.T) {
	path := writeConfig(t, `
min_conns: 10
max_conns: 2
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestConfigOptionsRoundTrip(t *testing.T) {
	path := writeConfig(t, `
name: sessions-pool
min_conns: 2
max_conns: 8
num_workers: 5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Equal(t, "sessions-pool", opts.Name)
	assert.Equal(t, 2, opts.MinConns)
	assert.Equal(t, 8, opts.MaxConns)
	assert.Equal(t, 5, opts.NumWorkers)
}
