package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	l, err := Load("")
	require.NoError(t, err)

	cfg := l.Current()
	require.Equal(t, "ratchetd.db", cfg.Storage.DSN)
	require.Equal(t, 8, cfg.Engine.BatchSize)
	require.Equal(t, 30*time.Minute, cfg.MCP.SessionTimeout)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratchetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  dsn: /var/lib/ratchetd/ratchet.db
pool:
  count: 4
mcp:
  require_auth: true
  listen_addr: ":9000"
`), 0o644))

	l, err := Load(path)
	require.NoError(t, err)

	cfg := l.Current()
	require.Equal(t, "/var/lib/ratchetd/ratchet.db", cfg.Storage.DSN)
	require.Equal(t, 4, cfg.Pool.Count)
	require.True(t, cfg.MCP.RequireAuth)
	require.Equal(t, ":9000", cfg.MCP.ListenAddr)

	// Unset fields still fall back to Defaults().
	require.Equal(t, 8, cfg.Engine.BatchSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RATCHET_STORAGE_DSN", "/tmp/from-env.db")

	l, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "/tmp/from-env.db", l.Current().Storage.DSN)
}

func TestToPoolConfigRoundTrip(t *testing.T) {
	l, err := Load("")
	require.NoError(t, err)

	pc := l.Current().ToPoolConfig()
	require.True(t, pc.RestartOnCrash)
	require.Equal(t, 5, pc.MaxRestartAttempts)
}

func TestOnReloadRegistersCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratchetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	l, err := Load(path)
	require.NoError(t, err)

	called := make(chan Config, 1)
	l.OnReload(func(cfg Config) { called <- cfg })

	// reload() is exercised directly; fsnotify's own delivery timing is
	// not something a unit test should depend on.
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	l.reload()

	select {
	case cfg := <-called:
		require.Equal(t, "debug", cfg.Log.Level)
	default:
		t.Fatal("onReload callback was not invoked")
	}
}
