package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []int{3000, 3001, 3002, 3003, 4000, 5173, 8080}, cfg.Discovery.Ports)
	assert.Equal(t, []string{"next dev", "next-server"}, cfg.Discovery.Signatures)
	assert.Equal(t, 3000, cfg.Discovery.DefaultPort)
	assert.Equal(t, "/_next/mcp", cfg.Discovery.EndpointPath)
	assert.Equal(t, time.Second, cfg.Discovery.ProbeTimeout())
	assert.Equal(t, 5*time.Second, cfg.Discovery.OverallTimeout())
	assert.Equal(t, 30*time.Second, cfg.Discovery.CacheTTL())
	assert.Equal(t, "chrome-devtools", cfg.Automation.Backend)
	assert.Equal(t, 10*time.Second, cfg.Automation.StartupTimeout())
	assert.Equal(t, 30*time.Second, cfg.Bridge.RequestTimeout())
	assert.Equal(t, 7777, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[discovery]
ports = [4000]
endpoint_path = "/__debug/mcp"

[automation]
backend = "playwright"
headless = true

[log]
level = "debug"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{4000}, cfg.Discovery.Ports)
	assert.Equal(t, "/__debug/mcp", cfg.Discovery.EndpointPath)
	assert.Equal(t, "playwright", cfg.Automation.Backend)
	assert.True(t, cfg.Automation.Headless)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Everything unset keeps its default.
	assert.Equal(t, []string{"next dev", "next-server"}, cfg.Discovery.Signatures)
	assert.Equal(t, 3000, cfg.Discovery.DefaultPort)
	assert.Equal(t, 30*time.Second, cfg.Bridge.RequestTimeout())
	assert.Equal(t, 7777, cfg.HTTP.Port)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[discovery
ports = what`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0644))

	var (
		mu     sync.Mutex
		levels []string
	)
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		levels = append(levels, cfg.Log.Level)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0644))

	reloaded := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- struct{}{}
	}, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	select {
	case <-reloaded:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
