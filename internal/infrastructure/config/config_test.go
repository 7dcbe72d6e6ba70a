package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesEnvDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Orchestrator.URL, cfg.Orchestrator.URL)
	assert.Equal(t, def.Orchestrator.ReconnectDelay, cfg.Orchestrator.ReconnectDelay)
	assert.Equal(t, def.Arena.BaseURL, cfg.Arena.BaseURL)
	assert.Equal(t, def.Auth.CookieName, cfg.Auth.CookieName)
	assert.Equal(t, def.Recovery.ReplaySpacing, cfg.Recovery.ReplaySpacing)
	assert.Equal(t, def.Store.Path, cfg.Store.Path)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_URL", "ws://10.0.0.2:9000/ws")
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("AUTH_COOKIE", "arena-auth-staging")
	t.Setenv("ARENA_RPS", "1.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://10.0.0.2:9000/ws", cfg.Orchestrator.URL)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.ReconnectDelay)
	assert.Equal(t, "arena-auth-staging", cfg.Auth.CookieName)
	assert.Equal(t, 1.5, cfg.Arena.RequestsPerSecond)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("RECONNECT_DELAY", "not-a-duration")

	cfg := LoadOrDefault()
	assert.Equal(t, Default().Orchestrator.ReconnectDelay, cfg.Orchestrator.ReconnectDelay)
}

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")

	content := `
actions:
  sign: "7f3a9c0d1e"
  notify: "b2c4d6e8f0"
models:
  - id: "11111111-2222-3333-4444-555555555555"
    publicName: "test-model"
    type: "chat"
    organization: "testorg"
  - id: "66666666-7777-8888-9999-000000000000"
    publicName: "image-model"
    type: "image"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seeds, err := LoadSeeds(path)
	require.NoError(t, err)

	assert.Equal(t, "7f3a9c0d1e", seeds.Actions["sign"])
	assert.Len(t, seeds.Models, 2)

	reg := seeds.Registry()
	require.Contains(t, reg, "test-model")
	assert.Equal(t, "chat", reg["test-model"].Type)
	assert.Equal(t, "image", reg["image-model"].Type)
}

func TestLoadSeedsMissingFile(t *testing.T) {
	seeds, err := LoadSeeds(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, seeds.Actions)
	assert.Nil(t, seeds.Registry())
}

func TestLoadSeedsEmptyPath(t *testing.T) {
	seeds, err := LoadSeeds("")
	require.NoError(t, err)
	assert.Empty(t, seeds.Models)
}
