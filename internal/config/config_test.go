package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hivemind", cfg.Name)
	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, ":7777", cfg.Hub.ListenAddr)
	assert.Equal(t, "standalone", cfg.Agent.Role)
	assert.Equal(t, 45*time.Second, cfg.TickInterval())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
oracle:
  model: gemini-2.5-pro
  timeout: 10s
agent:
  role: leader
  tick_interval: 20s
persona:
  chattiness: 0.9
  patience: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.Oracle.Model)
	assert.Equal(t, 10*time.Second, cfg.OracleTimeout())
	assert.Equal(t, "leader", cfg.Agent.Role)
	assert.Equal(t, 20*time.Second, cfg.TickInterval())
	assert.Equal(t, 0.9, cfg.Persona.Chattiness)
	assert.Equal(t, 0.1, cfg.Persona.Patience)

	// Unset fields keep defaults.
	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, time.Hour, cfg.MaintenanceTick())
}

func TestLoadClampsPersona(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
persona:
  chattiness: 3.0
  anger_threshold: -1.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.95, cfg.Persona.Chattiness)
	assert.Equal(t, 0.2, cfg.Persona.AngerThreshold)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over GOOGLE_API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gemini-key")
		t.Setenv("GOOGLE_API_KEY", "google-key")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "gemini-key", cfg.Oracle.APIKey)
	})

	t.Run("GOOGLE_API_KEY used as fallback", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "google-key")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "google-key", cfg.Oracle.APIKey)
	})

	t.Run("hub url and state dir", func(t *testing.T) {
		t.Setenv("HIVEMIND_HUB_URL", "ws://hub.example:9999/ws")
		t.Setenv("HIVEMIND_STATE_DIR", "/var/lib/hive")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "ws://hub.example:9999/ws", cfg.Hub.URL)
		assert.Equal(t, "/var/lib/hive", cfg.Agent.PersistDir)
	})
}

func TestDurationAccessorsRejectGarbage(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Timeout = "soon"
	cfg.Agent.TickInterval = "-5s"

	assert.Equal(t, 30*time.Second, cfg.OracleTimeout())
	assert.Equal(t, 45*time.Second, cfg.TickInterval())
}
