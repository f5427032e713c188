package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hivemind configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Decision oracle configuration
	Oracle OracleConfig `yaml:"oracle"`

	// Coordination hub configuration
	Hub HubConfig `yaml:"hub"`

	// Agent runtime configuration
	Agent AgentConfig `yaml:"agent"`

	// Persona for this agent process
	Persona PersonaConfig `yaml:"persona"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the decision oracle client.
type OracleConfig struct {
	Provider    string  `yaml:"provider"` // gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Timeout     string  `yaml:"timeout"`
	CacheTTL    string  `yaml:"cache_ttl"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// HubConfig configures the coordination hub connection/listener.
type HubConfig struct {
	ListenAddr   string `yaml:"listen_addr"`  // hub mode: address to listen on
	URL          string `yaml:"url"`          // agent mode: ws://host:port/ws
	PingInterval string `yaml:"ping_interval"`
	SnapshotTTL  string `yaml:"snapshot_ttl"` // full-state snapshot staleness bound
}

// AgentConfig configures the per-agent runtime.
type AgentConfig struct {
	Role            string `yaml:"role"`      // leader, worker, standalone
	LeaderID        string `yaml:"leader_id"` // required when role=worker
	TickInterval    string `yaml:"tick_interval"`
	MaintenanceTick string `yaml:"maintenance_tick"`
	PersistDir      string `yaml:"persist_dir"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns a Config with sensible defaults applied.
func Default() *Config {
	return &Config{
		Name:    "hivemind",
		Version: "0.3.0",
		Oracle: OracleConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			Timeout:     "30s",
			CacheTTL:    "30s",
			MaxTokens:   120,
			Temperature: 0.7,
		},
		Hub: HubConfig{
			ListenAddr:   ":7777",
			URL:          "ws://127.0.0.1:7777/ws",
			PingInterval: "15s",
			SnapshotTTL:  "5s",
		},
		Agent: AgentConfig{
			Role:            "standalone",
			TickInterval:    "45s",
			MaintenanceTick: "1h",
			PersistDir:      ".hive/state",
		},
		Persona: DefaultPersona(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given path, falling back to defaults for
// anything the file does not set. A missing file is not an error: you get the
// defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.Persona.Clamp()
	return cfg, nil
}

// LoadWorkspace loads .hive/config.yaml relative to the workspace root.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".hive", "config.yaml"))
}

// applyEnvOverrides applies environment variable overrides.
// GEMINI_API_KEY / GOOGLE_API_KEY set the oracle key; HIVEMIND_HUB_URL points
// an agent at a non-default hub.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
		if c.Oracle.Provider == "" {
			c.Oracle.Provider = "gemini"
		}
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Oracle.APIKey == "" {
		c.Oracle.APIKey = key
		if c.Oracle.Provider == "" {
			c.Oracle.Provider = "gemini"
		}
	}
	if url := os.Getenv("HIVEMIND_HUB_URL"); url != "" {
		c.Hub.URL = url
	}
	if dir := os.Getenv("HIVEMIND_STATE_DIR"); dir != "" {
		c.Agent.PersistDir = dir
	}
}

// OracleTimeout parses the oracle timeout, defaulting to 30s.
func (c *Config) OracleTimeout() time.Duration {
	return parseDuration(c.Oracle.Timeout, 30*time.Second)
}

// OracleCacheTTL parses the oracle cache TTL, defaulting to 30s.
func (c *Config) OracleCacheTTL() time.Duration {
	return parseDuration(c.Oracle.CacheTTL, 30*time.Second)
}

// TickInterval parses the leader tick interval, defaulting to 45s.
func (c *Config) TickInterval() time.Duration {
	return parseDuration(c.Agent.TickInterval, 45*time.Second)
}

// MaintenanceTick parses the maintenance interval, defaulting to 1h.
func (c *Config) MaintenanceTick() time.Duration {
	return parseDuration(c.Agent.MaintenanceTick, time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
