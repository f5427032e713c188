package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupWorkspace writes a .hive/config.yaml and initializes logging against it.
func setupWorkspace(t *testing.T, configYAML string) string {
	t.Helper()
	ws := t.TempDir()
	if configYAML != "" {
		hiveDir := filepath.Join(ws, ".hive")
		if err := os.MkdirAll(hiveDir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(hiveDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(CloseAll)
	return ws
}

func TestProductionModeIsSilent(t *testing.T) {
	ws := setupWorkspace(t, "") // no config at all

	Hub("this should go nowhere")
	Get(CategoryArbiter).Error("not even errors")

	if _, err := os.Stat(filepath.Join(ws, ".hive", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory created in production mode")
	}
}

func TestDebugModeWritesCategoryFiles(t *testing.T) {
	ws := setupWorkspace(t, `
logging:
  debug_mode: true
  level: debug
`)

	Hub("agent %s registered", "Blaze")
	Get(CategoryArbiter).Debug("decision pipeline ran")
	CloseAll()

	logs := filepath.Join(ws, ".hive", "logs")
	entries, err := os.ReadDir(logs)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}

	var hubFile string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_hub.log") {
			hubFile = filepath.Join(logs, e.Name())
		}
	}
	if hubFile == "" {
		t.Fatalf("no hub log file in %v", entries)
	}

	data, err := os.ReadFile(hubFile)
	if err != nil {
		t.Fatalf("read hub log: %v", err)
	}
	if !strings.Contains(string(data), "agent Blaze registered") {
		t.Errorf("hub log missing entry: %q", data)
	}
}

func TestCategoryFilter(t *testing.T) {
	setupWorkspace(t, `
logging:
  debug_mode: true
  level: debug
  categories:
    hub: true
    relay: false
`)

	if !IsCategoryEnabled(CategoryHub) {
		t.Error("hub should be enabled")
	}
	if IsCategoryEnabled(CategoryRelay) {
		t.Error("relay should be disabled")
	}
	// Unlisted categories default to enabled in debug mode.
	if !IsCategoryEnabled(CategorySoul) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestLevelFilter(t *testing.T) {
	ws := setupWorkspace(t, `
logging:
  debug_mode: true
  level: warn
`)

	l := Get(CategoryTick)
	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")
	l.Error("kept as well")
	CloseAll()

	logs := filepath.Join(ws, ".hive", "logs")
	entries, _ := os.ReadDir(logs)
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), "_tick.log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(logs, e.Name()))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		text := string(data)
		if strings.Contains(text, "dropped") {
			t.Errorf("below-level entries written: %q", text)
		}
		if !strings.Contains(text, "kept") || !strings.Contains(text, "kept as well") {
			t.Errorf("warn/error entries missing: %q", text)
		}
		return
	}
	t.Fatal("no tick log file written")
}
