package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discovery.Port != DefaultDiscoveryPort || cfg.Discovery.Mode != ModeBroadcast {
		t.Errorf("unexpected discovery defaults %+v", cfg.Discovery)
	}
	if !cfg.Position.AutoLocate || !cfg.Discovery.ListenCloseEvent {
		t.Errorf("expected auto_locate and listen_close_event on, got %+v", cfg)
	}
	if cfg.DiscoveryWindow().Milliseconds() != 100 {
		t.Errorf("expected 100ms window, got %s", cfg.DiscoveryWindow())
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
discovery:
  mode: local
  port: 5100
  window_ms: 250
position:
  auto_locate: false
bridge:
  addr: 127.0.0.1:9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst, err := cfg.Destination()
	if err != nil {
		t.Fatalf("destination: %v", err)
	}
	if dst.String() != "127.0.0.1:5100" {
		t.Errorf("expected local destination, got %s", dst)
	}
	if cfg.DiscoveryWindow().Milliseconds() != 250 {
		t.Errorf("expected 250ms window, got %s", cfg.DiscoveryWindow())
	}
	if cfg.Position.AutoLocate {
		t.Error("expected auto_locate off")
	}
	if cfg.Bridge.Addr != "127.0.0.1:9000" || cfg.Bridge.History != 100 {
		t.Errorf("unexpected bridge config %+v", cfg.Bridge)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("JANIM_DISCOVERY_PORT", "6000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discovery.Port != 6000 {
		t.Errorf("expected env port 6000, got %d", cfg.Discovery.Port)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 7
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"mode", "config_version: 1\ndiscovery:\n  mode: multicast\n", "unsupported discovery.mode"},
		{"port", "config_version: 1\ndiscovery:\n  port: 70000\n", "out of range"},
		{"window", "config_version: 1\ndiscovery:\n  window_ms: 0\n", "window_ms"},
	}
	for _, tt := range tests {
		path := writeConfig(t, tt.content)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected %q error, got %v", tt.name, tt.want, err)
		}
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Errorf("expected %s, got %s", path, written)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Error("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Errorf("overwrite failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("expected defaults after round trip, got %+v", cfg)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
