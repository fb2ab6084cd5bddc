package appconfig

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	ListenAddr    string          `mapstructure:"listen_addr" yaml:"listen_addr"`
	Discovery     DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Position      PositionConfig  `mapstructure:"position" yaml:"position"`
	Bridge        BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	Watcher       WatcherConfig   `mapstructure:"watcher" yaml:"watcher"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Discovery modes.
const (
	ModeBroadcast = "broadcast"
	ModeLocal     = "local"
)

// DefaultDiscoveryPort is the well-known port janim instances answer find on.
const DefaultDiscoveryPort = 40565

// DiscoveryConfig controls how janim instances are found.
type DiscoveryConfig struct {
	Mode             string `mapstructure:"mode" yaml:"mode"`
	Port             int    `mapstructure:"port" yaml:"port"`
	WindowMS         int    `mapstructure:"window_ms" yaml:"window_ms"`
	ListenCloseEvent bool   `mapstructure:"listen_close_event" yaml:"listen_close_event"`
}

// PositionConfig controls the execution line indicator.
type PositionConfig struct {
	AutoLocate bool `mapstructure:"auto_locate" yaml:"auto_locate"`
}

// BridgeConfig configures the editor bridge HTTP server.
type BridgeConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	History int    `mapstructure:"history" yaml:"history"`
}

// WatcherConfig configures save detection for the watch command.
type WatcherConfig struct {
	DebounceMS int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		ListenAddr:    "0.0.0.0:0",
		Discovery: DiscoveryConfig{
			Mode:             ModeBroadcast,
			Port:             DefaultDiscoveryPort,
			WindowMS:         100,
			ListenCloseEvent: true,
		},
		Position: PositionConfig{
			AutoLocate: true,
		},
		Bridge: BridgeConfig{
			Addr:    "127.0.0.1:8421",
			History: 100,
		},
		Watcher: WatcherConfig{
			DebounceMS: 500,
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "janim-toolbox", "config.yaml"), nil
}

// Destination resolves where the find probe is sent.
func (c Config) Destination() (netip.AddrPort, error) {
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("discovery.port %d out of range", c.Discovery.Port)
	}
	port := uint16(c.Discovery.Port)
	switch c.Discovery.Mode {
	case ModeBroadcast, "":
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port), nil
	case ModeLocal:
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("unsupported discovery.mode %q", c.Discovery.Mode)
	}
}

// DiscoveryWindow is the find_re collection window.
func (c Config) DiscoveryWindow() time.Duration {
	return time.Duration(c.Discovery.WindowMS) * time.Millisecond
}

// Debounce is the watcher debounce interval.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Watcher.DebounceMS) * time.Millisecond
}
