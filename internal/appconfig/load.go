package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. JANIM_DISCOVERY_PORT.
const EnvPrefix = "JANIM"

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("discovery.mode", cfg.Discovery.Mode)
	v.SetDefault("discovery.port", cfg.Discovery.Port)
	v.SetDefault("discovery.window_ms", cfg.Discovery.WindowMS)
	v.SetDefault("discovery.listen_close_event", cfg.Discovery.ListenCloseEvent)
	v.SetDefault("position.auto_locate", cfg.Position.AutoLocate)
	v.SetDefault("bridge.addr", cfg.Bridge.Addr)
	v.SetDefault("bridge.history", cfg.Bridge.History)
	v.SetDefault("watcher.debounce_ms", cfg.Watcher.DebounceMS)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as an *fs.PathError.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else if v.GetInt("config_version") != CurrentConfigVersion {
		return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if _, err := cfg.Destination(); err != nil {
		return err
	}
	if cfg.Discovery.WindowMS <= 0 {
		return fmt.Errorf("discovery.window_ms must be positive")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.Bridge.History < 0 {
		return fmt.Errorf("bridge.history must not be negative")
	}
	if cfg.Watcher.DebounceMS < 0 {
		return fmt.Errorf("watcher.debounce_ms must not be negative")
	}
	return nil
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
