package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/vtgrid/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("recordings_dir", cfg.RecordingsDir)
	v.SetDefault("session.shell", cfg.Session.Shell)
	v.SetDefault("session.term", cfg.Session.Term)
	v.SetDefault("session.cols", cfg.Session.Cols)
	v.SetDefault("session.rows", cfg.Session.Rows)
	v.SetDefault("record.enabled", cfg.Record.Enabled)
	v.SetDefault("record.encrypt", cfg.Record.Encrypt)
	v.SetDefault("record.keystore_path", cfg.Record.KeystorePath)
	v.SetDefault("heatmap.enabled", cfg.Heatmap.Enabled)
	v.SetDefault("heatmap.palette", cfg.Heatmap.Palette)
	v.SetDefault("heatmap.ring", cfg.Heatmap.Ring)
	v.SetDefault("heatmap.window_seconds", cfg.Heatmap.WindowSeconds)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys", cfg.SSH.AuthorizedKeys)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				err = nil
			} else {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Session.Cols < 0 || cfg.Session.Rows < 0 {
		return fmt.Errorf("session.cols/session.rows must not be negative")
	}
	palette, ok := schema.NormalizePaletteName(cfg.Heatmap.Palette)
	if !ok {
		return fmt.Errorf("heatmap.palette %q: %w", cfg.Heatmap.Palette, schema.ErrInvalidPalette)
	}
	cfg.Heatmap.Palette = string(palette)
	if cfg.Heatmap.Ring < 1 {
		return fmt.Errorf("heatmap.ring must be at least 1")
	}
	if cfg.Heatmap.WindowSeconds < 1 {
		return fmt.Errorf("heatmap.window_seconds must be at least 1")
	}
	if cfg.Record.Encrypt && cfg.Record.KeystorePath == "" {
		return fmt.Errorf("record.keystore_path is required when record.encrypt is set")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.RecordingsDir = expandEnv(cfg.RecordingsDir)
	cfg.Session.Shell = expandEnv(cfg.Session.Shell)
	cfg.Record.KeystorePath = expandEnv(cfg.Record.KeystorePath)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeys = expandEnv(cfg.SSH.AuthorizedKeys)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
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

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
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
