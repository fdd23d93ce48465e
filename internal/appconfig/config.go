package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/vtgrid/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	RecordingsDir string        `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	Session       SessionConfig `mapstructure:"session" yaml:"session"`
	Record        RecordConfig  `mapstructure:"record" yaml:"record"`
	Heatmap       HeatmapConfig `mapstructure:"heatmap" yaml:"heatmap"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SessionConfig controls how workload sessions are created.
type SessionConfig struct {
	// Shell overrides $SHELL for new sessions when non-empty.
	Shell string `mapstructure:"shell" yaml:"shell"`
	// Term is exported as TERM to workloads.
	Term string `mapstructure:"term" yaml:"term"`
	// Cols/Rows are the headless fallback geometry; 0 means probe the
	// presentation and fall back to 80x24.
	Cols int `mapstructure:"cols" yaml:"cols"`
	Rows int `mapstructure:"rows" yaml:"rows"`
}

// RecordConfig controls session recording.
type RecordConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Encrypt      bool   `mapstructure:"encrypt" yaml:"encrypt"`
	KeystorePath string `mapstructure:"keystore_path" yaml:"keystore_path"`
}

// HeatmapConfig controls the update-frequency heatmap filter.
type HeatmapConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Palette string `mapstructure:"palette" yaml:"palette"`
	// Ring is the per-cell stamp history capacity.
	Ring int `mapstructure:"ring" yaml:"ring"`
	// WindowSeconds is the sliding window used for rate queries.
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
}

// HTTPConfig configures the read-only live view server.
type HTTPConfig struct {
	// Addr enables the HTTP view when non-empty.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SSHConfig configures the SSH bridge.
type SSHConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath    string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".vtgrid", "state"),
		RecordingsDir: filepath.Join(home, ".vtgrid", "recordings"),
		Session: SessionConfig{
			Shell: "",
			Term:  schema.DefaultTerm,
			Cols:  0,
			Rows:  0,
		},
		Record: RecordConfig{
			Enabled:      false,
			Encrypt:      false,
			KeystorePath: filepath.Join(home, ".vtgrid", "keys.bundle"),
		},
		Heatmap: HeatmapConfig{
			Enabled:       false,
			Palette:       string(schema.DefaultPalette),
			Ring:          8,
			WindowSeconds: 10,
		},
		HTTP: HTTPConfig{
			Addr: "",
		},
		SSH: SSHConfig{
			Addr:           ":27522",
			HostKeyPath:    filepath.Join(home, ".vtgrid", "ssh_host_key"),
			AuthorizedKeys: filepath.Join(home, ".vtgrid", "authorized_keys"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vtgrid", "config.yaml"), nil
}
