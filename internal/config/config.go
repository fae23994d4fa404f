// Package config loads and validates vibed's daemon configuration.
//
// Configuration sources, in order of precedence:
//  1. CLI flags (highest priority)
//  2. Environment variables (VIBED_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the complete vibed configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Daemon contains daemon-wide lifecycle settings.
	Daemon DaemonConfig `mapstructure:"daemon"`

	// Nfs contains NFSv3 exporter settings shared by every session export.
	Nfs NfsConfig `mapstructure:"nfs"`

	// Snapshot contains optional off-host snapshot archival settings.
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// DaemonConfig contains daemon-wide settings.
type DaemonConfig struct {
	// ShutdownTimeout bounds graceful shutdown of all session exports.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// IdleLinger is how long a session may go without NFS activity before
	// the idle reaper (internal/gc) unexports it. ApplyDefaults turns an
	// unset (zero) value into 20 minutes. The daemon process itself does
	// not exit on idleness.
	IdleLinger time.Duration `mapstructure:"idle_linger"`

	// ControlTimeout is the soft timeout for control-plane requests.
	ControlTimeout time.Duration `mapstructure:"control_timeout" validate:"required,gt=0"`
}

// NfsConfig contains NFSv3 exporter settings.
type NfsConfig struct {
	// PortRangeLow/PortRangeHigh bound the ephemeral ports used for session
	// exports. Defaults to 49152-65000, inside the IANA ephemeral range.
	PortRangeLow  uint16 `mapstructure:"port_range_low"`
	PortRangeHigh uint16 `mapstructure:"port_range_high" validate:"gtefield=PortRangeLow"`
}

// SnapshotConfig controls optional snapshot archival.
type SnapshotConfig struct {
	// S3 holds bucket/region/prefix settings. Empty disables remote archival;
	// `vibe save --remote` fails with a clear error if invoked while empty.
	S3 map[string]any `mapstructure:"s3"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("VIBED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/vibed, falling back to
// ~/.config/vibed, or "." as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "vibed")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "vibed")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists reports whether a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// ApplyDefaults fills zero-valued fields with vibed's defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Daemon.ShutdownTimeout == 0 {
		cfg.Daemon.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Daemon.IdleLinger == 0 {
		cfg.Daemon.IdleLinger = 20 * time.Minute
	}
	if cfg.Daemon.ControlTimeout == 0 {
		cfg.Daemon.ControlTimeout = 30 * time.Second
	}
	if cfg.Nfs.PortRangeLow == 0 {
		cfg.Nfs.PortRangeLow = 49152
	}
	if cfg.Nfs.PortRangeHigh == 0 {
		cfg.Nfs.PortRangeHigh = 65000
	}
}
