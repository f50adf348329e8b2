package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/ccsd/pkg/api"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
	"github.com/marmos91/ccsd/pkg/server"
)

// Config represents the ccsd configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CCSD_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the Unix socket clients connect to
	Server server.Config `mapstructure:"server" yaml:"server"`

	// API configures the HTTP status and metrics server
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Lock contains lock manager limits
	Lock lock.Config `mapstructure:"lock" yaml:"lock"`

	// Kerberos controls principal defaults and caches loaded at startup
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// KerberosConfig controls how principals are completed and which existing
// credential caches are loaded when the server starts.
type KerberosConfig struct {
	// Krb5Conf is the path to the Kerberos configuration file. Its
	// default_realm is used when DefaultRealm is empty. A missing file is
	// not an error.
	// Default: /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// DefaultRealm completes principals given without a realm.
	DefaultRealm string `mapstructure:"default_realm" yaml:"default_realm,omitempty"`

	// Imports lists ccache files loaded into the collection at startup
	Imports []CacheImport `mapstructure:"imports" validate:"dive" yaml:"imports,omitempty"`
}

// CacheImport names a ccache file to load.
type CacheImport struct {
	// Name is the cache name in the collection (e.g., "API:alice")
	Name string `mapstructure:"name" validate:"required,max=255" yaml:"name"`

	// Path is the ccache file, as written by kinit
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Default makes this cache the default after loading
	Default bool `mapstructure:"default" yaml:"default,omitempty"`
}

// Load loads configuration from defaults, file and environment.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	// Defaults are read as a base layer so that every key is known to viper
	// and can be overridden from the environment even without a file.
	if err := seedDefaults(v); err != nil {
		return nil, err
	}

	if _, err := mergeConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when an explicit
// config file does not exist. Without an explicit path the default location
// is used if present, and built-in defaults otherwise.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  ccsd config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support.
// Example: CCSD_LOGGING_LEVEL=DEBUG, CCSD_SERVER_SOCKET_PATH=/run/ccsd.sock
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix("CCSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func seedDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	// Let the file extension pick the format of the real config file.
	v.SetConfigType("")
	return nil
}

// mergeConfigFile merges the config file over the defaults. It reports
// whether a file was found.
func mergeConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
		if !DefaultConfigExists() {
			return false, nil
		}
	}

	v.SetConfigFile(configPath)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		fileModeDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" and raw nanosecond counts
// to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// fileModeDecodeHook accepts socket modes written as octal strings ("0660").
func fileModeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		s, ok := data.(string)
		if !ok || to.Kind() != reflect.Uint32 {
			return data, nil
		}
		var mode uint32
		if _, err := fmt.Sscanf(s, "%o", &mode); err != nil {
			return nil, fmt.Errorf("invalid file mode %q: %w", s, err)
		}
		return mode, nil
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/ccsd, ~/.config/ccsd, or "." as a
// last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ccsd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ccsd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/ccsd/ccsd.sock, or a per-user
// directory under the temp dir when no runtime dir is set.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ccsd", "ccsd.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("ccsd-%d", os.Getuid()), "ccsd.sock")
}
