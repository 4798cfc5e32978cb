package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ErrNoConfigFile is returned by WatchConfig when there is no file to watch.
var ErrNoConfigFile = errors.New("no config file to watch")

// Config holds the application configuration
type Config struct {
	ListenPort string `mapstructure:"listen_port"`
	// Name of the log endpoint the probe writes to
	LogEndpoint string `mapstructure:"log_endpoint"`
	// Optional YAML file mapping endpoint names to destinations
	RegistryFile string `mapstructure:"registry_file"`

	Limits    LimitsConfig    `mapstructure:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LimitsConfig tunes the resource triggers.
type LimitsConfig struct {
	RuntimeDuration time.Duration `mapstructure:"runtime_duration"`
	Tick            time.Duration `mapstructure:"tick"`
	VCPUDuration    time.Duration `mapstructure:"vcpu_duration"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"` // OTLP/HTTP collector host:port
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenPort string `mapstructure:"listen_port"`
}

// RateLimitConfig guards the trigger paths; zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("listen_port", "8080")
	v.SetDefault("log_endpoint", "my_endpoint")
	v.SetDefault("registry_file", "")
	v.SetDefault("limits.runtime_duration", 5*time.Minute)
	v.SetDefault("limits.tick", time.Second)
	v.SetDefault("limits.vcpu_duration", 100*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "production")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "limitprobe")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_port", "9090")
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst_size", 0)

	v.SetEnvPrefix("LIMITPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// load returns the viper instance and whether a config file was read.
func load(path string) (*viper.Viper, bool, error) {
	v := newViper()
	if path == "" {
		return v, false, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return v, false, nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, false, fmt.Errorf("error reading config file: %w", err)
	}
	return v, true, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfig reads the configuration from path over the defaults and the
// LIMITPROBE_* environment. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v, _, err := load(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// WatchConfig re-decodes path on every change and hands valid results to
// onChange. Invalid edits are reported through onError and otherwise ignored.
func WatchConfig(path string, onChange func(*Config, fsnotify.Event), onError func(error)) error {
	v, found, err := load(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoConfigFile
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
	return nil
}

// Validate rejects settings the probe cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenPort) == "" {
		return fmt.Errorf("listen_port is required")
	}
	if c.Limits.RuntimeDuration <= 0 {
		return fmt.Errorf("limits.runtime_duration must be positive")
	}
	if c.Limits.Tick <= 0 {
		return fmt.Errorf("limits.tick must be positive")
	}
	if c.Limits.VCPUDuration <= 0 {
		return fmt.Errorf("limits.vcpu_duration must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.ListenPort == c.ListenPort {
		return fmt.Errorf("metrics.listen_port must differ from listen_port")
	}
	return nil
}
