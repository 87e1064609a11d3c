package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Source    SourceConfig    `mapstructure:"source"`
	Presenter PresenterConfig `mapstructure:"presenter"`
	Storage   StorageConfig   `mapstructure:"storage"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines the metrics listener
type ServerConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	BindAddress    string `mapstructure:"bind_address"`
}

// TrackerConfig defines the poll cycle
type TrackerConfig struct {
	PollInterval   string `mapstructure:"poll_interval"`
	InitialDelay   string `mapstructure:"initial_delay"`
	WindowWidth    string `mapstructure:"window_width"`
	Lookback       string `mapstructure:"lookback"`        // initial watermark is now minus lookback
	EventRetention string `mapstructure:"event_retention"` // closed event log intervals older than this are pruned
}

// PolicyConfig defines rule evaluation settings
type PolicyConfig struct {
	StartupDelay string `mapstructure:"startup_delay"`
	RulesFile    string `mapstructure:"rules_file"` // .toml or .json, optional
	Location     string `mapstructure:"location"`   // IANA zone for reset times, "Local" by default
}

// SourceConfig selects the usage event source
type SourceConfig struct {
	Type string `mapstructure:"type"` // "file" or "memory"
	Path string `mapstructure:"path"`
}

// PresenterConfig selects how decisions are presented
type PresenterConfig struct {
	Type string `mapstructure:"type"` // "log" or "console"
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "redis", "sqlite" or "memory"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// HistoryConfig defines the history jobs
type HistoryConfig struct {
	HeartbeatInterval string `mapstructure:"heartbeat_interval"`
	PruneInterval     string `mapstructure:"prune_interval"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. An empty
// configPath or a missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("KSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration with only default values applied
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Tracker defaults
	v.SetDefault("tracker.poll_interval", "300ms")
	v.SetDefault("tracker.initial_delay", "1s")
	v.SetDefault("tracker.window_width", "300ms")
	v.SetDefault("tracker.lookback", "24h")
	v.SetDefault("tracker.event_retention", "48h")

	// Policy defaults
	v.SetDefault("policy.startup_delay", "10s")
	v.SetDefault("policy.rules_file", "")
	v.SetDefault("policy.location", "Local")

	// Source defaults
	v.SetDefault("source.type", "file")
	v.SetDefault("source.path", "/var/lib/kscreen/events.jsonl")

	// Presenter defaults
	v.SetDefault("presenter.type", "log")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/kscreen/kscreen.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// History defaults
	v.SetDefault("history.heartbeat_interval", "1m")
	v.SetDefault("history.prune_interval", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// ValidKeys returns the set of all known configuration keys
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsEnabled && (cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	durations := map[string]string{
		"tracker.poll_interval":      cfg.Tracker.PollInterval,
		"tracker.window_width":       cfg.Tracker.WindowWidth,
		"history.heartbeat_interval": cfg.History.HeartbeatInterval,
		"history.prune_interval":     cfg.History.PruneInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, value)
		}
	}

	switch cfg.Source.Type {
	case "file":
		if cfg.Source.Path == "" {
			return fmt.Errorf("source path is required for file source")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown source type: %s", cfg.Source.Type)
	}

	switch cfg.Presenter.Type {
	case "log", "console":
	default:
		return fmt.Errorf("unknown presenter type: %s", cfg.Presenter.Type)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if _, err := cfg.Policy.LoadLocation(); err != nil {
		return fmt.Errorf("policy.location: %w", err)
	}

	return nil
}

// LoadLocation resolves the configured time zone
func (p PolicyConfig) LoadLocation() (*time.Location, error) {
	if p.Location == "" || p.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(p.Location)
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path surfaces as an fs error
	return errors.Is(err, fs.ErrNotExist)
}
