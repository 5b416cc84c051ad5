package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sleeper  SleeperConfig  `mapstructure:"sleeper"`
	APNS     APNSConfig     `mapstructure:"apns"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Detector DetectorConfig `mapstructure:"detector"`
	TTL      TTLConfig      `mapstructure:"ttl"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig defines API and metrics listen addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// SleeperConfig defines the upstream fantasy data provider
type SleeperConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	StatsBaseURL  string `mapstructure:"stats_base_url"`
	ScoreboardURL string `mapstructure:"scoreboard_url"`
	Season        string `mapstructure:"season"`
	Timeout       string `mapstructure:"timeout"`
	UserCacheSize int    `mapstructure:"user_cache_size"`
}

// APNSConfig defines the push transport credentials
type APNSConfig struct {
	KeyPath    string `mapstructure:"key_path"`
	KeyID      string `mapstructure:"key_id"`
	TeamID     string `mapstructure:"team_id"`
	Topic      string `mapstructure:"topic"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// EngineConfig defines scheduler cadences and dispatch limits
type EngineConfig struct {
	UpdateInterval    string `mapstructure:"update_interval"`
	SweepInterval     string `mapstructure:"sweep_interval"`
	AutoStartInterval string `mapstructure:"auto_start_interval"`
	DailyRefreshTime  string `mapstructure:"daily_refresh_time"` // HH:MM
	DispatchWorkers   int    `mapstructure:"dispatch_workers"`
	DispatchRetries   int    `mapstructure:"dispatch_retries"`
}

// DetectorConfig defines change detection thresholds
type DetectorConfig struct {
	ScoreEpsilon float64 `mapstructure:"score_epsilon"`
	NotableDelta float64 `mapstructure:"notable_delta"`
}

// TTLConfig defines heartbeat expiry windows by day-of-week.
// Live events cluster on known days, so the expiry window a session
// is created with tracks the expected event duration for that day.
type TTLConfig struct {
	PrimaryDay    string   `mapstructure:"primary_day"`
	SecondaryDays []string `mapstructure:"secondary_days"`
	PrimaryWindow string   `mapstructure:"primary_window"`
	SecondaryWin  string   `mapstructure:"secondary_window"`
	DefaultWindow string   `mapstructure:"default_window"`
}

// StorageConfig defines reference-data storage settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
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

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("MATCHPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8000)
	v.SetDefault("server.metrics_port", 9090)

	// Sleeper defaults
	v.SetDefault("sleeper.base_url", "https://api.sleeper.app/v1")
	v.SetDefault("sleeper.stats_base_url", "https://api.sleeper.app")
	v.SetDefault("sleeper.scoreboard_url", "https://site.web.api.espn.com/apis/personalized/v2/scoreboard/header")
	v.SetDefault("sleeper.season", "2025")
	v.SetDefault("sleeper.timeout", "30s")
	v.SetDefault("sleeper.user_cache_size", 1000)

	// APNS defaults
	v.SetDefault("apns.key_path", "/etc/matchpulse/apns-key.p8")
	v.SetDefault("apns.use_sandbox", true)

	// Engine defaults
	v.SetDefault("engine.update_interval", "30s")
	v.SetDefault("engine.sweep_interval", "30m")
	v.SetDefault("engine.auto_start_interval", "5m")
	v.SetDefault("engine.daily_refresh_time", "08:00")
	v.SetDefault("engine.dispatch_workers", 8)
	v.SetDefault("engine.dispatch_retries", 3)

	// Detector defaults
	v.SetDefault("detector.score_epsilon", 0.01)
	v.SetDefault("detector.notable_delta", 3.0)

	// TTL defaults
	v.SetDefault("ttl.primary_day", "Sunday")
	v.SetDefault("ttl.secondary_days", []string{"Monday", "Thursday"})
	v.SetDefault("ttl.primary_window", "18h")
	v.SetDefault("ttl.secondary_window", "8h")
	v.SetDefault("ttl.default_window", "4h")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Sleeper.BaseURL == "" {
		return fmt.Errorf("sleeper base URL is required")
	}

	if _, err := time.Parse("15:04", cfg.Engine.DailyRefreshTime); err != nil {
		return fmt.Errorf("invalid daily refresh time %q (expected HH:MM)", cfg.Engine.DailyRefreshTime)
	}

	if cfg.Engine.DispatchWorkers <= 0 {
		return fmt.Errorf("dispatch workers must be positive")
	}

	if cfg.Detector.ScoreEpsilon < 0 {
		return fmt.Errorf("score epsilon must not be negative")
	}

	for _, day := range append([]string{cfg.TTL.PrimaryDay}, cfg.TTL.SecondaryDays...) {
		if _, err := ParseWeekday(day); err != nil {
			return err
		}
	}

	if cfg.Storage.Type != "redis" && cfg.Storage.Type != "none" {
		return fmt.Errorf("unsupported storage type: %s (use 'redis' or 'none')", cfg.Storage.Type)
	}

	return nil
}

// ParseWeekday parses a day name ("Sunday", "sun") into a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid day of week: %s", s)
	}
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
