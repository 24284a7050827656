package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the application configuration tree.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Client   ClientConfig   `mapstructure:"client"`
}

// AppConfig holds basic application settings.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Timeout int    `mapstructure:"timeout"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
}

// LogConfig holds log rotation settings.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"`
	MaxAgeDays        int `mapstructure:"max_age_days"`
	MaxSizeMB         int `mapstructure:"max_size_mb"`
}

// LimitsConfig groups server-side limits.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	Stream       StreamLimitsConfig     `mapstructure:"stream"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
}

// RequestLimitsConfig limits request body sizes.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig holds per-endpoint rate limits.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	MessagesPerMin   int  `mapstructure:"messages_per_minute"`
	StreamPerMin     int  `mapstructure:"stream_per_minute"`
}

// StreamLimitsConfig holds SSE stream settings.
type StreamLimitsConfig struct {
	MaxConnectionsPerIP   int `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections   int `mapstructure:"max_total_connections"`
	MinConnectionInterval int `mapstructure:"min_connection_interval_seconds"`
	HeartbeatInterval     int `mapstructure:"heartbeat_interval_seconds"`
	SubscriberBuffer      int `mapstructure:"subscriber_buffer"`
}

// PaginationLimitsConfig holds pagination limits.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// MessageLimitsConfig holds message limits.
type MessageLimitsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// ClientConfig holds sync-client settings.
type ClientConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	SendTimeoutSeconds  int    `mapstructure:"send_timeout_seconds"`
	PageSize            int    `mapstructure:"page_size"`
}

var (
	config *Config
	// ENV is the active environment name.
	ENV string = "local"
)

// Load reads and validates the configuration file.
func Load(testCfg ...*Config) error {
	// A config passed directly is used as-is (tests).
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		return nil
	}

	v := viper.New()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// Get returns the loaded configuration.
func Get() *Config {
	return config
}

// SetEnv sets the active environment.
func SetEnv(env string) {
	ENV = env
}

// GetEnv returns the active environment.
func GetEnv() string {
	return ENV
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app name must not be empty")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app version must not be empty")
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host must not be empty")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be greater than 0")
	}

	if cfg.Database.Mongo.URL == "" {
		return fmt.Errorf("mongo URL must not be empty")
	}
	if cfg.Database.Mongo.Database == "" {
		return fmt.Errorf("mongo database name must not be empty")
	}
	if cfg.Database.Mongo.MaxPoolSize == 0 {
		return fmt.Errorf("mongo max pool size must be greater than 0")
	}
	if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
		return fmt.Errorf("mongo min pool size must not exceed max pool size")
	}

	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("log rotation time must be greater than 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("log max age must be greater than 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log max size must be greater than 0")
	}

	return nil
}

// IsDebug reports whether debug mode is on.
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr returns the host:port the HTTP server listens on.
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}
