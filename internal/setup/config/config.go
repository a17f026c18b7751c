package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrUnknownStorageDriver  = errors.New("unknown storage driver")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v1.0.0"

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentBotVersion    = 1
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Bot    BotConfig
}

// CommonConfig contains configuration shared between the bot and the CLI tools.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Storage    Storage    `koanf:"storage"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	SQLite     SQLite     `koanf:"sqlite"`
	Redis      Redis      `koanf:"redis"`
	Telemetry  Telemetry  `koanf:"telemetry"`
}

// BotConfig contains Discord bot specific configuration.
type BotConfig struct {
	// Version of the bot config.
	Version int `koanf:"version"`
	// Discord configuration.
	Discord Discord `koanf:"discord"`
	// Report scheduler configuration.
	Scheduler Scheduler `koanf:"scheduler"`
	// Outbound notification webhook configuration.
	Webhook Webhook `koanf:"webhook"`
	// Values new guilds start with.
	Defaults Defaults `koanf:"defaults"`
	// Prometheus metrics endpoint.
	Metrics Metrics `koanf:"metrics"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log session directories to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum size in megabytes of a log file before it is rotated.
	MaxLogSizeMB int `koanf:"max_log_size_mb"`
	// Enable pprof debugging.
	EnablePprof bool `koanf:"enable_pprof"`
	// pprof server port.
	PprofPort int `koanf:"pprof_port"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Driver is either "postgres" or "sqlite".
	Driver string `koanf:"driver"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	DBName       string `koanf:"db_name"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle connection timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Run pending migrations on startup instead of refusing to start.
	AutoMigrate bool `koanf:"auto_migrate"`
	// Emit OpenTelemetry spans for every query.
	Tracing bool `koanf:"tracing"`
}

// SQLite contains embedded database configuration.
type SQLite struct {
	// Path to the database file.
	Path string `koanf:"path"`
	// Number of pooled connections.
	PoolSize int `koanf:"pool_size"`
	// Busy timeout in milliseconds.
	BusyTimeout int `koanf:"busy_timeout"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Enable Redis backed features such as job status reporting.
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Telemetry contains tracing exporter configuration.
type Telemetry struct {
	// Uptrace DSN, tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Service name attached to spans.
	ServiceName string `koanf:"service_name"`
	// Deployment environment attached to spans.
	Environment string `koanf:"environment"`
}

// Discord contains Discord bot configuration.
type Discord struct {
	// Bot token.
	Token string `koanf:"token"`
	// Guild to register commands in instead of globally, for development.
	DevGuildID uint64 `koanf:"dev_guild_id"`
}

// Scheduler contains report scheduler configuration.
type Scheduler struct {
	// Maximum number of job fires running at once.
	Workers int `koanf:"workers"`
	// Maximum concurrent snapshot captures during startup.
	StartupConcurrency int `koanf:"startup_concurrency"`
	// Timeout in milliseconds for a single delivery attempt.
	DeliveryTimeout int `koanf:"delivery_timeout"`
	// Time in seconds a job status record stays in Redis.
	StatusTTL int `koanf:"status_ttl"`
}

// Webhook contains outbound notification configuration.
type Webhook struct {
	// Request timeout in milliseconds.
	Timeout int `koanf:"timeout"`
	// User agent sent with every request.
	UserAgent string `koanf:"user_agent"`
}

// Defaults contains the values new guild configs start with.
type Defaults struct {
	// Report time in HH:MM.
	ReportTime string `koanf:"report_time"`
	// IANA timezone name.
	Timezone string `koanf:"timezone"`
}

// Metrics contains Prometheus endpoint configuration.
type Metrics struct {
	// Listen address for the /metrics endpoint, disabled when empty.
	ListenAddr string `koanf:"listen_addr"`
}

// LoadConfig loads the configuration from the standard search paths.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".jointracker",
		homeDir + "/.jointracker/config",
		"/etc/jointracker/config",
		"/app/config",
		"config",
		".",
	}

	return LoadConfigFrom(configPaths)
}

// LoadConfigFrom loads common.toml and bot.toml from the first search path containing each file.
func LoadConfigFrom(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "bot"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("bot", config.Bot.Version, CurrentBotVersion); err != nil {
		return nil, "", err
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// applyDefaults fills in optional settings that were left out of the config files.
func (c *Config) applyDefaults() {
	if c.Common.Debug.LogLevel == "" {
		c.Common.Debug.LogLevel = "info"
	}
	if c.Common.Debug.MaxLogsToKeep <= 0 {
		c.Common.Debug.MaxLogsToKeep = 10
	}
	if c.Common.Debug.MaxLogSizeMB <= 0 {
		c.Common.Debug.MaxLogSizeMB = 50
	}
	if c.Common.Storage.Driver == "" {
		c.Common.Storage.Driver = DriverSQLite
	}
	if c.Common.SQLite.Path == "" {
		c.Common.SQLite.Path = "jointracker.db"
	}
	if c.Common.SQLite.PoolSize <= 0 {
		c.Common.SQLite.PoolSize = 4
	}
	if c.Common.SQLite.BusyTimeout <= 0 {
		c.Common.SQLite.BusyTimeout = 5000
	}
	if c.Common.Telemetry.ServiceName == "" {
		c.Common.Telemetry.ServiceName = "jointracker"
	}
	if c.Bot.Scheduler.Workers <= 0 {
		c.Bot.Scheduler.Workers = 8
	}
	if c.Bot.Scheduler.StartupConcurrency <= 0 {
		c.Bot.Scheduler.StartupConcurrency = 4
	}
	if c.Bot.Scheduler.DeliveryTimeout <= 0 {
		c.Bot.Scheduler.DeliveryTimeout = 10000
	}
	if c.Bot.Scheduler.StatusTTL <= 0 {
		c.Bot.Scheduler.StatusTTL = 172800
	}
	if c.Bot.Webhook.Timeout <= 0 {
		c.Bot.Webhook.Timeout = 10000
	}
	if c.Bot.Webhook.UserAgent == "" {
		c.Bot.Webhook.UserAgent = "jointracker/" + RepositoryVersion
	}
}

// validate rejects settings that cannot be recovered from at runtime.
func (c *Config) validate() error {
	switch c.Common.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageDriver, c.Common.Storage.Driver)
	}

	return nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/jointracker/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
