// Package config loads taskd settings from a config file, TASKD_* environment
// variables, and built-in defaults, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Snapshot backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Visibility sources for clock-driven refetches.
const (
	VisibilityAlways    = "always"
	VisibilityDashboard = "dashboard"
)

// EnvPrefix is the prefix for environment overrides (TASKD_REMOTE_URL, ...).
const EnvPrefix = "TASKD"

// Config is the typed view of all settings.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Clock      ClockConfig      `mapstructure:"clock"`
	Recurrence RecurrenceConfig `mapstructure:"recurrence"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Log        LogConfig        `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// SnapshotConfig selects where local snapshots live.
type SnapshotConfig struct {
	Backend  string `mapstructure:"backend"`
	Dir      string `mapstructure:"dir"`
	RedisURL string `mapstructure:"redis_url"`
}

// RemoteConfig describes the remote service. An empty URL selects the
// in-process memory remote.
type RemoteConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	PushURL    string        `mapstructure:"push_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// ClockConfig configures the shared clock.
type ClockConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Visibility string        `mapstructure:"visibility"`
}

// RecurrenceConfig configures the recurrence engine.
type RecurrenceConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// DashboardConfig configures the websocket dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SnapshotDir returns the file backend directory.
func (c *Config) SnapshotDir() string {
	if c.Snapshot.Dir != "" {
		return c.Snapshot.Dir
	}
	return filepath.Join(c.DataDir, "snapshots")
}

// DBPath returns the sqlite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "taskd.db")
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Snapshot.Backend {
	case BackendSQLite, BackendFile:
	case BackendRedis:
		if c.Snapshot.RedisURL == "" {
			return fmt.Errorf("snapshot.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown snapshot.backend %q", c.Snapshot.Backend)
	}
	switch c.Clock.Visibility {
	case VisibilityAlways, VisibilityDashboard:
	default:
		return fmt.Errorf("unknown clock.visibility %q", c.Clock.Visibility)
	}
	if c.Clock.Interval <= 0 {
		return fmt.Errorf("clock.interval must be positive")
	}
	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries cannot be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads the config file at path, or searches the standard locations
// when path is empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskd")
		for _, dir := range searchDirs() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Snapshot.Dir = expandHome(cfg.Snapshot.Dir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("snapshot.backend", BackendSQLite)
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.redis_url", "")

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.push_url", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.max_retries", 3)

	v.SetDefault("clock.interval", time.Minute)
	v.SetDefault("clock.visibility", VisibilityAlways)

	v.SetDefault("recurrence.stale_after", 720*time.Hour)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
}

func searchDirs() []string {
	var dirs []string
	if home := os.Getenv("TASKD_HOME"); home != "" {
		dirs = append(dirs, home)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "taskd"))
	}
	return append(dirs, ".")
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "taskd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "taskd")
	}
	return ".taskd"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
