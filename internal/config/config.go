package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/metaform/metaform-management/pkg/adapters/file"
)

// EnvPrefix prefixes every environment override, e.g. METAFORM_STORE_BACKEND.
const EnvPrefix = "METAFORM"

// Config represents the complete presence service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Bus        BusConfig        `mapstructure:"bus"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `mapstructure:"addr"`
	// ShutdownTimeout bounds graceful shutdown (default: 5s)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Metrics exposes GET /metrics (default: true)
	Metrics bool `mapstructure:"metrics"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	// Level is one of debug, info, warn, error (default: "info")
	Level string `mapstructure:"level"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
}

// StoreConfig selects and configures the socket state backend
type StoreConfig struct {
	// Backend is one of memory, sql, redis, file (default: "memory")
	Backend string      `mapstructure:"backend"`
	SQL     SQLConfig   `mapstructure:"sql"`
	Redis   RedisConfig `mapstructure:"redis"`
	File    FileConfig  `mapstructure:"file"`
}

// SQLConfig configures the relational backend
type SQLConfig struct {
	// Driver is "sqlite" or "mysql" (default: "sqlite")
	Driver string `mapstructure:"driver"`
	// DSN is passed to the driver as is
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the key-value backend and the bus
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// FileConfig configures the file backend
type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

// MigrationsConfig controls startup schema migrations of the sql backend
type MigrationsConfig struct {
	// Auto runs migrations when serve starts (default: true)
	Auto bool `mapstructure:"auto"`
	// Lock is "file", "redis" or "none" (default: "file")
	Lock string `mapstructure:"lock"`
	// LockFile is the path of the file lock
	LockFile string `mapstructure:"lock_file"`
	// LockTTL expires a redis lock whose holder died (default: 1m)
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// PollInterval is how often waiters check the lock (default: 300ms)
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Timeout bounds the whole migration including waiting (default: 2m)
	Timeout time.Duration `mapstructure:"timeout"`
}

// PresenceConfig controls the coordinator and the websocket hub
type PresenceConfig struct {
	// SendBuffer is the per-connection outbound queue length (default: 64)
	SendBuffer int `mapstructure:"send_buffer"`
	// PingInterval is the websocket keepalive period (default: 25s)
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongWait is how long a silent peer is kept (default: 60s)
	PongWait time.Duration `mapstructure:"pong_wait"`
	// SweepInterval runs the stale entry reconciler periodically, 0 = disabled
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BusConfig controls cross-process broadcast fan-out over redis pub/sub
type BusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			Metrics:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend: "memory",
			SQL: SQLConfig{
				Driver: "sqlite",
				DSN:    "metaform.db",
			},
			Redis: RedisConfig{
				URL:    "redis://localhost:6379/0",
				Prefix: "",
			},
			File: FileConfig{
				Dir: file.DefaultDir,
			},
		},
		Migrations: MigrationsConfig{
			Auto:         true,
			Lock:         "file",
			LockFile:     file.DefaultLockPath,
			LockTTL:      time.Minute,
			PollInterval: 300 * time.Millisecond,
			Timeout:      2 * time.Minute,
		},
		Presence: PresenceConfig{
			SendBuffer:    64,
			PingInterval:  25 * time.Second,
			PongWait:      60 * time.Second,
			SweepInterval: 0,
		},
		Bus: BusConfig{
			Enabled: false,
			Channel: "metaform:presence",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	v.SetDefault("server.metrics", defaults.Server.Metrics)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.sql.driver", defaults.Store.SQL.Driver)
	v.SetDefault("store.sql.dsn", defaults.Store.SQL.DSN)
	v.SetDefault("store.redis.url", defaults.Store.Redis.URL)
	v.SetDefault("store.redis.prefix", defaults.Store.Redis.Prefix)
	v.SetDefault("store.file.dir", defaults.Store.File.Dir)

	v.SetDefault("migrations.auto", defaults.Migrations.Auto)
	v.SetDefault("migrations.lock", defaults.Migrations.Lock)
	v.SetDefault("migrations.lock_file", defaults.Migrations.LockFile)
	v.SetDefault("migrations.lock_ttl", defaults.Migrations.LockTTL)
	v.SetDefault("migrations.poll_interval", defaults.Migrations.PollInterval)
	v.SetDefault("migrations.timeout", defaults.Migrations.Timeout)

	v.SetDefault("presence.send_buffer", defaults.Presence.SendBuffer)
	v.SetDefault("presence.ping_interval", defaults.Presence.PingInterval)
	v.SetDefault("presence.pong_wait", defaults.Presence.PongWait)
	v.SetDefault("presence.sweep_interval", defaults.Presence.SweepInterval)

	v.SetDefault("bus.enabled", defaults.Bus.Enabled)
	v.SetDefault("bus.channel", defaults.Bus.Channel)
}

// NewViper returns a viper instance with defaults, METAFORM_ environment overrides
// and, when configFile is not empty, that file merged in.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return v, nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", filepath.Clean(configFile), err)
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// LoadFile is NewViper followed by Load.
func LoadFile(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return Load(v)
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verrs ValidationErrors
	return errors.As(err, &verrs)
}
