package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "store.backend")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the list of socket store backends
func ValidBackends() []string {
	return []string{"memory", "sql", "redis", "file"}
}

// ValidLocks returns the list of migration lock kinds
func ValidLocks() []string {
	return []string{"file", "redis", "none"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{"server.addr", c.Server.Addr, "must not be empty"})
	}
	if c.Server.ShutdownTimeout <= 0 {
		errors = append(errors, ValidationError{"server.shutdown_timeout", c.Server.ShutdownTimeout, "must be positive"})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errors = append(errors, ValidationError{"log.level", c.Log.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, ValidationError{"log.format", c.Log.Format, "must be text or json"})
	}

	errors = append(errors, c.validateStore()...)

	if c.Presence.SendBuffer < 1 {
		errors = append(errors, ValidationError{"presence.send_buffer", c.Presence.SendBuffer, "must be at least 1"})
	}
	if c.Presence.PongWait <= c.Presence.PingInterval {
		errors = append(errors, ValidationError{"presence.pong_wait", c.Presence.PongWait, "must be longer than presence.ping_interval"})
	}
	if c.Presence.SweepInterval < 0 {
		errors = append(errors, ValidationError{"presence.sweep_interval", c.Presence.SweepInterval, "must not be negative"})
	}

	if c.Bus.Enabled && c.Bus.Channel == "" {
		errors = append(errors, ValidationError{"bus.channel", c.Bus.Channel, "must not be empty when the bus is enabled"})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Store.Backend) {
		errors = append(errors, ValidationError{"store.backend", c.Store.Backend, "must be one of " + strings.Join(ValidBackends(), ", ")})
	}
	if c.Store.Backend == "sql" {
		if c.Store.SQL.Driver != "sqlite" && c.Store.SQL.Driver != "mysql" {
			errors = append(errors, ValidationError{"store.sql.driver", c.Store.SQL.Driver, "must be sqlite or mysql"})
		}
		if c.Store.SQL.DSN == "" {
			errors = append(errors, ValidationError{"store.sql.dsn", c.Store.SQL.DSN, "must not be empty"})
		}
	}
	if (c.Store.Backend == "redis" || c.Bus.Enabled || c.Migrations.Lock == "redis") && c.Store.Redis.URL == "" {
		errors = append(errors, ValidationError{"store.redis.url", c.Store.Redis.URL, "must not be empty"})
	}
	if c.Store.Backend == "file" && c.Store.File.Dir == "" {
		errors = append(errors, ValidationError{"store.file.dir", c.Store.File.Dir, "must not be empty"})
	}

	if !slices.Contains(ValidLocks(), c.Migrations.Lock) {
		errors = append(errors, ValidationError{"migrations.lock", c.Migrations.Lock, "must be one of " + strings.Join(ValidLocks(), ", ")})
	}
	if c.Migrations.PollInterval <= 0 {
		errors = append(errors, ValidationError{"migrations.poll_interval", c.Migrations.PollInterval, "must be positive"})
	}

	return errors
}
