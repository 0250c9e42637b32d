package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is not configured
const DefaultDatabasePath = "mise.db"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.poll_batch_size", 100)
	v.SetDefault("pulse.actor_idle_seconds", 300)
	v.SetDefault("pulse.target_delay_ms", 100)

	v.SetDefault("events.transport", TransportMemory)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.stream_prefix", "mise")
	v.SetDefault("events.redis.max_len", 10000)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.timeout_ms", 10000)
	v.SetDefault("webhook.allow_private", false)
	v.SetDefault("webhook.max_per_minute", 60)
}

// BindSensitiveEnvVars explicitly binds configuration that is usually
// supplied by the deployment environment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "MISE_DATABASE_PATH")
	v.BindEnv("events.redis.addr", "MISE_REDIS_ADDR", "MISE_EVENTS_REDIS_ADDR")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {PollIntervalMS: %d}, Events: {Transport: %s}, Metrics: {Enabled: %t}}",
		c.Database.Path, c.Pulse.PollIntervalMS, c.Events.Transport, c.Metrics.Enabled)
}
