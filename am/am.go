package am

import "time"

// Config represents the mise configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PulseConfig configures the scheduler daemon
type PulseConfig struct {
	PollIntervalMS   int `mapstructure:"poll_interval_ms"`   // How often the wake-up ticker polls (default: 1000)
	PollBatchSize    int `mapstructure:"poll_batch_size"`    // Max due wake-ups per poll (default: 100)
	ActorIdleSeconds int `mapstructure:"actor_idle_seconds"` // Idle actors are evicted after this long; 0 = never (default: 300)
	TargetDelayMS    int `mapstructure:"target_delay_ms"`    // Simulated work in the fallback target handler (default: 100)
}

// EventsConfig configures where job events are published
type EventsConfig struct {
	Transport string      `mapstructure:"transport"` // memory or redis
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis Streams transport
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	DB           int    `mapstructure:"db"`
	StreamPrefix string `mapstructure:"stream_prefix"` // Streams are named <prefix>:<topic>
	MaxLen       int64  `mapstructure:"max_len"`       // Approximate cap per stream; 0 = unbounded
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WebhookConfig configures the webhook target handler
type WebhookConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	TimeoutMS    int  `mapstructure:"timeout_ms"`     // Per-request timeout (default: 10000)
	AllowPrivate bool `mapstructure:"allow_private"`  // Permit private and loopback URLs
	MaxPerMinute int  `mapstructure:"max_per_minute"` // Requests per destination host; 0 = unlimited
}

// Timeout returns the per-request webhook timeout.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// Event transports
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// PollInterval returns the wake-up poll interval.
func (p PulseConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// ActorIdleTimeout returns how long an idle actor stays in memory.
func (p PulseConfig) ActorIdleTimeout() time.Duration {
	return time.Duration(p.ActorIdleSeconds) * time.Second
}

// TargetDelay returns the fallback handler delay.
func (p PulseConfig) TargetDelay() time.Duration {
	return time.Duration(p.TargetDelayMS) * time.Millisecond
}
