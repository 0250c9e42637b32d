package am

import "github.com/teranos/mise/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Poll interval: 0 = ticker default, negative = invalid
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.PollBatchSize < 0 {
		return errors.Newf("pulse.poll_batch_size must be >= 0, got %d", c.Pulse.PollBatchSize)
	}
	// Idle timeout: 0 = actors stay resident
	if c.Pulse.ActorIdleSeconds < 0 {
		return errors.Newf("pulse.actor_idle_seconds must be >= 0, got %d", c.Pulse.ActorIdleSeconds)
	}
	if c.Pulse.TargetDelayMS < 0 {
		return errors.Newf("pulse.target_delay_ms must be >= 0, got %d", c.Pulse.TargetDelayMS)
	}

	switch c.Events.Transport {
	case "", TransportMemory:
	case TransportRedis:
		if c.Events.Redis.Addr == "" {
			return errors.New("events.redis.addr cannot be empty when events.transport is redis")
		}
		if c.Events.Redis.MaxLen < 0 {
			return errors.Newf("events.redis.max_len must be >= 0, got %d", c.Events.Redis.MaxLen)
		}
	default:
		return errors.WithHintf(
			errors.Newf("unknown events.transport %q", c.Events.Transport),
			"use %q or %q", TransportMemory, TransportRedis)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr cannot be empty when metrics are enabled")
	}

	if c.Webhook.TimeoutMS < 0 {
		return errors.Newf("webhook.timeout_ms must be >= 0, got %d", c.Webhook.TimeoutMS)
	}
	if c.Webhook.MaxPerMinute < 0 {
		return errors.Newf("webhook.max_per_minute must be >= 0, got %d", c.Webhook.MaxPerMinute)
	}

	return nil
}
