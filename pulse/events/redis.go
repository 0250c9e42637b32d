package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/mise/errors"
)

// StreamClient is the subset of the Redis client used for publishing.
// *redis.Client and *redis.ClusterClient satisfy it.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisConfig configures the Redis Streams transport.
type RedisConfig struct {
	// StreamPrefix is prepended to each topic: "<prefix>:<topic>".
	StreamPrefix string
	// MaxLen caps each stream approximately. Zero leaves streams unbounded.
	MaxLen int64
}

// DefaultRedisConfig returns sensible defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		StreamPrefix: "mise",
		MaxLen:       10000,
	}
}

// RedisPublisher appends events to one Redis stream per topic. Entries within
// a stream are ordered, which gives per-topic ordering to consumers.
type RedisPublisher struct {
	client StreamClient
	cfg    RedisConfig
}

// NewRedisPublisher creates a publisher on top of client.
func NewRedisPublisher(client StreamClient, cfg RedisConfig) *RedisPublisher {
	return &RedisPublisher{client: client, cfg: cfg}
}

// StreamKey returns the stream that topic is written to.
func (p *RedisPublisher) StreamKey(topic string) string {
	if p.cfg.StreamPrefix == "" {
		return topic
	}
	return p.cfg.StreamPrefix + ":" + topic
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	values := map[string]interface{}{
		"job_id":      evt.JobID,
		"org_id":      evt.OrgID,
		"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
		"payload":     string(payload),
	}
	if evt.Success != nil {
		values["success"] = formatBool(evt.Success)
	}

	args := &redis.XAddArgs{
		Stream: p.StreamKey(evt.Topic),
		Values: values,
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish %s for job %s", evt.Topic, evt.JobID)
	}
	return nil
}

// ParsePayload decodes the JSON payload stored by Publish.
func ParsePayload(values map[string]interface{}) (Event, error) {
	var evt Event
	raw, ok := values["payload"].(string)
	if !ok {
		return evt, errors.NewInvalidRequestError("stream entry has no payload")
	}
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return evt, errors.Wrap(err, "failed to decode event payload")
	}
	return evt, nil
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", addr)
	}
	return client, nil
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
