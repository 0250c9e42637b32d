// Package pulse assembles the scheduler: job and registry actors, the
// durable wake-up ticker, target invocation and event publishing.
package pulse

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/mise/am"
	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/internal/httpclient"
	"github.com/teranos/mise/logger"
	"github.com/teranos/mise/pulse/actor"
	"github.com/teranos/mise/pulse/events"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/metrics"
	"github.com/teranos/mise/pulse/registry"
	"github.com/teranos/mise/pulse/schedule"
	"github.com/teranos/mise/pulse/wakeup"
)

// Host owns every scheduler component built on one database.
type Host struct {
	Jobs       *schedule.Service
	Registries *registry.Service
	Wakeups    *wakeup.Service
	Ticker     *wakeup.Ticker
	Invoker    *invoke.Registry
	Bus        *events.Bus
	Metrics    *metrics.Metrics

	publisher events.Publisher
	redis     *redis.Client
	logger    *zap.SugaredLogger
}

// Option customizes a Host.
type Option func(*hostOptions)

type hostOptions struct {
	now        func() time.Time
	registerer prometheus.Registerer
	stream     events.StreamClient
	logger     *zap.SugaredLogger
}

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(o *hostOptions) { o.now = now }
}

// WithRegisterer registers metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *hostOptions) { o.registerer = reg }
}

// WithStreamClient publishes to client instead of dialing events.redis.addr.
func WithStreamClient(client events.StreamClient) Option {
	return func(o *hostOptions) { o.stream = client }
}

// WithLogger sets the base logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *hostOptions) { o.logger = log }
}

// NewHost builds the scheduler on database. The database must already be
// migrated; the caller keeps ownership of it.
func NewHost(ctx context.Context, database *sql.DB, cfg *am.Config, opts ...Option) (*Host, error) {
	o := hostOptions{
		now:        time.Now,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	log := logger.Or(o.logger)

	h := &Host{
		Bus:     events.NewBus(),
		Metrics: metrics.New(o.registerer),
		logger:  log.Named("pulse"),
	}

	h.publisher = h.Bus
	if cfg.Events.Transport == am.TransportRedis {
		stream := o.stream
		if stream == nil {
			client, err := events.NewRedisClient(ctx, cfg.Events.Redis.Addr, cfg.Events.Redis.DB)
			if err != nil {
				return nil, err
			}
			h.redis = client
			stream = client
		}
		h.publisher = events.Fanout{h.Bus, events.NewRedisPublisher(stream, events.RedisConfig{
			StreamPrefix: cfg.Events.Redis.StreamPrefix,
			MaxLen:       cfg.Events.Redis.MaxLen,
		})}
	}

	h.Invoker = invoke.NewRegistry(invoke.StubHandler(cfg.Pulse.TargetDelay(), log.Named("invoke")))
	if cfg.Webhook.Enabled {
		invoke.RegisterWebhooks(h.Invoker, httpclient.New(httpclient.Options{
			Timeout:      cfg.Webhook.Timeout(),
			AllowPrivate: cfg.Webhook.AllowPrivate,
		}), invoke.NewHostLimiter(cfg.Webhook.MaxPerMinute), log.Named("webhook"))
	}

	actorCfg := actor.DefaultConfig()
	actorCfg.IdleTimeout = cfg.Pulse.ActorIdleTimeout()

	h.Registries = registry.NewService(registry.Deps{
		Store:  registry.NewStore(database),
		Logger: log.Named("registry"),
		Now:    o.now,
	}, actorCfg, h.Metrics)

	wakeStore := wakeup.NewStore(database)
	h.Wakeups = wakeup.NewService(wakeStore, log.Named("wakeup"), wakeup.WithClock(o.now))

	h.Jobs = schedule.NewService(schedule.Deps{
		Store:      schedule.NewStore(database),
		Wakeups:    h.Wakeups,
		Registries: h.Registries,
		Invoker:    h.Invoker,
		Publisher:  h.publisher,
		Metrics:    h.Metrics,
		Logger:     log.Named("schedule"),
		Now:        o.now,
	}, actorCfg)

	h.Ticker = wakeup.NewTickerWithContext(ctx, wakeStore, h.Jobs, wakeup.TickerConfig{
		Interval:  cfg.Pulse.PollInterval(),
		BatchSize: cfg.Pulse.PollBatchSize,
	}, h.Metrics, log.Named("ticker"))
	h.Ticker.SetClock(o.now)

	return h, nil
}

// Start begins delivering wake-ups.
func (h *Host) Start() {
	h.Ticker.Start()
	h.logger.Infow("Pulse host started",
		"poll_interval", h.Ticker.Interval().String(),
		"routes", h.Invoker.Routes())
}

// Stop delivers nothing new, waits for in-flight deliveries and stops every
// actor. The database is left open.
func (h *Host) Stop() {
	h.Ticker.Stop()
	h.Jobs.Close()
	h.Registries.Close()
	if h.redis != nil {
		if err := h.redis.Close(); err != nil {
			h.logger.Warnw("Failed to close redis client", logger.FieldError, err)
		}
	}
	h.logger.Infow("Pulse host stopped")
}

// ApplyConfig applies the settings that can change without a restart.
func (h *Host) ApplyConfig(cfg *am.Config) error {
	if interval := cfg.Pulse.PollInterval(); interval > 0 && interval != h.Ticker.Interval() {
		h.Ticker.SetInterval(interval)
		h.logger.Infow("Wake-up poll interval changed", "poll_interval", interval.String())
	}
	return nil
}
