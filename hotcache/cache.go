package hotcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pkg/retry"
	"github.com/joyautomation/mantle/pubsub"
	"github.com/joyautomation/mantle/types"
)

const (
	// drainInterval is the batch cadence for feeding keyspace
	// notifications back onto pub/sub.
	drainInterval = time.Second

	connectDelay           = 2 * time.Second
	defaultConnectAttempts = 5
	fetchTimeout           = 5 * time.Second
)

// Record is the cached current-value document for one identity. Value
// keeps its native JSON type so a rebuild restores typed values.
type Record struct {
	types.Identity
	Type      string      `json:"type"`
	Value     types.Value `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

// Update flattens the record into the stringified pub/sub form.
func (r Record) Update() types.MetricUpdate {
	return types.MetricUpdate{
		Identity:  r.Identity,
		Type:      r.Type,
		Value:     r.Value.String(),
		Timestamp: r.Timestamp,
	}
}

// Cache is the optional Redis hot-value cache. The zero value is not
// usable; construct with New.
type Cache struct {
	cfg     config.RedisConfig
	log     *slog.Logger
	broker  *pubsub.Broker
	core    *metric.Metrics
	metrics *cacheMetrics

	db         int
	publisher  *redis.Client
	subscriber *redis.Client
	keyspace   *redis.PubSub

	mu      sync.Mutex
	pending map[string]types.MetricUpdate

	connected atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a cache for the configured Redis endpoint. Updates
// arriving through keyspace notifications are published on broker.
func New(cfg config.RedisConfig, broker *pubsub.Broker, log *slog.Logger, reg *metric.MetricsRegistry) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		cfg:     cfg,
		log:     log.With("component", "hotcache"),
		broker:  broker,
		pending: make(map[string]types.MetricUpdate),
		stopCh:  make(chan struct{}),
	}
	if reg != nil {
		c.core = reg.CoreMetrics()
	}
	var err error
	if c.metrics, err = newCacheMetrics(reg); err != nil {
		return nil, err
	}
	return c, nil
}

// Name identifies the component.
func (c *Cache) Name() string { return "hotcache" }

// Initialize parses the endpoint URL and creates the publisher and
// subscriber clients. No connection is made until Start.
func (c *Cache) Initialize() error {
	opt, err := redis.ParseURL(c.cfg.URL)
	if err != nil {
		return errors.WrapInvalid(err, "hotcache", "Initialize", "parsing redis URL")
	}
	c.db = opt.DB
	c.publisher = redis.NewClient(opt)
	c.subscriber = redis.NewClient(opt)
	return nil
}

// Start connects with bounded fixed-delay retries. Exhausting the
// retries is not an error: the cache stays disconnected and callers
// fall back to direct pub/sub. On success it enables keyspace
// notifications and starts the notification and drain loops.
func (c *Cache) Start(ctx context.Context) error {
	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}

	err := retry.Do(ctx, retry.Fixed(attempts, connectDelay), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return c.publisher.Ping(pingCtx).Err()
	})
	if err != nil {
		c.log.Warn("hot cache unreachable, metric updates fall back to in-process pub/sub",
			"attempts", attempts, "error", err)
		c.setConnected(false)
		return nil
	}

	if err := c.subscriber.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		return errors.Wrap(err, "hotcache", "Start", "enabling keyspace notifications")
	}
	c.keyspace = c.subscriber.PSubscribe(ctx, fmt.Sprintf("__keyevent@%d__:*", c.db))

	c.setConnected(true)
	c.log.Info("hot cache connected", "db", c.db)

	c.wg.Add(2)
	go c.notificationLoop()
	go c.drainLoop()
	return nil
}

// Stop shuts the loops down, flushes the last batch, and closes both
// clients.
func (c *Cache) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.keyspace != nil {
			_ = c.keyspace.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "hotcache", "Stop", "waiting for loops")
	}

	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if c.subscriber != nil {
		_ = c.subscriber.Close()
	}
	c.setConnected(false)
	return nil
}

// Connected reports whether the cache reached Redis. Ingestion checks
// this per sample so a fallen-back system keeps flowing.
func (c *Cache) Connected() bool {
	return c.connected.Load()
}

// Health reports connected, or degraded when running in fallback mode.
func (c *Cache) Health() health.Status {
	if c.Connected() {
		return health.NewHealthy("hotcache", "connected")
	}
	return health.NewDegraded("hotcache", "disconnected, metric updates flow through in-process pub/sub")
}

// Store writes the identity's current record. The keyspace
// notification it triggers feeds the record back through the drain.
func (c *Cache) Store(ctx context.Context, rec Record) error {
	if !c.Connected() {
		return errors.WrapTransient(errors.ErrNoConnection, "hotcache", "Store", "cache not connected")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "hotcache", "Store", "encoding record")
	}
	if err := c.publisher.Set(ctx, rec.Identity.CacheKey(), payload, 0).Err(); err != nil {
		return errors.WrapTransient(err, "hotcache", "Store", "SET")
	}
	c.metrics.recordSet()
	return nil
}

func (c *Cache) setConnected(connected bool) {
	c.connected.Store(connected)
	if c.core != nil {
		c.core.RecordCacheStatus(connected)
	}
}

func (c *Cache) notificationLoop() {
	defer c.wg.Done()
	for msg := range c.keyspace.Channel() {
		c.metrics.recordNotification()
		c.captureKey(msg.Payload)
	}
}

// captureKey fetches the current record for a notified key and buffers
// it for the next drain tick. Deleted keys and foreign entries are
// skipped.
func (c *Cache) captureKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	raw, err := c.publisher.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("hot cache fetch failed", "key", key, "error", err)
		}
		return
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warn("hot cache entry is not a metric record", "key", key, "error", err)
		return
	}
	if err := rec.Identity.Validate(); err != nil {
		c.log.Debug("skipping foreign cache entry", "key", key)
		return
	}

	c.mu.Lock()
	// Newest record per identity wins within a drain window.
	c.pending[rec.Identity.Key()] = rec.Update()
	c.mu.Unlock()
}

func (c *Cache) drainLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush publishes the accumulated batch on the metric update topic.
func (c *Cache) flush() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := make([]types.MetricUpdate, 0, len(c.pending))
	for _, u := range c.pending {
		batch = append(batch, u)
	}
	clear(c.pending)
	c.mu.Unlock()

	for _, u := range batch {
		c.broker.Publish(types.TopicMetricUpdate, u)
	}
	c.metrics.recordDrained(len(batch))
}

type cacheMetrics struct {
	sets          prometheus.Counter
	notifications prometheus.Counter
	drained       prometheus.Counter
}

// newCacheMetrics returns nil when reg is nil; recording methods are
// nil-safe so callers never branch.
func newCacheMetrics(reg *metric.MetricsRegistry) (*cacheMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &cacheMetrics{
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "hotcache", Name: "sets_total",
			Help: "Current-value records written to Redis",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "hotcache", Name: "notifications_total",
			Help: "Keyspace notifications received",
		}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: "hotcache", Name: "drained_updates_total",
			Help: "Metric updates published by the drain loop",
		}),
	}
	if err := reg.RegisterCounter("hotcache", "sets_total", m.sets); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("hotcache", "notifications_total", m.notifications); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("hotcache", "drained_updates_total", m.drained); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *cacheMetrics) recordSet() {
	if m == nil {
		return
	}
	m.sets.Inc()
}

func (m *cacheMetrics) recordNotification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *cacheMetrics) recordDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drained.Add(float64(n))
}
