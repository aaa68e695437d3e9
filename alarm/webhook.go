package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pkg/worker"
	"github.com/joyautomation/mantle/types"
)

const (
	webhookTimeout   = 10 * time.Second
	webhookWorkers   = 2
	webhookQueueSize = 256

	// secretHeader carries the shared secret so receivers can reject
	// posts that did not come from this service.
	secretHeader = "X-Alarm-Webhook-Secret"
)

// webhookBody is the JSON document posted for each notification-worthy
// transition.
type webhookBody struct {
	EventID      string `json:"eventId"`
	SpaceShortID string `json:"spaceShortId,omitempty"`
	Transition   string `json:"transition"`
	RuleID       string `json:"ruleId"`
	RuleName     string `json:"ruleName"`
	Group        string `json:"group"`
	Node         string `json:"node"`
	Device       string `json:"device,omitempty"`
	Metric       string `json:"metric"`
	Value        string `json:"value"`
	FromState    string `json:"fromState"`
	ToState      string `json:"toState"`
	Timestamp    int64  `json:"timestamp"`
}

// Dispatcher posts alarm transitions to a configured HTTP endpoint.
// Delivery is at most once: a failed post is logged and counted but
// never retried, so a flapping endpoint cannot back up the engine.
type Dispatcher struct {
	cfg     config.WebhookConfig
	log     *slog.Logger
	client  *http.Client
	pool    *worker.Pool[types.AlarmTransition]
	metrics *dispatcherMetrics
}

// NewDispatcher returns a dispatcher for the configured endpoint.
// An empty URL yields a dispatcher that drops everything, which lets
// callers wire it unconditionally.
func NewDispatcher(cfg config.WebhookConfig, log *slog.Logger, reg *metric.MetricsRegistry) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics, err := newDispatcherMetrics(reg)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cfg:     cfg,
		log:     log.With("component", "webhook"),
		client:  &http.Client{Timeout: webhookTimeout},
		metrics: metrics,
	}
	var opts []worker.Option[types.AlarmTransition]
	if reg != nil {
		opts = append(opts, worker.WithMetrics[types.AlarmTransition](reg, "webhook"))
	}
	d.pool = worker.NewPool(webhookWorkers, webhookQueueSize, d.deliver, opts...)
	return d, nil
}

// Name identifies the component.
func (d *Dispatcher) Name() string { return "webhook" }

// Initialize is part of the lifecycle contract; the pool is built in
// NewDispatcher.
func (d *Dispatcher) Initialize() error { return nil }

// Start begins delivery workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop drains in-flight deliveries up to the timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Health reports delivery backlog, or disabled when no URL is set.
func (d *Dispatcher) Health() health.Status {
	if d.cfg.URL == "" {
		return health.NewHealthy("webhook", "disabled, no URL configured")
	}
	stats := d.pool.Stats()
	return health.NewHealthy("webhook",
		fmt.Sprintf("queue depth %d/%d", stats.QueueDepth, stats.QueueSize))
}

// Dispatch queues a transition for delivery without blocking. A full
// queue drops the notification; the audit history in storage remains
// the source of truth.
func (d *Dispatcher) Dispatch(tr types.AlarmTransition) {
	if d == nil || d.cfg.URL == "" {
		return
	}
	if err := d.pool.Submit(tr); err != nil {
		d.metrics.recordDropped()
		d.log.Warn("webhook delivery dropped", "rule", tr.RuleID, "to", tr.ToState, "error", err)
	}
}

// deliver posts one transition. It always returns nil: delivery
// failures are terminal for that event, not retryable work.
func (d *Dispatcher) deliver(ctx context.Context, tr types.AlarmTransition) error {
	body := webhookBody{
		EventID:      tr.EventID,
		SpaceShortID: d.cfg.SpaceShortID,
		Transition:   transitionKind(tr),
		RuleID:       tr.RuleID,
		RuleName:     tr.RuleName,
		Group:        tr.Identity.Group,
		Node:         tr.Identity.Node,
		Device:       tr.Identity.Device,
		Metric:       tr.Identity.Metric,
		Value:        tr.Value,
		FromState:    tr.FromState,
		ToState:      tr.ToState,
		Timestamp:    tr.Timestamp,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		d.metrics.recordFailed()
		d.log.Warn("webhook payload encode failed", "rule", tr.RuleID, "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		d.metrics.recordFailed()
		d.log.Warn("webhook request build failed", "rule", tr.RuleID, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Secret != "" {
		req.Header.Set(secretHeader, d.cfg.Secret)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.recordFailed()
		d.log.Warn("webhook delivery failed", "rule", tr.RuleID, "event", tr.EventID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.metrics.recordFailed()
		d.log.Warn("webhook rejected", "rule", tr.RuleID, "event", tr.EventID, "status", resp.StatusCode)
		return nil
	}
	d.metrics.recordDelivered()
	return nil
}

// transitionKind collapses a transition to the coarse kind receivers
// care about: an alarm going active, or an alarm clearing.
func transitionKind(tr types.AlarmTransition) string {
	if tr.ToState == string(types.StateActive) {
		return "active"
	}
	return "normal"
}

type dispatcherMetrics struct {
	delivered prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
}

func newDispatcherMetrics(reg *metric.MetricsRegistry) (*dispatcherMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &dispatcherMetrics{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "webhook",
			Name:      "delivered_total",
			Help:      "Total webhook notifications delivered",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "webhook",
			Name:      "failed_total",
			Help:      "Total webhook deliveries that failed",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "webhook",
			Name:      "dropped_total",
			Help:      "Total webhook notifications dropped before delivery",
		}),
	}
	if err := reg.RegisterCounter("webhook", "delivered_total", m.delivered); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("webhook", "failed_total", m.failed); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter("webhook", "dropped_total", m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *dispatcherMetrics) recordDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *dispatcherMetrics) recordFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func (m *dispatcherMetrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
