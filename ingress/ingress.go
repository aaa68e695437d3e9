package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/config"
	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/health"
	"github.com/joyautomation/mantle/hotcache"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pkg/timestamp"
	"github.com/joyautomation/mantle/pkg/tlsutil"
	"github.com/joyautomation/mantle/pkg/worker"
	"github.com/joyautomation/mantle/pubsub"
	"github.com/joyautomation/mantle/sparkplug"
	"github.com/joyautomation/mantle/storage"
	"github.com/joyautomation/mantle/topology"
	"github.com/joyautomation/mantle/types"
)

const (
	connectTimeout    = 30 * time.Second
	disconnectQuiesce = 250 // ms, paho's Disconnect unit

	pipelineWorkers   = 8
	pipelineQueueSize = 1024

	subscribeQoS = 0
)

// Historian is the storage surface the pipeline and the delete cascade
// write to. *storage.Store implements it.
type Historian interface {
	RecordSample(ctx context.Context, sample storage.Sample) error
	UpsertProperties(ctx context.Context, id types.Identity, entries types.PropertyMap) error
	DeleteHistory(ctx context.Context, sc types.Scope) (int64, error)
	DeleteHiddenByScope(ctx context.Context, sc types.Scope) (int64, error)
	DeleteProperties(ctx context.Context, sc types.Scope) (int64, error)
}

// Evaluator runs alarm rules against incoming samples. *alarm.Engine
// implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, id types.Identity, value types.Value) error
}

// HotCache mirrors current values into Redis. *hotcache.Cache
// implements it; a nil cache disables the path entirely.
type HotCache interface {
	Connected() bool
	Store(ctx context.Context, rec hotcache.Record) error
	DeleteByScope(ctx context.Context, sc types.Scope) (int, error)
}

// Deps carries the collaborators the pipeline writes to.
type Deps struct {
	Topology *topology.Host
	Store    Historian
	Alarms   Evaluator
	// Cache is optional; leave nil when the hot cache is disabled.
	Cache  HotCache
	Broker *pubsub.Broker
	// Historian gates history inserts. Topology, properties, alarms,
	// and fan-out run regardless.
	Historian bool
}

// frame is one received MQTT message with its parsed topic, queued for
// a pipeline worker.
type frame struct {
	topic    sparkplug.Topic
	payload  []byte
	received int64
}

// Ingress owns the MQTT subscription, the ordered processing pool, the
// command write path, and the delete cascade.
type Ingress struct {
	cfg  config.MQTTConfig
	deps Deps

	log     *slog.Logger
	metrics *ingressMetrics
	core    *metric.Metrics

	client   mqtt.Client
	pool     *worker.KeyedPool[frame]
	sessions *sessionTracker

	mu  sync.Mutex
	seq map[string]uint64 // per edge node command sequence, 0-255

	stopOnce sync.Once
}

// New creates the ingress component. Initialize builds the MQTT client;
// Start connects and subscribes.
func New(cfg config.MQTTConfig, deps Deps, log *slog.Logger, reg *metric.MetricsRegistry) (*Ingress, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics, err := newIngressMetrics(reg)
	if err != nil {
		return nil, err
	}
	i := &Ingress{
		cfg:      cfg,
		deps:     deps,
		log:      log.With("component", "ingress"),
		metrics:  metrics,
		sessions: newSessionTracker(),
		seq:      make(map[string]uint64),
	}
	if reg != nil {
		i.core = reg.CoreMetrics()
	}
	return i, nil
}

// Name identifies the component.
func (i *Ingress) Name() string { return "ingress" }

// Initialize builds the paho client and the worker pool. No network
// activity happens until Start.
func (i *Ingress) Initialize() error {
	clientID := i.cfg.ClientID
	if clientID == "" {
		clientID = "mantle-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if i.cfg.Username != "" {
		opts.SetUsername(i.cfg.Username)
		opts.SetPassword(i.cfg.Password)
	}

	if len(i.cfg.TLS.CAFiles) > 0 || i.cfg.TLS.MTLS.Enabled || i.cfg.TLS.InsecureSkipVerify {
		tlsCfg, err := tlsutil.LoadClientConfig(i.cfg.TLS)
		if err != nil {
			return errors.WrapInvalid(err, "ingress", "Initialize", "loading TLS configuration")
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(i.onConnect)
	opts.SetConnectionLostHandler(i.onConnectionLost)
	opts.SetReconnectingHandler(i.onReconnecting)

	i.client = mqtt.NewClient(opts)
	i.pool = worker.NewKeyedPool(pipelineWorkers, pipelineQueueSize, i.processFrame)
	i.log.Info("ingress initialized", "broker", i.cfg.BrokerURL, "client_id", clientID)
	return nil
}

// Start launches the pipeline workers and connects to the broker.
// Subscriptions are established in the OnConnect handler so they come
// back automatically after a reconnect.
func (i *Ingress) Start(ctx context.Context) error {
	if i.client == nil {
		return errors.Wrap(errors.ErrNotStarted, "ingress", "Start", "Initialize not called")
	}
	if err := i.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "ingress", "Start", "starting pipeline workers")
	}

	token := i.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "ingress", "Start",
			fmt.Sprintf("connecting to %s", i.cfg.BrokerURL))
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "ingress", "Start",
			fmt.Sprintf("connecting to %s", i.cfg.BrokerURL))
	}
	return nil
}

// Stop disconnects from the broker and drains the pipeline.
func (i *Ingress) Stop(timeout time.Duration) error {
	var err error
	i.stopOnce.Do(func() {
		if i.client != nil && i.client.IsConnected() {
			i.client.Disconnect(disconnectQuiesce)
		}
		if i.core != nil {
			i.core.RecordBrokerStatus(false)
		}
		if i.pool != nil {
			err = i.pool.Stop(timeout)
		}
	})
	return err
}

// Health reports broker connectivity and pipeline backlog.
func (i *Ingress) Health() health.Status {
	if i.client == nil {
		return health.NewUnhealthy("ingress", "not initialized")
	}
	if !i.client.IsConnected() {
		return health.NewUnhealthy("ingress", "broker disconnected")
	}
	stats := i.pool.Stats()
	return health.NewHealthy("ingress",
		fmt.Sprintf("connected, queue depth %d/%d", stats.QueueDepth, stats.Workers*stats.QueueSize))
}

// subscriptions returns the consumed topic filters: the four
// data-bearing classes for the pipeline plus the death classes for
// session bookkeeping. Command classes are intentionally not consumed.
func (i *Ingress) subscriptions() []string {
	return []string{
		sparkplug.SubscribeFilter(sparkplug.MessageNBirth, i.cfg.SharedGroup),
		sparkplug.SubscribeFilter(sparkplug.MessageDBirth, i.cfg.SharedGroup),
		sparkplug.SubscribeFilter(sparkplug.MessageNData, i.cfg.SharedGroup),
		sparkplug.SubscribeFilter(sparkplug.MessageDData, i.cfg.SharedGroup),
		sparkplug.SubscribeFilter(sparkplug.MessageNDeath, i.cfg.SharedGroup),
		sparkplug.SubscribeFilter(sparkplug.MessageDDeath, i.cfg.SharedGroup),
	}
}

func (i *Ingress) onConnect(client mqtt.Client) {
	for _, filter := range i.subscriptions() {
		token := client.Subscribe(filter, subscribeQoS, i.onMessage)
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			i.log.Error("subscription failed", "filter", filter, "error", token.Error())
			continue
		}
		i.log.Info("subscribed", "filter", filter)
	}
	if i.core != nil {
		i.core.RecordBrokerStatus(true)
	}
}

func (i *Ingress) onConnectionLost(_ mqtt.Client, err error) {
	i.log.Warn("broker connection lost", "error", err)
	if i.core != nil {
		i.core.RecordBrokerStatus(false)
	}
}

func (i *Ingress) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	i.log.Info("reconnecting to broker", "broker", i.cfg.BrokerURL)
	if i.core != nil {
		i.core.RecordBrokerReconnect()
	}
}

// onMessage runs on paho's receive path. It must not block: parse the
// topic, check the session counter, enqueue, and return.
//
// The sequence check lives here rather than in the pool because the
// seq counter is shared by a node and all of its devices, and the
// keyed pool splits those into separate lanes. Paho delivers to this
// handler serially, so observe sees frames in broker order.
func (i *Ingress) onMessage(_ mqtt.Client, msg mqtt.Message) {
	i.metrics.recordFrame()

	topic, err := sparkplug.ParseTopic(msg.Topic())
	if err != nil {
		i.metrics.recordDropped()
		i.log.Warn("dropping frame with malformed topic", "topic", msg.Topic(), "error", err)
		return
	}

	seq, hasSeq := sparkplug.PeekSeq(msg.Payload())
	if result, rebirth := i.sessions.observe(topic, seq, hasSeq); result != seqOK {
		i.metrics.recordSeqGap()
		i.log.Warn("sequence discontinuity", "topic", msg.Topic(), "seq", seq, "reason", result.String())
		if rebirth {
			// Publishing from inside the handler would deadlock paho.
			go i.requestRebirth(topic.Group, topic.Node)
		}
	}
	if topic.Type.IsDeath() {
		// Death frames carry no samples. Session bookkeeping is done.
		return
	}

	f := frame{topic: topic, payload: msg.Payload(), received: timestamp.Now()}
	key := topic.Group + "|" + topic.Node + "|" + topic.Device
	if err := i.pool.Submit(key, f); err != nil {
		i.metrics.recordDropped()
		i.log.Warn("dropping frame, pipeline backlogged", "topic", msg.Topic(), "error", err)
	}
}

type ingressMetrics struct {
	frames          prometheus.Counter
	decodeErrors    prometheus.Counter
	dropped         prometheus.Counter
	samples         prometheus.Counter
	commands        prometheus.Counter
	deleteCascade   prometheus.Counter
	seqGaps         prometheus.Counter
	rebirthRequests prometheus.Counter
}

func newIngressMetrics(reg *metric.MetricsRegistry) (*ingressMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &ingressMetrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "frames_total",
			Help:      "Total MQTT frames received",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "decode_errors_total",
			Help:      "Total frames that failed Sparkplug decoding",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped before processing",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "samples_total",
			Help:      "Total metric samples processed",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "commands_total",
			Help:      "Total write commands published",
		}),
		deleteCascade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "delete_cascades_total",
			Help:      "Total delete cascades executed",
		}),
		seqGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "sequence_gaps_total",
			Help:      "Total frames with a broken Sparkplug sequence",
		}),
		rebirthRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "ingress",
			Name:      "rebirth_requests_total",
			Help:      "Total rebirth commands published",
		}),
	}
	registrations := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"frames_total", m.frames},
		{"decode_errors_total", m.decodeErrors},
		{"frames_dropped_total", m.dropped},
		{"samples_total", m.samples},
		{"commands_total", m.commands},
		{"delete_cascades_total", m.deleteCascade},
		{"sequence_gaps_total", m.seqGaps},
		{"rebirth_requests_total", m.rebirthRequests},
	}
	for _, r := range registrations {
		if err := reg.RegisterCounter("ingress", r.name, r.counter); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *ingressMetrics) recordFrame() {
	if m == nil {
		return
	}
	m.frames.Inc()
}

func (m *ingressMetrics) recordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *ingressMetrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *ingressMetrics) recordSample() {
	if m == nil {
		return
	}
	m.samples.Inc()
}

func (m *ingressMetrics) recordCommand() {
	if m == nil {
		return
	}
	m.commands.Inc()
}

func (m *ingressMetrics) recordDeleteCascade() {
	if m == nil {
		return
	}
	m.deleteCascade.Inc()
}

func (m *ingressMetrics) recordSeqGap() {
	if m == nil {
		return
	}
	m.seqGaps.Inc()
}

func (m *ingressMetrics) recordRebirthRequest() {
	if m == nil {
		return
	}
	m.rebirthRequests.Inc()
}
