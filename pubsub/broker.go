// Package pubsub is the in-process event fabric. Ingestion and the alarm
// engine publish typed events (types.MetricUpdate, types.AlarmTransition)
// to named topics; GraphQL subscriptions and other consumers attach with
// Subscribe. Every subscriber owns a bounded drop-oldest circular buffer
// drained into its delivery channel, so a slow consumer loses its oldest
// events instead of stalling the ingest path.
package pubsub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/metric"
	"github.com/joyautomation/mantle/pkg/buffer"
)

// DefaultBufferSize is used when Subscribe gets a non-positive size.
const DefaultBufferSize = 256

// Broker fans events out to per-topic subscribers.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	closed bool

	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewBroker constructs a broker. When reg is non-nil the broker's
// published/delivered/dropped counters are exported through it.
func NewBroker(reg *metric.MetricsRegistry) (*Broker, error) {
	b := &Broker{
		topics: make(map[string]map[uint64]*Subscription),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Events published per topic",
		}, []string{"topic"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "pubsub",
			Name:      "delivered_total",
			Help:      "Events delivered to subscriber channels per topic",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mantle",
			Subsystem: "pubsub",
			Name:      "dropped_total",
			Help:      "Events dropped from full subscriber buffers per topic",
		}, []string{"topic"}),
	}

	if reg != nil {
		if err := reg.RegisterCounterVec("pubsub", "published_total", b.published); err != nil {
			return nil, err
		}
		if err := reg.RegisterCounterVec("pubsub", "delivered_total", b.delivered); err != nil {
			return nil, err
		}
		if err := reg.RegisterCounterVec("pubsub", "dropped_total", b.dropped); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Subscribe attaches a new subscriber to topic. bufferSize bounds the
// subscriber's queue; zero or negative selects DefaultBufferSize.
func (b *Broker) Subscribe(topic string, bufferSize int) (*Subscription, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	sub := &Subscription{
		topic:     topic,
		ch:        make(chan any),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		delivered: b.delivered.WithLabelValues(topic),
	}

	buf := buffer.NewRing[any](bufferSize,
		buffer.WithPolicy[any](buffer.DropOldest),
		buffer.OnDrop[any](func(any) {
			b.dropped.WithLabelValues(topic).Inc()
		}),
	)
	sub.buf = buf

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		buf.Close()
		return nil, errors.Wrap(errors.ErrAlreadyStopped, "pubsub", "Subscribe", "broker closed")
	}
	b.nextID++
	sub.id = b.nextID
	sub.broker = b
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()

	go sub.drain()
	return sub, nil
}

// Publish enqueues event for every subscriber of topic and returns the
// number of subscribers reached. It never blocks on slow consumers.
func (b *Broker) Publish(topic string, event any) int {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	var subs []*Subscription
	if m := b.topics[topic]; len(m) > 0 {
		subs = make([]*Subscription, 0, len(m))
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	b.published.WithLabelValues(topic).Inc()
	for _, s := range subs {
		if err := s.buf.Write(event); err != nil {
			continue // subscriber tearing down
		}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return len(subs)
}

// SubscriberCount reports the current number of subscribers on topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close detaches every subscriber and rejects further use.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.topics {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	b.topics = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
}

func (b *Broker) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Subscription is one subscriber's attachment to a topic.
type Subscription struct {
	topic     string
	id        uint64
	broker    *Broker
	buf       *buffer.Ring[any]
	ch        chan any
	wake      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	delivered prometheus.Counter
}

// C is the delivery channel. It closes after Unsubscribe (or broker
// Close) once the drain goroutine exits.
func (s *Subscription) C() <-chan any { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe detaches the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.broker.remove(s.topic, s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.buf.Close()
	})
}

// drain moves events from the buffer to the delivery channel. Sends
// block only this goroutine; the buffer keeps absorbing writes.
func (s *Subscription) drain() {
	defer close(s.ch)
	for {
		item, ok := s.buf.Read()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.ch <- item:
			s.delivered.Inc()
		case <-s.done:
			return
		}
	}
}
