package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyautomation/mantle/metric"
)

// Lifecycle phases shared by Pool and KeyedPool. Transitions only move
// forward: idle to running to stopped.
const (
	phaseIdle = iota
	phaseRunning
	phaseStopped
)

// counters is the work accounting common to both pool shapes.
type counters struct {
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (c *counters) snapshot(workers, queueSize, depth int) PoolStats {
	return PoolStats{
		Workers:    workers,
		QueueSize:  queueSize,
		QueueDepth: depth,
		Submitted:  c.submitted.Load(),
		Processed:  c.processed.Load(),
		Failed:     c.failed.Load(),
		Dropped:    c.dropped.Load(),
	}
}

// Pool runs a fixed set of workers draining one shared bounded queue.
// Submissions never block; a full queue rejects the item instead.
type Pool[T any] struct {
	workers int
	handler func(context.Context, T) error
	queue   chan T

	// mu guards phase transitions. Submit holds the read side so Stop
	// cannot close the queue under an in-flight send.
	mu    sync.RWMutex
	phase int
	wg    sync.WaitGroup

	counters

	reg         *metric.MetricsRegistry
	metricsName string
	metrics     *poolMetrics
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics exports the pool's queue depth, queue-full drops, and
// handler durations through reg under the given component name.
// Registration happens in Start so a metric name conflict surfaces
// there.
func WithMetrics[T any](reg *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.reg = reg
		p.metricsName = name
	}
}

// NewPool creates a pool of workers draining a queue of queueSize
// items. Non-positive sizes fall back to 10 workers and a queue of
// 1000. A nil handler panics.
func NewPool[T any](workers, queueSize int, handler func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if handler == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers: workers,
		handler: handler,
		queue:   make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start registers metrics when configured and launches the workers.
// Cancelling ctx makes workers exit without draining the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case phaseRunning:
		return ErrPoolAlreadyStarted
	case phaseStopped:
		return ErrPoolStopped
	}

	if p.reg != nil && p.metrics == nil {
		m, err := newPoolMetrics(p.reg, p.metricsName)
		if err != nil {
			return err
		}
		p.metrics = m
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	p.phase = phaseRunning
	return nil
}

// Submit enqueues work without blocking. Returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.phase {
	case phaseIdle:
		return ErrPoolNotStarted
	case phaseStopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- item:
		p.submitted.Add(1)
		p.metrics.setDepth(len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.recordDrop()
		return ErrQueueFull
	}
}

// Stop rejects further submissions, lets the workers drain what is
// already queued, and waits up to timeout for them to finish. Safe to
// call more than once.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.phase != phaseRunning {
		p.mu.Unlock()
		return nil
	}
	p.phase = phaseStopped
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats snapshots the pool's accounting.
func (p *Pool[T]) Stats() PoolStats {
	return p.counters.snapshot(p.workers, cap(p.queue), len(p.queue))
}

func (p *Pool[T]) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, item)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, item T) {
	start := time.Now()
	err := p.handler(ctx, item)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	p.metrics.observe(time.Since(start), err)
	p.metrics.setDepth(len(p.queue))
}

// poolMetrics is the pool's exported view: current depth, queue-full
// drops, and a duration histogram whose status label separates handler
// successes from failures. Submitted and processed totals are
// derivable, so they are not exported separately.
type poolMetrics struct {
	depth    prometheus.Gauge
	drops    prometheus.Counter
	duration *prometheus.HistogramVec
}

func newPoolMetrics(reg *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	m := &poolMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mantle", Subsystem: name, Name: "pool_queue_depth",
			Help: "Work items waiting in the pool queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mantle", Subsystem: name, Name: "pool_dropped_total",
			Help: "Work items rejected because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mantle", Subsystem: name, Name: "pool_processing_duration_seconds",
			Help:    "Handler execution time by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"status"}),
	}
	if err := reg.RegisterGauge(name, "pool_queue_depth", m.depth); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounter(name, "pool_dropped_total", m.drops); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogramVec(name, "pool_processing_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

func (m *poolMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *poolMetrics) observe(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}
