package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// KeyedPool preserves processing order per key. Work submitted with
// the same key is hashed onto the same worker and processed in
// submission order; work with different keys runs concurrently across
// workers.
//
// Ingestion uses this to keep metric samples for one device identity
// strictly ordered while devices are processed in parallel.
type KeyedPool[T any] struct {
	workers int
	handler func(context.Context, T) error
	queues  []chan T

	mu    sync.RWMutex
	phase int
	wg    sync.WaitGroup

	counters
}

// NewKeyedPool creates a keyed pool. Each of the workers owns a
// dedicated queue of queueSize items; non-positive sizes fall back to
// 4 workers and queues of 1000. A nil handler panics.
func NewKeyedPool[T any](workers, queueSize int, handler func(context.Context, T) error) *KeyedPool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if handler == nil {
		panic(ErrNilProcessor)
	}

	queues := make([]chan T, workers)
	for i := range queues {
		queues[i] = make(chan T, queueSize)
	}

	return &KeyedPool[T]{
		workers: workers,
		handler: handler,
		queues:  queues,
	}
}

// Start launches one goroutine per worker queue. Cancelling ctx makes
// workers exit without draining their queues.
func (p *KeyedPool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case phaseRunning:
		return ErrPoolAlreadyStarted
	case phaseStopped:
		return ErrPoolStopped
	}

	for _, q := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, q)
	}
	p.phase = phaseRunning
	return nil
}

// Submit routes work to the worker owning the key's hash bucket.
// Returns ErrQueueFull when that worker's queue is at capacity.
func (p *KeyedPool[T]) Submit(key string, item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.phase {
	case phaseIdle:
		return ErrPoolNotStarted
	case phaseStopped:
		return ErrPoolStopped
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(p.workers))

	select {
	case p.queues[idx] <- item:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop closes all queues, lets workers drain what is already queued,
// and waits up to timeout. Safe to call more than once.
func (p *KeyedPool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.phase != phaseRunning {
		p.mu.Unlock()
		return nil
	}
	p.phase = phaseStopped
	for _, q := range p.queues {
		close(q)
	}
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

// Stats snapshots the pool's accounting. QueueDepth sums all worker
// queues.
func (p *KeyedPool[T]) Stats() PoolStats {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return p.counters.snapshot(p.workers, cap(p.queues[0]), depth)
}

func (p *KeyedPool[T]) run(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-queue:
			if !ok {
				return
			}
			err := p.handler(ctx, item)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
		}
	}
}
