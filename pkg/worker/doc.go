// Package worker provides generic, thread-safe worker pools for concurrent
// task processing.
//
// # Overview
//
// Two pool shapes are provided:
//
//   - Pool: a fixed number of workers draining one shared bounded queue.
//     Used for webhook dispatch, where deliveries are independent and
//     order does not matter.
//   - KeyedPool: one bounded queue per worker, with work routed by an
//     FNV-1a hash of a caller-supplied key. Used by ingestion so that
//     samples for a single device identity are processed in arrival
//     order while distinct identities run in parallel.
//
// Both pools submit without blocking: when the target queue is full the
// work item is rejected with ErrQueueFull and counted as dropped.
//
// # Usage
//
//	pool := worker.NewPool[DeliveryTask](
//	    10,    // workers
//	    1000,  // queue size
//	    func(ctx context.Context, task DeliveryTask) error {
//	        return deliver(ctx, task)
//	    },
//	)
//	if err := pool.Start(ctx); err != nil { ... }
//	defer pool.Stop(5 * time.Second)
//
//	err := pool.Submit(task)
//
// KeyedPool takes the routing key at submission:
//
//	err := pool.Submit(identity.Key(), update)
//
// # Observability
//
// Statistics (submitted, processed, failed, dropped, queue depth) are
// always tracked atomically and returned by Stats(). Pool additionally
// accepts WithMetrics to export its queue depth, queue-full drops, and
// a processing-duration histogram through the process registry.
//
// # Shutdown
//
// Stop closes the queues, lets workers drain in-flight items, and
// waits up to the given timeout. Workers also exit immediately when
// the Start context is cancelled, abandoning queued work.
package worker
