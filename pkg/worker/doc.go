// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// The worker package implements the pool pattern used by the prediction
// pipeline: a fixed number of goroutines drain a bounded queue of work items
// and run a processor function against each one. In gridsense the pool sits
// between sample ingestion and the classifier, so a burst of meter readings
// never spawns an unbounded number of inference calls.
//
// Key properties:
//   - Generic type support for type-safe work processing
//   - Bounded queue with non-blocking submit (backpressure via ErrQueueFull)
//   - Context-aware cancellation and graceful shutdown
//   - Dual-tracking observability (always-on statistics + optional Prometheus metrics)
//
// # Core Concepts
//
// Worker Pool Pattern:
//
// The pool manages a fixed number of goroutines (workers) that process work
// items from a bounded channel (queue). Worker count and queue size are fixed
// at creation, so memory and goroutine overhead are predictable regardless of
// ingest rate.
//
// Generic Type Safety:
//
// Using Go generics, the pool can process any work type T without type
// assertions. The prediction pipeline processes meter samples:
//
//	pool := worker.NewPool[meter.Sample](
//	    4,    // workers
//	    256,  // queue size
//	    func(ctx context.Context, s meter.Sample) error {
//	        _, err := assembler.Single(ctx, s.Record())
//	        return err
//	    },
//	)
//
// Non-Blocking Submit:
//
// Submit uses a non-blocking send rather than blocking on a full queue.
// Callers never stall waiting for queue space; ErrQueueFull is the overload
// signal. Ingest components treat a full queue the same way the buffer
// package treats overflow: count the drop and keep reading from the wire.
//
// Dual-Tracking Observability:
//
// Statistics are always tracked with atomic counters and exposed through
// Stats(). Prometheus metrics are opt-in via WithMetricsRegistry:
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewPool[meter.Sample](
//	    4, 256, process,
//	    worker.WithMetricsRegistry[meter.Sample](registry, "prediction_pipeline"),
//	)
//
// Metrics exposed (all carry a component label with the configured prefix):
//   - gridsense_worker_queue_depth
//   - gridsense_worker_utilization
//   - gridsense_worker_submitted_total
//   - gridsense_worker_processed_total
//   - gridsense_worker_failed_total
//   - gridsense_worker_dropped_total
//   - gridsense_worker_processing_duration_seconds (histogram by status)
//
// # Lifecycle
//
// Start launches the workers with a caller-supplied context; cancelling the
// context stops them after the in-flight item completes. Stop closes the
// queue, lets workers drain what remains, and waits up to the given timeout:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//
//	// ... submit work ...
//
//	if err := pool.Stop(10 * time.Second); err != nil {
//	    if errors.Is(err, worker.ErrStopTimeout) {
//	        log.Println("workers did not finish in time")
//	    }
//	}
//
// Lifecycle guarantees:
//   - Start can only be called once (ErrPoolAlreadyStarted)
//   - Submit fails before Start (ErrPoolNotStarted) and after Stop (ErrPoolStopped)
//   - Stop is idempotent
//   - Workers complete in-flight work before exiting
//
// # Error Handling
//
// The pool uses plain sentinel errors rather than the classified error
// framework, because pool errors are either programming errors or resource
// exhaustion:
//
//   - ErrPoolNotStarted, ErrPoolAlreadyStarted, ErrNilProcessor: programming errors
//   - ErrPoolStopped: expected after Stop
//   - ErrQueueFull: backpressure signal
//   - ErrStopTimeout: workers stuck past the shutdown deadline
//
// Processor functions may return classified errors (transient, invalid,
// fatal); the pool counts them in the failed statistics but does not
// interpret them. Classifier failures in particular propagate to the caller
// of the processor unchanged.
//
// # Limitations
//
//  1. No per-work-item timeout: implement in the processor via the context
//  2. No priority queues: all work is FIFO
//  3. No dynamic worker scaling: worker count is fixed at creation
//  4. Queue depth metrics have 1-second granularity (ticker-based)
//
// # See Also
//
//   - buffer package: bounded buffering with overflow policies
//   - retry package: exponential backoff for transient failures
//   - metric package: Prometheus registry integration
package worker
