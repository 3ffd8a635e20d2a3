// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// The buffer package implements circular buffers for managing data flow between
// producers and consumers in concurrent pipelines: meter samples arriving from
// MQTT ahead of the predictor, and prediction results queued per stream
// subscriber. Buffers are generic, thread-safe, and provide observability
// through always-on statistics and optional metrics.
//
// # Quick Start
//
// Basic buffer creation:
//
//	buf, err := buffer.NewCircularBuffer[int](1000)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Write data
//	err = buf.Write(42)
//
//	// Read data
//	value, ok := buf.Read()
//
// With overflow policy and metrics:
//
//	buf, err := buffer.NewCircularBuffer[meter.Sample](5000,
//		buffer.WithOverflowPolicy[meter.Sample](buffer.DropOldest),
//		buffer.WithMetrics[meter.Sample](registry, "mqtt_input"),
//	)
//
// # Overflow Policies
//
// The buffer supports two overflow behaviors when capacity is reached:
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Reject new items when full
//
// For live prediction distribution DropOldest is the right default: a slow
// consumer should see the freshest data, not stall the producer. Use
// WithDropCallback to observe dropped items:
//
//	buf, _ := buffer.NewCircularBuffer[broadcast.Published](64,
//		buffer.WithOverflowPolicy[broadcast.Published](buffer.DropOldest),
//		buffer.WithDropCallback[broadcast.Published](func(p broadcast.Published) {
//			log.Printf("dropped prediction seq=%d", p.Seq)
//		}),
//	)
//
// # Observability
//
// The buffer implements a dual-tracking pattern:
//
// Statistics (Always On):
//   - Tracks all operations using atomic counters
//   - Zero configuration required
//   - Available via buf.Stats()
//   - Provides computed metrics (throughput, drop rate, utilization)
//   - No external dependencies
//
// Prometheus Metrics (Optional):
//   - Enabled via WithMetrics() option
//   - Exports to Prometheus for time-series monitoring
//   - Includes component labels for instance identification
//   - Standard metric types (Counter, Gauge)
//
// Statistics stay available without Prometheus so tests and debugging sessions
// can inspect buffer behavior directly; metrics serve dashboards and alerting.
// The extra atomic increment per operation is negligible at the sample rates
// this service handles.
//
// # Thread Safety
//
// All buffer operations are thread-safe for concurrent use:
//   - Multiple producers can write concurrently
//   - Multiple consumers can read concurrently
//   - Statistics use atomic operations (lock-free)
//   - Metrics use Prometheus atomic types
//   - Internal state protected by sync.RWMutex
//
// # Performance Characteristics
//
// Operations:
//   - Write: O(1) constant time
//   - Read: O(1) constant time
//   - ReadBatch: O(n) where n is batch size
//   - Peek: O(1) constant time
//   - Size/IsFull/IsEmpty: O(1) constant time
//
// Memory:
//   - Pre-allocated circular array
//   - No dynamic allocations during operation
//   - Memory usage: capacity * sizeof(T)
package buffer
