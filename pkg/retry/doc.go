// Package retry provides exponential backoff retry logic for transient failures.
//
// # Overview
//
// The service talks to several flaky peers: MQTT brokers, NATS servers,
// HTTP inference backends and webhook targets. This package gives all of
// them one minimal retry mechanism with exponential backoff and jitter.
//
// # Core Functions
//
//   - Do: run a function with retry and exponential backoff
//   - DoWithResult: same, for operations that produce a value
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (webhook delivery, inference calls)
//   - Quick(): 10 attempts, 50ms-1s delay (component startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage Examples
//
// Delivering a webhook notification:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return notifier.post(ctx, payload)
//	})
//
// Calling an HTTP inference backend, failing fast on client errors:
//
//	resp, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*response, error) {
//	    r, err := backend.predict(ctx, features)
//	    if isClientError(err) {
//	        return nil, retry.NonRetryable(err)
//	    }
//	    return r, err
//	})
//
// Custom configuration:
//
//	cfg := retry.Config{
//	    MaxAttempts:  5,
//	    InitialDelay: 200 * time.Millisecond,
//	    MaxDelay:     10 * time.Second,
//	    Multiplier:   2.0,
//	    AddJitter:    true,
//	}
//	err := retry.Do(ctx, cfg, operation)
//
// # Design Philosophy
//
// The package is intentionally small. There are no circuit breakers, no
// metrics and no error classification beyond the NonRetryable marker;
// the caller decides what is worth retrying and instruments the call
// site.
//
// # Context Cancellation
//
// Retry loops stop as soon as the context is cancelled, whether the
// cancellation lands during the operation or during a backoff delay.
//
// # Thread Safety
//
// All functions are safe for concurrent use. Jitter draws from a
// mutex-guarded random source.
package retry
