// Package health provides health monitoring for gridsense components
// with thread-safe status tracking and aggregation.
//
// Every long-running component in the service (MQTT input, classifier,
// prediction broadcaster, NATS publisher, websocket output) reports a
// health.Status. The service aggregates them into the system-wide status
// served by the gateway's /api/status and /healthz endpoints.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// The three-state model enables nuanced operational responses. A degraded
// classifier (slow inference, stale model) keeps serving predictions while
// alerting; an unhealthy one means the prediction path is down.
//
// # Core Components
//
// Status: individual component health state containing status level,
// descriptive message, timestamp, optional metrics, and hierarchical
// sub-statuses.
//
// Monitor: thread-safe centralized tracking for multiple component health
// statuses with concurrent read/write access and automatic timestamp
// management.
//
// # Basic Usage
//
// Creating and tracking component health:
//
//	monitor := health.NewMonitor()
//
//	monitor.UpdateHealthy("classifier", "Model loaded, inference responding")
//	monitor.UpdateDegraded("mqtt-input", "Reconnecting to broker")
//	monitor.UpdateUnhealthy("nats-publisher", "Connection lost after 5 attempts")
//
//	if status, exists := monitor.Get("classifier"); exists {
//	    if status.IsHealthy() {
//	        log.Println("Classifier is healthy")
//	    }
//	}
//
// # System-Wide Aggregation
//
// AggregateHealth combines all monitored components into one status using
// worst-case rules:
//
//	systemHealth := monitor.AggregateHealth("gridsense")
//	if systemHealth.IsUnhealthy() {
//	    // At least one component is unhealthy
//	}
//
// Rules:
//   - Any unhealthy component: system unhealthy
//   - Any degraded component (with no unhealthy): system degraded
//   - All healthy: system healthy
//
// # Integration with Components
//
// FromComponentHealth converts a component.HealthStatus into a
// health.Status, sanitizing the last error message on the way:
//
//	status := health.FromComponentHealth("mqtt-input", comp.Health())
//
// Sanitization removes data that does not belong on a public status page:
//   - URLs (http://, https://, nats://, ws://, wss://) become [URL]
//   - File paths (Unix and Windows) become [PATH]
//   - IP addresses become [IP], ports become [PORT]
//   - Credential-looking fragments (password=..., token=...) become [REDACTED]
//
// Sanitization is always on. Over-redacting an error message on a health
// endpoint is cheaper than leaking a broker URL with embedded credentials.
//
// # Thread Safety
//
// All Monitor operations are safe for concurrent use; the monitor uses an
// RWMutex so reads never block each other. Status is a value type and
// methods like WithMetrics and WithSubStatus return copies rather than
// mutating the receiver.
//
// # Error Handling
//
// The health package does not return errors because it represents the
// result of error handling, not part of error propagation. Components
// wrap errors with the errors package first and pass the message here
// for sanitized display.
package health
