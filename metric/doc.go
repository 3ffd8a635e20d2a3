// Package metric provides Prometheus-based metrics collection for GridSense
// monitoring and observability.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (service status, message processing, NATS health) and
// custom component-specific metrics. The registry's underlying Prometheus
// registry is exported over HTTP by the gateway's /metrics endpoint.
//
// # Architecture
//
// The package follows a two-layer design:
//
//  1. Core Metrics: Platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics
//     (MetricsRegistrar interface)
//
// This separates infrastructure concerns (core metrics) from application
// concerns (component-specific metrics) while keeping a single registry that
// monitoring systems scrape through one endpoint.
//
// # Basic Usage
//
// Setting up metrics collection:
//
//	registry := metric.NewMetricsRegistry()
//
//	// Record core platform metrics
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordServiceStatus("predictor", 2)
//	coreMetrics.RecordMessageProcessed("predictor", "sample", "success")
//
// The gateway exposes the registry at /metrics in OpenMetrics format:
//
//	handler := promhttp.HandlerFor(registry.PrometheusRegistry(),
//	    promhttp.HandlerOpts{EnableOpenMetrics: true})
//
// # Core Metrics
//
// The registry automatically registers core platform metrics tracking:
//
//   - Service lifecycle: gridsense_service_status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)
//   - Message flow: gridsense_messages_received_total, gridsense_messages_processed_total,
//     gridsense_messages_published_total
//   - Processing performance: gridsense_processing_duration_seconds
//   - Error tracking: gridsense_errors_total
//   - Health status: gridsense_health_status
//   - NATS connectivity: gridsense_nats_connected, gridsense_nats_rtt_milliseconds,
//     gridsense_nats_reconnects_total
//
// # Component-Specific Metrics
//
// Components register custom metrics through the MetricsRegistrar interface:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "gridsense",
//	    Subsystem: "predictor",
//	    Name:      "predictions_total",
//	    Help:      "Total number of predictions produced",
//	})
//	err := registry.RegisterCounter("predictor", "predictions_total", counter)
//
// Vector variants (RegisterCounterVec, RegisterGaugeVec, RegisterHistogramVec)
// support labeled metrics. All registration methods return an error on
// duplicate registration, at both the registry and prometheus level.
//
// # Thread Safety
//
// All registry operations are thread-safe:
//   - Registration methods use mutex protection
//   - Metric recording is lock-free (Prometheus guarantee)
//   - CoreMetrics() returns a thread-safe shared instance
//   - PrometheusRegistry() is safe for concurrent access
package metric
