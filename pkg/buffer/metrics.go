package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/metric"
)

// bufferMetrics exposes buffer activity as Prometheus metrics. The
// owning component's name goes into a const label so several buffers
// can share the metric names.
type bufferMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	peeks     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gridsense",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "gridsense",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		writes:      counter("writes_total", "Total buffer write operations"),
		reads:       counter("reads_total", "Total buffer read operations"),
		peeks:       counter("peeks_total", "Total buffer peek operations"),
		overflows:   counter("overflows_total", "Total buffer overflow events"),
		drops:       counter("drops_total", "Total items dropped due to overflow"),
		size:        gauge("size", "Current number of items in the buffer"),
		utilization: gauge("utilization", "Buffer fill level, 0.0 to 1.0"),
	}

	counters := map[string]prometheus.Counter{
		"buffer_writes":    m.writes,
		"buffer_reads":     m.reads,
		"buffer_peeks":     m.peeks,
		"buffer_overflows": m.overflows,
		"buffer_drops":     m.drops,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}

	gauges := map[string]prometheus.Gauge{
		"buffer_size":        m.size,
		"buffer_utilization": m.utilization,
	}
	for name, g := range gauges {
		if err := registry.RegisterGauge(prefix, name, g); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordPeek() {
	m.peeks.Inc()
}

func (m *bufferMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
