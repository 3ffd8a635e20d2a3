// Package broadcast fans out published predictions to live subscribers.
//
// The Broadcaster keeps one slot holding the latest published envelope plus
// a registry of subscribers. Publish stamps a monotonic sequence number,
// replaces the slot, and enqueues the envelope on every subscriber's
// bounded drop-oldest queue inside one critical section, so each subscriber
// observes envelopes in publish order with non-decreasing sequence numbers,
// each at most once. Enqueueing never blocks: a slow subscriber loses its
// own oldest envelopes and never delays the publisher or its peers.
//
// The slot has no terminal state. It starts Empty and holds the most recent
// envelope for the rest of the process lifetime; Latest reports Empty with
// a false second return, never a fabricated prediction.
package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/predict"
)

// defaultQueueSize is the per-subscriber queue capacity when no option is
// given. Sized for a few seconds of meter samples at typical rates.
const defaultQueueSize = 64

// Published is one broadcast envelope: the validated input, the assembled
// result, and the publish metadata.
type Published struct {
	Seq        uint64         `json:"seq"`
	ProducedAt time.Time      `json:"produced_at"`
	Input      feature.Vector `json:"input"`
	Result     predict.Result `json:"result"`
}

// Broadcaster distributes published predictions. Create one with New; the
// zero value is not usable.
type Broadcaster struct {
	mu          sync.RWMutex
	seq         uint64
	latest      Published
	hasLatest   bool
	subscribers map[uuid.UUID]*Subscription

	queueSize int
	logger    *slog.Logger

	// Always-on counters, Prometheus optional on top.
	published atomic.Uint64
	dropped   atomic.Uint64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	publishedTotal  prometheus.Counter
	subscriberGauge prometheus.Gauge
	droppedTotal    prometheus.Counter
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(size int) Option {
	return func(b *Broadcaster) {
		b.queueSize = size
	}
}

// WithMetrics enables Prometheus metrics with the given component prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(b *Broadcaster) {
		if registry != nil && prefix != "" {
			b.metricsRegistry = registry
			b.metricsPrefix = prefix
		}
	}
}

// WithLogger sets the logger for subscriber lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// New creates a Broadcaster in the Empty state.
func New(opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		subscribers: make(map[uuid.UUID]*Subscription),
		queueSize:   defaultQueueSize,
		logger:      slog.Default().With("component", "broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.queueSize < 1 {
		return nil, fmt.Errorf("queue size must be positive, got %d", b.queueSize)
	}
	if b.metricsRegistry != nil {
		if err := b.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Publish assigns the next sequence number, replaces the latest slot, and
// enqueues the envelope for every registered subscriber. It never blocks on
// slow subscribers and returns the envelope it published.
func (b *Broadcaster) Publish(input feature.Vector, result predict.Result) Published {
	b.mu.Lock()
	b.seq++
	pub := Published{
		Seq:        b.seq,
		ProducedAt: time.Now().UTC(),
		Input:      input,
		Result:     result,
	}
	b.latest = pub
	b.hasLatest = true
	for _, sub := range b.subscribers {
		sub.deliver(pub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	if b.publishedTotal != nil {
		b.publishedTotal.Inc()
	}
	return pub
}

// Latest returns the most recently published envelope, or false while the
// slot is still Empty. It never waits on subscriber delivery.
func (b *Broadcaster) Latest() (Published, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.hasLatest
}

// Subscribe registers a new subscriber and returns its handle. The
// subscription receives only envelopes published after registration.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := newSubscription(b)

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Set(float64(count))
	}
	go sub.pump()

	b.logger.Debug("subscriber registered", "subscription_id", sub.id.String(), "subscribers", count)
	return sub
}

// Unsubscribe removes a subscriber and releases its resources. Idempotent
// and safe from any goroutine; unknown IDs are a no-op.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	if b.subscriberGauge != nil {
		b.subscriberGauge.Set(float64(count))
	}
	sub.shutdown()

	b.logger.Debug("subscriber removed", "subscription_id", id.String(), "subscribers", count)
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Sequence returns the sequence number of the most recent publish, zero
// while Empty.
func (b *Broadcaster) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Statistics is a point-in-time snapshot of broadcaster activity.
type Statistics struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Stats returns a snapshot of the always-on counters.
func (b *Broadcaster) Stats() Statistics {
	return Statistics{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.SubscriberCount(),
	}
}

// recordDrop tracks one envelope dropped from a subscriber queue.
func (b *Broadcaster) recordDrop() {
	b.dropped.Add(1)
	if b.droppedTotal != nil {
		b.droppedTotal.Inc()
	}
}

// initializeMetrics registers the broadcaster's Prometheus metrics.
func (b *Broadcaster) initializeMetrics() error {
	labels := prometheus.Labels{"component": b.metricsPrefix}

	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "gridsense",
		Subsystem:   "broadcast",
		Name:        "published_total",
		Help:        "Total number of predictions published",
		ConstLabels: labels,
	})
	if err := b.metricsRegistry.RegisterCounter(b.metricsPrefix, "broadcast_published_total", published); err != nil {
		return fmt.Errorf("register published counter: %w", err)
	}
	b.publishedTotal = published

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "gridsense",
		Subsystem:   "broadcast",
		Name:        "subscribers",
		Help:        "Current number of registered subscribers",
		ConstLabels: labels,
	})
	if err := b.metricsRegistry.RegisterGauge(b.metricsPrefix, "broadcast_subscribers", subscribers); err != nil {
		return fmt.Errorf("register subscriber gauge: %w", err)
	}
	b.subscriberGauge = subscribers

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "gridsense",
		Subsystem:   "broadcast",
		Name:        "dropped_total",
		Help:        "Total number of envelopes dropped from slow subscriber queues",
		ConstLabels: labels,
	})
	if err := b.metricsRegistry.RegisterCounter(b.metricsPrefix, "broadcast_dropped_total", dropped); err != nil {
		return fmt.Errorf("register dropped counter: %w", err)
	}
	b.droppedTotal = dropped

	return nil
}
