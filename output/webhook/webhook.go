// Package webhook posts published predictions to configured HTTP endpoints.
//
// The Notifier holds one broadcaster subscription and fans each envelope out
// to its targets. Targets filter independently: a minimum confidence floor
// and an on-change mode that suppresses deliveries while the device state
// set is unchanged. Delivery uses bounded exponential backoff; a 4xx answer
// is the receiver rejecting the payload and is never retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/pkg/retry"
)

const defaultTimeout = 10 * time.Second

// Payload is the JSON body posted to each target.
type Payload struct {
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"` // unix milliseconds
	Seq        uint64          `json:"seq"`
	Readings   feature.Vector  `json:"readings"`
	Label      int             `json:"label"`
	States     device.StateSet `json:"device_states"`
	Confidence float64         `json:"confidence"`
}

// Deps holds the notifier's runtime dependencies.
type Deps struct {
	Targets     []config.WebhookConfig
	Broadcaster *broadcast.Broadcaster
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger
	Retry       retry.Config
}

// target is one configured endpoint with its filter state.
type target struct {
	cfg    config.WebhookConfig
	client *http.Client

	// lastStates backs the on-change filter. Only the consumer goroutine
	// touches it.
	lastStates device.StateSet
	hasLast    bool
}

// Notifier is the webhook delivery component.
type Notifier struct {
	targets     []*target
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
	retryCfg    retry.Config

	sub    *broadcast.Subscription
	cancel context.CancelFunc

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	wg          sync.WaitGroup

	delivered    atomic.Uint64
	suppressed   atomic.Uint64
	failed       atomic.Uint64
	lastActivity atomic.Value // time.Time

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Notifier)(nil)

// Metrics holds Prometheus metrics for webhook delivery.
type Metrics struct {
	deliveredTotal  *prometheus.CounterVec
	suppressedTotal *prometheus.CounterVec
	failedTotal     *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "webhook",
			Name:      "delivered_total",
			Help:      "Predictions delivered per target",
		}, []string{"target"}),
		suppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "webhook",
			Name:      "suppressed_total",
			Help:      "Predictions suppressed by target filters",
		}, []string{"target", "filter"}),
		failedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "webhook",
			Name:      "failed_total",
			Help:      "Deliveries that exhausted retries or were rejected",
		}, []string{"target"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.deliveredTotal,
		m.suppressedTotal,
		m.failedTotal,
	)
	return m
}

// New creates the notifier. At least one target and the broadcaster are
// required.
func New(deps Deps) (*Notifier, error) {
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster is required", errors.ErrMissingConfig)
	}
	if len(deps.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one webhook target is required", errors.ErrMissingConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "webhook")
	}

	retryCfg := deps.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	targets := make([]*target, len(deps.Targets))
	for i, cfg := range deps.Targets {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		targets[i] = &target{
			cfg:    cfg,
			client: &http.Client{Timeout: timeout},
		}
	}

	n := &Notifier{
		targets:     targets,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		retryCfg:    retryCfg,
		metrics:     newMetrics(deps.Metrics),
	}
	n.lastActivity.Store(time.Time{})
	return n, nil
}

// Initialize validates every target.
func (n *Notifier) Initialize() error {
	for i, t := range n.targets {
		parsed, err := url.Parse(t.cfg.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%w: webhook target %d has invalid url %q", errors.ErrInvalidConfig, i, t.cfg.URL)
		}
		if t.cfg.MinConfidence < 0 || t.cfg.MinConfidence > 1 {
			return fmt.Errorf("%w: webhook target %d min_confidence %v out of range",
				errors.ErrInvalidConfig, i, t.cfg.MinConfidence)
		}
	}
	return nil
}

// Start subscribes to the broadcaster and begins delivering.
func (n *Notifier) Start(_ context.Context) error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.sub = n.broadcaster.Subscribe()
	n.running = true
	n.startTime = time.Now()

	n.wg.Add(1)
	go n.consume(ctx)

	n.logger.Info("webhook notifier started", "targets", len(n.targets))
	return nil
}

// Stop unsubscribes and waits for in-flight deliveries within the timeout.
func (n *Notifier) Stop(timeout time.Duration) error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	sub := n.sub
	cancel := n.cancel
	n.mu.Unlock()

	sub.Close()
	cancel()

	waited := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("webhook deliveries did not finish within %v", timeout)
	}
}

// Meta returns component metadata.
func (n *Notifier) Meta() component.Metadata {
	return component.Metadata{
		Name:        "webhook",
		Type:        "output",
		Description: fmt.Sprintf("Webhook delivery to %d targets", len(n.targets)),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the consumer is running.
func (n *Notifier) Health() component.HealthStatus {
	n.mu.RLock()
	running := n.running
	startTime := n.startTime
	n.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(n.failed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns delivery flow metrics.
func (n *Notifier) DataFlow() component.FlowMetrics {
	n.mu.RLock()
	startTime := n.startTime
	n.mu.RUnlock()

	delivered := n.delivered.Load()
	failed := n.failed.Load()
	lastActivity, _ := n.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		perSecond = float64(delivered) / uptime
	}
	if total := delivered + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Stats returns always-on delivery counters.
func (n *Notifier) Stats() (delivered, suppressed, failed uint64) {
	return n.delivered.Load(), n.suppressed.Load(), n.failed.Load()
}

// consume drains the subscription until it closes.
func (n *Notifier) consume(ctx context.Context) {
	defer n.wg.Done()

	for pub := range n.sub.Results() {
		n.lastActivity.Store(time.Now())
		for _, t := range n.targets {
			n.deliver(ctx, t, pub)
		}
	}
}

// deliver applies the target's filters and posts the payload.
func (n *Notifier) deliver(ctx context.Context, t *target, pub broadcast.Published) {
	if pub.Result.Confidence < t.cfg.MinConfidence {
		n.suppress(t, "min_confidence")
		return
	}
	if t.cfg.OnChangeOnly {
		if t.hasLast && statesEqual(t.lastStates, pub.Result.States) {
			n.suppress(t, "unchanged")
			return
		}
		t.lastStates = pub.Result.States
		t.hasLast = true
	}

	payload := Payload{
		ID:         uuid.NewString(),
		Timestamp:  pub.ProducedAt.UnixMilli(),
		Seq:        pub.Seq,
		Readings:   pub.Input,
		Label:      pub.Result.Label,
		States:     pub.Result.States,
		Confidence: pub.Result.Confidence,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.fail(t, fmt.Errorf("marshal payload: %w", err))
		return
	}

	err = retry.Do(ctx, n.retryCfg, func() error {
		return n.post(ctx, t, body)
	})
	if err != nil {
		n.fail(t, err)
		return
	}

	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.deliveredTotal.WithLabelValues(t.cfg.URL).Inc()
	}
}

// post sends one attempt. Client errors from the receiver are marked
// non-retryable so a bad payload fails fast.
func (n *Notifier) post(ctx context.Context, t *target, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(fmt.Errorf("webhook rejected: %s", resp.Status))
	default:
		return fmt.Errorf("webhook failed: %s", resp.Status)
	}
}

func (n *Notifier) suppress(t *target, filter string) {
	n.suppressed.Add(1)
	if n.metrics != nil {
		n.metrics.suppressedTotal.WithLabelValues(t.cfg.URL, filter).Inc()
	}
}

func (n *Notifier) fail(t *target, err error) {
	n.failed.Add(1)
	if n.metrics != nil {
		n.metrics.failedTotal.WithLabelValues(t.cfg.URL).Inc()
	}
	n.logger.Warn("webhook delivery failed", "target", t.cfg.URL, "error", err)
}

func statesEqual(a, b device.StateSet) bool {
	if len(a) != len(b) {
		return false
	}
	for name, on := range a {
		if b[name] != on {
			return false
		}
	}
	return true
}
