// Package natspub republishes predictions onto a NATS subject.
//
// The Publisher bridges the in-process broadcaster to external consumers
// that speak NATS: each published envelope is serialized once and sent to
// the configured subject. Connection resilience is delegated to the NATS
// client's own reconnect machinery; publishes during an outage fail fast
// and are counted, not queued, since the latest-slot semantics make stale
// predictions worthless by the time the connection returns.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/metric"
)

// Deps holds the publisher's runtime dependencies.
type Deps struct {
	Config      config.NATSConfig
	Broadcaster *broadcast.Broadcaster
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger

	// Conn overrides the dialed connection, for tests that bring their own
	// server.
	Conn *nats.Conn
}

// Publisher is the NATS republish component.
type Publisher struct {
	cfg         config.NATSConfig
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger

	conn     *nats.Conn
	ownsConn bool
	sub      *broadcast.Subscription

	// core records the shared NATS connectivity gauges alongside the
	// component's own counters.
	core *metric.Metrics

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	wg          sync.WaitGroup

	published    atomic.Uint64
	failed       atomic.Uint64
	bytesSent    atomic.Uint64
	lastActivity atomic.Value // time.Time

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Publisher)(nil)

// Metrics holds Prometheus metrics for NATS publishing.
type Metrics struct {
	publishedTotal  prometheus.Counter
	failedTotal     prometheus.Counter
	bytesTotal      prometheus.Counter
	reconnectsTotal prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "natspub",
			Name:      "published_total",
			Help:      "Predictions republished to NATS",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "natspub",
			Name:      "failed_total",
			Help:      "Publishes that failed",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "natspub",
			Name:      "bytes_total",
			Help:      "Bytes published to NATS",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "natspub",
			Name:      "reconnects_total",
			Help:      "NATS reconnections observed",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.publishedTotal,
		m.failedTotal,
		m.bytesTotal,
		m.reconnectsTotal,
	)
	return m
}

// New creates the publisher. The broadcaster and a subject are required;
// URLs may be empty only when a pre-built connection is supplied.
func New(deps Deps) (*Publisher, error) {
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster is required", errors.ErrMissingConfig)
	}
	if deps.Config.Subject == "" {
		return nil, fmt.Errorf("%w: nats subject is required", errors.ErrMissingConfig)
	}
	if len(deps.Config.URLs) == 0 && deps.Conn == nil {
		return nil, fmt.Errorf("%w: nats urls are required", errors.ErrMissingConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "natspub")
	}

	p := &Publisher{
		cfg:         deps.Config,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		conn:        deps.Conn,
		metrics:     newMetrics(deps.Metrics),
	}
	if deps.Metrics != nil {
		p.core = deps.Metrics.CoreMetrics()
	}
	p.lastActivity.Store(time.Time{})
	return p, nil
}

// Initialize is a no-op; the connection is dialed on Start so a missing
// broker delays startup instead of construction.
func (p *Publisher) Initialize() error {
	return nil
}

// Start dials NATS (unless a connection was injected), subscribes to the
// broadcaster, and begins republishing.
func (p *Publisher) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if p.conn == nil {
		conn, err := nats.Connect(joinURLs(p.cfg.URLs), p.connectionOptions()...)
		if err != nil {
			return errors.WrapTransient(err, "natspub", "Start", "connect to NATS")
		}
		p.conn = conn
		p.ownsConn = true
		if p.core != nil {
			p.core.RecordNATSStatus(true)
			if rtt, err := conn.RTT(); err == nil {
				p.core.RecordNATSRTT(rtt)
			}
		}
	}

	p.sub = p.broadcaster.Subscribe()
	p.running = true
	p.startTime = time.Now()

	p.wg.Add(1)
	go p.consume(ctx)

	p.logger.Info("NATS republish started", "subject", p.cfg.Subject)
	return nil
}

// Stop unsubscribes, drains the connection it owns, and waits for the
// consumer goroutine.
func (p *Publisher) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	sub := p.sub
	p.mu.Unlock()

	sub.Close()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		return fmt.Errorf("natspub consumer did not exit within %v", timeout)
	}

	if p.ownsConn && p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
	return nil
}

// Meta returns component metadata.
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "natspub",
		Type:        "output",
		Description: fmt.Sprintf("NATS prediction republish on subject %s", p.cfg.Subject),
		Version:     "1.0.0",
	}
}

// Health reports healthy while running with a live connection.
func (p *Publisher) Health() component.HealthStatus {
	p.mu.RLock()
	running := p.running
	startTime := p.startTime
	conn := p.conn
	p.mu.RUnlock()

	healthy := running && conn != nil && conn.IsConnected()

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(p.failed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns publish flow metrics.
func (p *Publisher) DataFlow() component.FlowMetrics {
	p.mu.RLock()
	startTime := p.startTime
	p.mu.RUnlock()

	published := p.published.Load()
	failed := p.failed.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		perSecond = float64(published) / uptime
		bytesPerSecond = float64(p.bytesSent.Load()) / uptime
	}
	if total := published + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Stats returns always-on publish counters.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// consume drains the subscription until it closes.
func (p *Publisher) consume(ctx context.Context) {
	defer p.wg.Done()

	for pub := range p.sub.Results() {
		if ctx.Err() != nil {
			return
		}
		p.publish(pub)
	}
}

// publish serializes one envelope and sends it. Failures are counted and
// logged; the envelope is not requeued.
func (p *Publisher) publish(pub broadcast.Published) {
	data, err := json.Marshal(pub)
	if err != nil {
		p.recordFailure(fmt.Errorf("marshal envelope: %w", err))
		return
	}

	if err := p.conn.Publish(p.cfg.Subject, data); err != nil {
		p.recordFailure(err)
		return
	}

	p.published.Add(1)
	p.bytesSent.Add(uint64(len(data)))
	p.lastActivity.Store(time.Now())
	if p.metrics != nil {
		p.metrics.publishedTotal.Inc()
		p.metrics.bytesTotal.Add(float64(len(data)))
	}
	if p.core != nil {
		p.core.RecordMessagePublished("natspub", p.cfg.Subject)
	}
}

func (p *Publisher) recordFailure(err error) {
	p.failed.Add(1)
	if p.metrics != nil {
		p.metrics.failedTotal.Inc()
	}
	p.logger.Warn("NATS publish failed", "subject", p.cfg.Subject, "error", err)
}

// connectionOptions builds the NATS options from configuration.
func (p *Publisher) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name("gridsense-natspub"),
		nats.MaxReconnects(p.cfg.MaxReconnects),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if p.core != nil {
				p.core.RecordNATSStatus(false)
			}
			p.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			if p.metrics != nil {
				p.metrics.reconnectsTotal.Inc()
			}
			if p.core != nil {
				p.core.RecordNATSStatus(true)
				p.core.RecordNATSReconnect()
				if rtt, err := conn.RTT(); err == nil {
					p.core.RecordNATSRTT(rtt)
				}
			}
			p.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if p.core != nil {
				p.core.RecordNATSStatus(false)
			}
			p.logger.Info("NATS connection closed")
		}),
	}
	if p.cfg.Username != "" && p.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(p.cfg.Username, p.cfg.Password))
	}
	if p.cfg.Token != "" {
		opts = append(opts, nats.Token(p.cfg.Token))
	}
	return opts
}

func joinURLs(urls []string) string {
	joined := urls[0]
	for _, u := range urls[1:] {
		joined += "," + u
	}
	return joined
}
