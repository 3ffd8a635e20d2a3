// Package mqtt ingests meter samples from an MQTT broker.
//
// The Input subscribes to the configured topic, absorbs publish bursts in a
// drop-oldest intake buffer so the broker callback never blocks, and hands
// samples to a worker pool that runs the prediction pipeline: parse,
// validate against the feature contract, classify, and publish the result
// to the broadcaster. A malformed or invalid sample costs only itself.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/meter"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/pkg/buffer"
	"github.com/c360/gridsense/pkg/retry"
	"github.com/c360/gridsense/pkg/worker"
	"github.com/c360/gridsense/predict"
)

const defaultConnectTimeout = 10 * time.Second

// Deps holds the input's runtime dependencies.
type Deps struct {
	Config      config.MQTTConfig
	Pipeline    config.PipelineConfig
	Assembler   *predict.Assembler
	Broadcaster *broadcast.Broadcaster
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger

	// NewClient overrides the paho client factory, for tests.
	NewClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// Input is the MQTT ingest component.
type Input struct {
	cfg         config.MQTTConfig
	pipeline    config.PipelineConfig
	assembler   *predict.Assembler
	broadcaster *broadcast.Broadcaster
	registry    *metric.MetricsRegistry
	logger      *slog.Logger
	newClient   func(*pahomqtt.ClientOptions) pahomqtt.Client

	client pahomqtt.Client
	intake buffer.Buffer[[]byte]
	signal chan struct{}
	pool   *worker.Pool[[]byte]

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	wg          sync.WaitGroup

	// core records the shared platform message metrics alongside the
	// component's own counters.
	core *metric.Metrics

	received     atomic.Uint64
	predicted    atomic.Uint64
	rejected     atomic.Uint64
	dropped      atomic.Uint64
	bytesIn      atomic.Uint64
	lastActivity atomic.Value // time.Time

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Input)(nil)

// Metrics holds Prometheus metrics for MQTT ingest.
type Metrics struct {
	receivedTotal  prometheus.Counter
	predictedTotal prometheus.Counter
	rejectedTotal  *prometheus.CounterVec
	droppedTotal   prometheus.Counter
	connected      prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		receivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "mqtt",
			Name:      "samples_received_total",
			Help:      "Meter samples received from the broker",
		}),
		predictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "mqtt",
			Name:      "samples_predicted_total",
			Help:      "Samples that produced a published prediction",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "mqtt",
			Name:      "samples_rejected_total",
			Help:      "Samples rejected before publishing",
		}, []string{"reason"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "mqtt",
			Name:      "samples_dropped_total",
			Help:      "Samples dropped by the intake buffer under burst load",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsense",
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Whether the broker connection is up",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.receivedTotal,
		m.predictedTotal,
		m.rejectedTotal,
		m.droppedTotal,
		m.connected,
	)
	return m
}

// New creates the MQTT input. Assembler and broadcaster are required; the
// broker and topic are validated in Initialize.
func New(deps Deps) (*Input, error) {
	if deps.Assembler == nil {
		return nil, fmt.Errorf("%w: assembler is required", errors.ErrMissingConfig)
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster is required", errors.ErrMissingConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mqtt-input")
	}

	newClient := deps.NewClient
	if newClient == nil {
		newClient = pahomqtt.NewClient
	}

	cfg := deps.Config
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gridsense-" + uuid.NewString()[:8]
	}

	pipeline := deps.Pipeline
	if pipeline.Workers <= 0 {
		pipeline.Workers = 2
	}
	if pipeline.QueueSize <= 0 {
		pipeline.QueueSize = 128
	}
	if pipeline.BufferSize <= 0 {
		pipeline.BufferSize = 256
	}

	in := &Input{
		cfg:         cfg,
		pipeline:    pipeline,
		assembler:   deps.Assembler,
		broadcaster: deps.Broadcaster,
		registry:    deps.Metrics,
		logger:      logger,
		newClient:   newClient,
		signal:      make(chan struct{}, 1),
		metrics:     newMetrics(deps.Metrics),
	}
	if deps.Metrics != nil {
		in.core = deps.Metrics.CoreMetrics()
	}
	in.lastActivity.Store(time.Time{})
	return in, nil
}

// Initialize validates configuration and builds the intake buffer and the
// worker pool. No connection is made.
func (in *Input) Initialize() error {
	if in.cfg.Broker == "" {
		return fmt.Errorf("%w: mqtt broker is required", errors.ErrMissingConfig)
	}
	if in.cfg.Topic == "" {
		return fmt.Errorf("%w: mqtt topic is required", errors.ErrMissingConfig)
	}
	if in.cfg.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos %d out of range", errors.ErrInvalidConfig, in.cfg.QoS)
	}

	intake, err := buffer.NewCircularBuffer[[]byte](in.pipeline.BufferSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			in.dropped.Add(1)
			if in.metrics != nil {
				in.metrics.droppedTotal.Inc()
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("create intake buffer: %w", err)
	}
	in.intake = intake

	in.pool = worker.NewPool[[]byte](in.pipeline.Workers, in.pipeline.QueueSize, in.process,
		worker.WithMetricsRegistry[[]byte](in.registry, "mqtt_pipeline"))
	return nil
}

// Start connects to the broker with retry, subscribes, and starts the
// pipeline goroutines.
func (in *Input) Start(ctx context.Context) error {
	in.lifecycleMu.Lock()
	defer in.lifecycleMu.Unlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return nil
	}
	if in.intake == nil || in.pool == nil {
		return fmt.Errorf("%w: mqtt input not initialized", errors.ErrNotStarted)
	}

	opts := in.clientOptions()
	client := in.newClient(opts)

	err := retry.Do(ctx, retry.Quick(), func() error {
		token := client.Connect()
		if !token.WaitTimeout(in.cfg.ConnectTimeout) {
			return fmt.Errorf("connect to %s: timeout after %v", in.cfg.Broker, in.cfg.ConnectTimeout)
		}
		return token.Error()
	})
	if err != nil {
		return errors.WrapTransient(err, "mqtt-input", "Start", "connect to broker")
	}

	token := client.Subscribe(in.cfg.Topic, in.cfg.QoS, in.handleMessage)
	if !token.WaitTimeout(in.cfg.ConnectTimeout) || token.Error() != nil {
		client.Disconnect(0)
		return errors.WrapTransient(token.Error(), "mqtt-input", "Start",
			fmt.Sprintf("subscribe to %s", in.cfg.Topic))
	}

	if err := in.pool.Start(ctx); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("start worker pool: %w", err)
	}

	in.client = client
	in.running = true
	in.startTime = time.Now()
	in.shutdown = make(chan struct{})
	if in.metrics != nil {
		in.metrics.connected.Set(1)
	}

	in.wg.Add(1)
	go in.dispatch()

	in.logger.Info("MQTT ingest started",
		"broker", in.cfg.Broker,
		"topic", in.cfg.Topic,
		"workers", in.pipeline.Workers)
	return nil
}

// Stop unsubscribes, disconnects, and drains the pipeline within the
// timeout.
func (in *Input) Stop(timeout time.Duration) error {
	in.lifecycleMu.Lock()
	defer in.lifecycleMu.Unlock()

	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	client := in.client
	close(in.shutdown)
	in.mu.Unlock()

	if token := client.Unsubscribe(in.cfg.Topic); token != nil {
		token.WaitTimeout(timeout)
	}
	client.Disconnect(uint(timeout.Milliseconds()))
	if in.metrics != nil {
		in.metrics.connected.Set(0)
	}

	in.intake.Close()

	waited := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		return fmt.Errorf("mqtt dispatcher did not exit within %v", timeout)
	}

	return in.pool.Stop(timeout)
}

// Meta returns component metadata.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "mqtt-input",
		Type:        "input",
		Description: fmt.Sprintf("MQTT meter-sample ingest from %s on topic %s", in.cfg.Broker, in.cfg.Topic),
		Version:     "1.0.0",
	}
}

// Health reports healthy while running with a live broker connection.
func (in *Input) Health() component.HealthStatus {
	in.mu.RLock()
	running := in.running
	startTime := in.startTime
	client := in.client
	in.mu.RUnlock()

	healthy := running && client != nil && client.IsConnectionOpen()

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(in.rejected.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns ingest flow metrics.
func (in *Input) DataFlow() component.FlowMetrics {
	in.mu.RLock()
	startTime := in.startTime
	in.mu.RUnlock()

	received := in.received.Load()
	rejected := in.rejected.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
		bytesPerSecond = float64(in.bytesIn.Load()) / uptime
	}
	if received > 0 {
		errorRate = float64(rejected) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Stats returns always-on ingest counters.
func (in *Input) Stats() (received, predicted, rejected, dropped uint64) {
	return in.received.Load(), in.predicted.Load(), in.rejected.Load(), in.dropped.Load()
}

// handleMessage runs on paho's router goroutine, so it only copies the
// payload into the intake buffer and returns.
func (in *Input) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	in.received.Add(1)
	in.bytesIn.Add(uint64(len(payload)))
	in.lastActivity.Store(time.Now())
	if in.metrics != nil {
		in.metrics.receivedTotal.Inc()
	}
	if in.core != nil {
		in.core.RecordMessageReceived("mqtt-input", "sample")
	}

	if err := in.intake.Write(payload); err != nil {
		// Buffer closed during shutdown.
		return
	}
	select {
	case in.signal <- struct{}{}:
	default:
	}
}

// dispatch drains the intake buffer into the worker pool.
func (in *Input) dispatch() {
	defer in.wg.Done()

	for {
		select {
		case <-in.shutdown:
			return
		case <-in.signal:
		}
		for {
			payload, ok := in.intake.Read()
			if !ok {
				break
			}
			if err := in.pool.Submit(payload); err != nil {
				// Pool queue full or stopping; the sample is lost, counted
				// as a drop.
				in.dropped.Add(1)
				if in.metrics != nil {
					in.metrics.droppedTotal.Inc()
				}
			}
		}
	}
}

// process runs one sample through the prediction pipeline.
func (in *Input) process(ctx context.Context, payload []byte) error {
	start := time.Now()
	sample, err := meter.Parse(payload)
	if err != nil {
		in.reject("malformed", err)
		return err
	}

	vec, err := in.assembler.Contract.Validate(sample.Record())
	if err != nil {
		in.reject("invalid", err)
		return err
	}

	result, err := in.assembler.Predict(ctx, vec)
	if err != nil {
		in.reject("prediction_failed", err)
		return err
	}

	pub := in.broadcaster.Publish(vec, result)
	in.predicted.Add(1)
	if in.metrics != nil {
		in.metrics.predictedTotal.Inc()
	}
	if in.core != nil {
		in.core.RecordMessageProcessed("mqtt-input", "sample", "ok")
		in.core.RecordProcessingDuration("mqtt-input", "predict", time.Since(start))
	}
	in.logger.Debug("sample predicted",
		"device_id", sample.DeviceID,
		"seq", pub.Seq,
		"label", result.Label,
		"confidence", result.Confidence)
	return nil
}

func (in *Input) reject(reason string, err error) {
	in.rejected.Add(1)
	if in.metrics != nil {
		in.metrics.rejectedTotal.WithLabelValues(reason).Inc()
	}
	if in.core != nil {
		in.core.RecordMessageProcessed("mqtt-input", "sample", reason)
		in.core.RecordError("mqtt-input", reason)
	}
	in.logger.Debug("sample rejected", "reason", reason, "error", err)
}

// clientOptions builds paho options from configuration.
func (in *Input) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(in.cfg.Broker).
		SetClientID(in.cfg.ClientID).
		SetConnectTimeout(in.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			if in.metrics != nil {
				in.metrics.connected.Set(0)
			}
			in.logger.Warn("MQTT connection lost", "error", err)
		}).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			if in.metrics != nil {
				in.metrics.connected.Set(1)
			}
			in.logger.Info("MQTT connected", "broker", in.cfg.Broker)
		})
	if in.cfg.Username != "" {
		opts.SetUsername(in.cfg.Username)
		opts.SetPassword(in.cfg.Password)
	}
	return opts
}
