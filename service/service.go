// Package service assembles the gridsense components into one runnable
// unit: it loads the model artifact, builds the prediction pipeline, and
// manages the lifecycle of every configured boundary component.
//
// Components start in dependency order (prediction consumers before the
// meter ingest, so the first streamed sample already has subscribers) and
// stop in reverse. The service owns a health monitor goroutine that logs
// transitions between healthy and unhealthy aggregate states.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/gridsense/artifact"
	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/classifier/httpapi"
	"github.com/c360/gridsense/classifier/onnx"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	gatewayhttp "github.com/c360/gridsense/gateway/http"
	"github.com/c360/gridsense/health"
	"github.com/c360/gridsense/input/mqtt"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/output/natspub"
	"github.com/c360/gridsense/output/webhook"
	"github.com/c360/gridsense/output/websocket"
	"github.com/c360/gridsense/pkg/retry"
	"github.com/c360/gridsense/predict"
)

// Status represents the current service lifecycle state.
type Status int

const (
	// StatusStopped indicates the service is not running
	StatusStopped Status = iota
	// StatusStarting indicates the service is in the process of starting
	StatusStarting
	// StatusRunning indicates the service is running normally
	StatusRunning
	// StatusStopping indicates the service is shutting down
	StatusStopping
)

// String returns a string representation of the service status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Info reports the service identity and runtime state for status output.
type Info struct {
	Name        string             `json:"name"`
	InstanceID  string             `json:"instance_id,omitempty"`
	Environment string             `json:"environment,omitempty"`
	Model       artifact.ModelInfo `json:"model"`
	Status      string             `json:"status"`
	Uptime      time.Duration      `json:"uptime,omitempty"`
	Components  []string           `json:"components"`
}

// Option configures optional service behavior.
type Option func(*Service)

// WithLogger sets the logger for the service and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry shared by all components.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Service) {
		s.metrics = registry
	}
}

// WithHealthInterval sets how often the health monitor samples component
// health. Zero disables the monitor.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.healthInterval = interval
	}
}

// WithMQTTClientFactory overrides the paho client factory passed to the
// MQTT ingest component, for tests that run without a broker.
func WithMQTTClientFactory(factory func(*pahomqtt.ClientOptions) pahomqtt.Client) Option {
	return func(s *Service) {
		s.newMQTTClient = factory
	}
}

// Service wires the prediction pipeline and its boundary components.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	manifest    *artifact.Manifest
	assembler   *predict.Assembler
	broadcaster *broadcast.Broadcaster
	backend     classifier.Classifier
	gateway     *gatewayhttp.Gateway
	stream      *websocket.Server

	// components holds every lifecycle component in start order.
	components []*component.ManagedComponent

	newMQTTClient  func(*pahomqtt.ClientOptions) pahomqtt.Client
	healthInterval time.Duration
	monitor        *health.Monitor

	mu        sync.RWMutex
	status    Status
	startedAt time.Time

	cancel   context.CancelFunc
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New loads the model artifact named by the configuration and builds the
// full component set. The returned service is constructed but not started.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Service{
		cfg:            cfg,
		logger:         slog.Default().With("component", "service"),
		healthInterval: 30 * time.Second,
		monitor:        health.NewMonitor(),
		status:         StatusStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metric.NewMetricsRegistry()
	}

	if err := s.buildPipeline(); err != nil {
		return nil, err
	}
	if err := s.buildComponents(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildPipeline loads the manifest and assembles contract, decoder,
// classifier backend, assembler, and broadcaster.
func (s *Service) buildPipeline() error {
	manifest, err := artifact.Load(s.cfg.Model.ManifestPath)
	if err != nil {
		return fmt.Errorf("load model manifest: %w", err)
	}
	s.manifest = manifest

	contract, err := manifest.Contract()
	if err != nil {
		return fmt.Errorf("build feature contract: %w", err)
	}
	decoder, err := manifest.Decoder()
	if err != nil {
		return fmt.Errorf("build label decoder: %w", err)
	}

	backend, err := buildBackend(manifest, filepath.Dir(s.cfg.Model.ManifestPath))
	if err != nil {
		return fmt.Errorf("build classifier backend: %w", err)
	}
	s.backend = backend

	assemblerOpts := []predict.Option{predict.WithLogger(s.logger)}
	if s.cfg.Model.SerializeClassifier {
		assemblerOpts = append(assemblerOpts, predict.WithSerializedClassifier())
	}
	assembler, err := predict.NewAssembler(contract, decoder, backend, assemblerOpts...)
	if err != nil {
		return fmt.Errorf("build assembler: %w", err)
	}
	s.assembler = assembler

	broadcaster, err := broadcast.New(
		broadcast.WithQueueSize(s.cfg.Stream.QueueSize),
		broadcast.WithMetrics(s.metrics, "broadcast"),
		broadcast.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("build broadcaster: %w", err)
	}
	s.broadcaster = broadcaster

	s.logger.Info("model artifact loaded",
		"model", manifest.Model.Name,
		"version", manifest.Model.Version,
		"backend", manifest.Backend.Type,
		"labels", manifest.NumLabels(),
		"devices", len(manifest.Devices))
	return nil
}

// buildBackend selects the classifier backend from the manifest. Relative
// ONNX model paths resolve against the manifest's directory so the
// artifact bundle stays relocatable.
func buildBackend(m *artifact.Manifest, baseDir string) (classifier.Classifier, error) {
	switch m.Backend.Type {
	case "onnx":
		path := m.Backend.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return onnx.New(onnx.Config{
			ModelPath: path,
			NumLabels: m.NumLabels(),
		})
	case "http":
		return httpapi.New(httpapi.Config{
			URL:     m.Backend.URL,
			Timeout: m.Backend.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown backend type %q", m.Backend.Type)
	}
}

// register appends a component in start order.
func (s *Service) register(c component.LifecycleComponent) {
	s.components = append(s.components, &component.ManagedComponent{
		Component:  c,
		State:      component.StateCreated,
		StartOrder: len(s.components),
	})
}

// buildComponents constructs every boundary component the configuration
// enables, in start order: prediction consumers first, the meter ingest
// last.
func (s *Service) buildComponents() error {
	gateway, err := gatewayhttp.New(gatewayhttp.Deps{
		Config:      s.cfg.Server,
		Service:     s.cfg.Service,
		Assembler:   s.assembler,
		Broadcaster: s.broadcaster,
		Manifest:    s.manifest,
		Metrics:     s.metrics,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("build http gateway: %w", err)
	}
	s.gateway = gateway
	s.register(gateway)

	stream, err := websocket.New(websocket.Deps{
		Config:      s.cfg.Stream,
		Broadcaster: s.broadcaster,
		Metrics:     s.metrics,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("build websocket stream: %w", err)
	}
	s.stream = stream
	s.register(stream)

	if len(s.cfg.Webhooks) > 0 {
		notifier, err := webhook.New(webhook.Deps{
			Targets:     s.cfg.Webhooks,
			Broadcaster: s.broadcaster,
			Metrics:     s.metrics,
			Logger:      s.logger,
			Retry:       retry.DefaultConfig(),
		})
		if err != nil {
			return fmt.Errorf("build webhook notifier: %w", err)
		}
		s.register(notifier)
	}

	if len(s.cfg.NATS.URLs) > 0 {
		publisher, err := natspub.New(natspub.Deps{
			Config:      s.cfg.NATS,
			Broadcaster: s.broadcaster,
			Metrics:     s.metrics,
			Logger:      s.logger,
		})
		if err != nil {
			return fmt.Errorf("build nats publisher: %w", err)
		}
		s.register(publisher)
	}

	if s.cfg.MQTT.Broker != "" {
		input, err := mqtt.New(mqtt.Deps{
			Config:      s.cfg.MQTT,
			Pipeline:    s.cfg.Pipeline,
			Assembler:   s.assembler,
			Broadcaster: s.broadcaster,
			Metrics:     s.metrics,
			Logger:      s.logger,
			NewClient:   s.newMQTTClient,
		})
		if err != nil {
			return fmt.Errorf("build mqtt input: %w", err)
		}
		s.register(input)
	}
	return nil
}

// Start initializes and starts every component in order, then launches
// the health monitor. Components already started are stopped when a later
// one fails, so a failed Start leaves nothing running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("cannot start service in state %s", status)
	}
	s.status = StatusStarting
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("starting service",
		"service", s.cfg.Service.Name,
		"instance", s.cfg.Instance(),
		"environment", s.cfg.Service.Environment,
		"components", len(s.components))

	for _, m := range s.components {
		name := m.Component.Meta().Name
		if err := m.Component.Initialize(); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			s.abortStart()
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		m.State = component.StateInitialized
		m.Context, m.Cancel = context.WithCancel(runCtx)
		if err := m.Component.Start(m.Context); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			s.abortStart()
			return fmt.Errorf("start %s: %w", name, err)
		}
		m.State = component.StateStarted
		s.logger.Info("component started", "name", name)
	}

	s.mu.Lock()
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.metrics.CoreMetrics().RecordServiceStatus(s.cfg.Service.Name, int(StatusRunning))

	if s.healthInterval > 0 {
		s.wg.Add(1)
		go s.monitorHealth()
	}

	s.logger.Info("service running",
		"rest_addr", s.gateway.Addr(),
		"stream_addr", s.stream.Addr())
	return nil
}

// abortStart rolls back a partial start: stops every started component
// in reverse order and returns the service to stopped.
func (s *Service) abortStart() {
	for i := len(s.components) - 1; i >= 0; i-- {
		m := s.components[i]
		if m.Cancel != nil {
			m.Cancel()
			m.Cancel = nil
		}
		if m.State != component.StateStarted {
			continue
		}
		if err := m.Component.Stop(5 * time.Second); err != nil {
			s.logger.Warn("rollback stop failed",
				"name", m.Component.Meta().Name, "error", err)
		}
		m.State = component.StateStopped
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	close(s.shutdown)
	s.status = StatusStopped
	s.mu.Unlock()
}

// Stop shuts the service down: components stop in reverse start order,
// the ingest side first so no new predictions enter the pipeline while
// the outputs drain. The timeout bounds the entire shutdown.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.status != StatusRunning {
		status := s.status
		s.mu.Unlock()
		if status == StatusStopped {
			return nil
		}
		return fmt.Errorf("cannot stop service in state %s", status)
	}
	s.status = StatusStopping
	shutdown := s.shutdown
	s.mu.Unlock()

	s.logger.Info("stopping service", "timeout", timeout)
	close(shutdown)

	deadline := time.Now().Add(timeout)
	var firstErr error
	for i := len(s.components) - 1; i >= 0; i-- {
		m := s.components[i]
		name := m.Component.Meta().Name
		remaining := time.Until(deadline)
		if remaining < time.Second {
			remaining = time.Second
		}
		if err := m.Component.Stop(remaining); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			if m.Cancel != nil {
				m.Cancel()
				m.Cancel = nil
			}
			s.logger.Error("component stop failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", name, err)
			}
			continue
		}
		m.State = component.StateStopped
		if m.Cancel != nil {
			m.Cancel()
			m.Cancel = nil
		}
		s.logger.Info("component stopped", "name", name)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()

	if closer, ok := s.backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("classifier close failed", "error", err)
		}
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
	s.metrics.CoreMetrics().RecordServiceStatus(s.cfg.Service.Name, int(StatusStopped))

	s.logger.Info("service stopped")
	return firstErr
}

// monitorHealth samples aggregate health on a fixed interval and logs
// transitions. The broadcaster sequence is included so stalls in the
// ingest path show up in the logs even while every component is healthy.
func (s *Service) monitorHealth() {
	defer s.wg.Done()

	s.mu.RLock()
	shutdown := s.shutdown
	s.mu.RUnlock()

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	wasHealthy := true
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			status := s.Health()
			core := s.metrics.CoreMetrics()
			core.RecordHealthStatus(s.cfg.Service.Name, status.IsHealthy())
			for _, sub := range status.SubStatuses {
				s.monitor.Update(sub.Component, sub)
				core.RecordHealthStatus(sub.Component, sub.IsHealthy())
			}
			if status.IsHealthy() != wasHealthy {
				if status.IsHealthy() {
					s.logger.Info("service health recovered")
				} else {
					s.logger.Warn("service health degraded", "message", status.Message)
				}
				wasHealthy = status.IsHealthy()
			}
			s.logger.Debug("health check",
				"healthy", status.IsHealthy(),
				"sequence", s.broadcaster.Sequence(),
				"subscribers", s.broadcaster.SubscriberCount())
		}
	}
}

// Health aggregates component health into one status tree.
func (s *Service) Health() health.Status {
	s.mu.RLock()
	status := s.status
	startedAt := s.startedAt
	s.mu.RUnlock()

	if status != StatusRunning {
		return health.NewUnhealthy(s.cfg.Service.Name, fmt.Sprintf("service is %s", status))
	}

	subs := make([]health.Status, 0, len(s.components))
	for _, m := range s.components {
		name := m.Component.Meta().Name
		if m.State != component.StateStarted {
			subs = append(subs, health.NewUnhealthy(name,
				fmt.Sprintf("component is %s", m.State)))
			continue
		}
		subs = append(subs, health.FromComponentHealth(name, m.Component.Health()))
	}
	aggregate := health.Aggregate(s.cfg.Service.Name, subs)
	return aggregate.WithMetrics(&health.Metrics{
		Uptime:            time.Since(startedAt),
		MessagesProcessed: int64(s.broadcaster.Sequence()),
	})
}

// ComponentHealth returns the per-component statuses as of the last
// health monitor sample.
func (s *Service) ComponentHealth() map[string]health.Status {
	return s.monitor.GetAll()
}

// Status returns the current lifecycle state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info returns the service identity and runtime state.
func (s *Service) Info() Info {
	s.mu.RLock()
	status := s.status
	startedAt := s.startedAt
	s.mu.RUnlock()

	names := make([]string, 0, len(s.components))
	for _, m := range s.components {
		names = append(names, m.Component.Meta().Name)
	}

	info := Info{
		Name:        s.cfg.Service.Name,
		InstanceID:  s.cfg.Service.InstanceID,
		Environment: s.cfg.Service.Environment,
		Model:       s.manifest.Model,
		Status:      status.String(),
		Components:  names,
	}
	if status == StatusRunning {
		info.Uptime = time.Since(startedAt)
	}
	return info
}

// Manifest returns the loaded model artifact manifest.
func (s *Service) Manifest() *artifact.Manifest {
	return s.manifest
}

// Broadcaster returns the prediction broadcaster, for tests and embedders
// that publish or observe predictions directly.
func (s *Service) Broadcaster() *broadcast.Broadcaster {
	return s.broadcaster
}

// GatewayAddr returns the REST gateway listen address, valid after Start.
func (s *Service) GatewayAddr() string {
	return s.gateway.Addr()
}

// StreamAddr returns the websocket stream listen address, valid after
// Start.
func (s *Service) StreamAddr() string {
	return s.stream.Addr()
}
