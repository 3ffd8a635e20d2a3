// Package websocket streams live predictions to WebSocket clients.
//
// The Server subscribes each connected client to the broadcaster and pumps
// that client's queue to its socket. Backpressure is handled upstream: a
// slow client loses its own oldest envelopes inside the broadcaster queue
// and never stalls the publisher or other clients. The stream runs on its
// own port, separate from the REST gateway, so gateway middleware never
// touches long-lived connections.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second

	// readLimit bounds inbound frames. Clients only send control traffic,
	// so anything large is a misbehaving peer.
	readLimit = 4 << 10
)

// Envelope is one prediction frame on the wire. Seq carries the broadcast
// ordering so clients can detect their own gaps after queue overflow.
type Envelope struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"` // unix milliseconds
	Seq        uint64          `json:"seq"`
	Readings   feature.Vector  `json:"readings"`
	Label      int             `json:"label"`
	States     device.StateSet `json:"device_states"`
	Confidence float64         `json:"confidence"`
}

// Deps holds the stream server's runtime dependencies.
type Deps struct {
	Config      config.StreamConfig
	Broadcaster *broadcast.Broadcaster
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger
}

// Server is the WebSocket stream component.
type Server struct {
	cfg         config.StreamConfig
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger

	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[uuid.UUID]*client
	clientsMu sync.Mutex

	// Lifecycle management
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup

	messagesSent atomic.Uint64
	bytesSent    atomic.Uint64
	sendErrors   atomic.Uint64
	lastActivity atomic.Value // time.Time

	metrics *Metrics
}

// client is one connected WebSocket peer.
type client struct {
	conn        *websocket.Conn
	sub         *broadcast.Subscription
	connectedAt time.Time
	writeMu     sync.Mutex // serializes frames and pings on the same conn
	closeOnce   sync.Once
}

var _ component.LifecycleComponent = (*Server)(nil)

// Metrics holds Prometheus metrics for the stream server.
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionsTotal   prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "clients_connected",
			Help:      "Number of currently connected stream clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total prediction frames sent to clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to stream clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridsense",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Stream server errors",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.connectionsTotal,
		m.disconnectionTotal,
		m.messagesSent,
		m.bytesSent,
		m.errorsTotal,
	)
	return m
}

// New creates the stream server. The broadcaster is required; metrics and
// logger are optional.
func New(deps Deps) (*Server, error) {
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster is required", errors.ErrMissingConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "stream")
	}

	cfg := deps.Config
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	s := &Server{
		cfg:         cfg,
		broadcaster: deps.Broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*client),
		metrics: newMetrics(deps.Metrics),
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Initialize validates configuration and builds the HTTP server.
func (s *Server) Initialize() error {
	if s.cfg.Port < 1 || s.cfg.Port > 65535 {
		return fmt.Errorf("%w: stream port %d out of range", errors.ErrInvalidConfig, s.cfg.Port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler: mux,
	}
	return nil
}

// Start opens the listener and begins accepting stream clients.
func (s *Server) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.server == nil {
		return fmt.Errorf("%w: stream server not initialized", errors.ErrNotStarted)
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.running = true
	s.startTime = time.Now()
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("stream server failed", "error", err)
		}
	}()

	s.logger.Info("stream server listening", "addr", s.server.Addr, "path", "/ws")
	return nil
}

// Stop closes the listener, disconnects all clients, and waits for their
// pump goroutines within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("stream server shutdown", "error", err)
	}

	s.closeAllClients()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.logger.Warn("stream client goroutines did not exit within timeout")
	}

	<-s.done
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Meta returns component metadata.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "stream",
		Type:        "output",
		Description: fmt.Sprintf("WebSocket prediction stream on port %d at /ws", s.cfg.Port),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the server is accepting connections.
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	running := s.running
	startTime := s.startTime
	s.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(s.sendErrors.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns current stream flow metrics.
func (s *Server) DataFlow() component.FlowMetrics {
	s.mu.RLock()
	startTime := s.startTime
	s.mu.RUnlock()

	sent := s.messagesSent.Load()
	failed := s.sendErrors.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		perSecond = float64(sent) / uptime
		bytesPerSecond = float64(s.bytesSent.Load()) / uptime
	}
	if sent > 0 {
		errorRate = float64(failed) / float64(sent)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// handleWebSocket upgrades the connection and runs the client until it
// disconnects or the server stops. Each client gets its own broadcaster
// subscription, so it receives only predictions published after connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.recordError("upgrade")
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:        conn,
		sub:         s.broadcaster.Subscribe(),
		connectedAt: time.Now(),
	}

	s.clientsMu.Lock()
	s.clients[c.sub.ID()] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Info("stream client connected",
		"remote", r.RemoteAddr,
		"subscription_id", c.sub.ID().String(),
		"clients", count)

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// writePump forwards the client's subscription queue to its socket and
// keeps the connection alive with pings. A write failure ends the client.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c, "write_failed")

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	s.mu.RLock()
	shutdown := s.shutdown
	s.mu.RUnlock()

	for {
		select {
		case pub, ok := <-c.sub.Results():
			if !ok {
				return
			}
			if err := s.sendEnvelope(c, pub); err != nil {
				s.recordError("send")
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.recordError("ping")
				return
			}

		case <-shutdown:
			return
		}
	}
}

// readPump consumes inbound frames so control messages are processed and a
// closed peer is noticed promptly. Client payloads are discarded.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c, "client_closed")

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// sendEnvelope writes one prediction frame under the client's write mutex.
func (s *Server) sendEnvelope(c *client, pub broadcast.Published) error {
	env := Envelope{
		Type:       "prediction",
		ID:         uuid.NewString(),
		Timestamp:  pub.ProducedAt.UnixMilli(),
		Seq:        pub.Seq,
		Readings:   pub.Input,
		Label:      pub.Result.Label,
		States:     pub.Result.States,
		Confidence: pub.Result.Confidence,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.messagesSent.Add(1)
	s.bytesSent.Add(uint64(len(data)))
	s.lastActivity.Store(time.Now())
	if s.metrics != nil {
		s.metrics.messagesSent.Inc()
		s.metrics.bytesSent.Add(float64(len(data)))
	}
	return nil
}

// removeClient tears down one client exactly once: unsubscribe, close the
// socket, unregister.
func (s *Server) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.sub.Close()
		_ = c.conn.Close()

		s.clientsMu.Lock()
		delete(s.clients, c.sub.ID())
		count := len(s.clients)
		s.clientsMu.Unlock()

		if s.metrics != nil {
			s.metrics.clientsConnected.Set(float64(count))
			s.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
		}
		s.logger.Info("stream client disconnected",
			"subscription_id", c.sub.ID().String(),
			"reason", reason,
			"connected_for", time.Since(c.connectedAt).String(),
			"clients", count)
	})
}

// closeAllClients disconnects every client during shutdown.
func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.removeClient(c, "server_shutdown")
	}
}

func (s *Server) recordError(errorType string) {
	s.sendErrors.Add(1)
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(errorType).Inc()
	}
}
