// Package http serves the gridsense REST API.
//
// The gateway exposes the request/response half of the prediction service:
// single, batch, and table predictions, the latest-prediction slot, service
// status, liveness, and Prometheus metrics. The streaming half lives in
// output/websocket on its own port, so none of the middleware here (body
// limits, rate limits) ever applies to long-lived connections.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/c360/gridsense/artifact"
	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/component"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/predict"
)

// Deps holds the gateway's runtime dependencies.
type Deps struct {
	Config      config.ServerConfig
	Service     config.ServiceConfig
	Assembler   *predict.Assembler
	Broadcaster *broadcast.Broadcaster
	Manifest    *artifact.Manifest
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger
}

// Gateway is the REST API server component.
type Gateway struct {
	cfg         config.ServerConfig
	service     config.ServiceConfig
	assembler   *predict.Assembler
	broadcaster *broadcast.Broadcaster
	manifest    *artifact.Manifest
	metrics     *metric.MetricsRegistry
	logger      *slog.Logger

	server  *http.Server
	limiter *rate.Limiter // nil when rate limiting is disabled

	// Lifecycle management
	running   atomic.Bool
	mu        sync.RWMutex
	startTime time.Time
	done      chan struct{}

	// Flow metrics (atomic for concurrent handlers)
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	bytesReceived  atomic.Uint64
	bytesSent      atomic.Uint64
	lastActivity   atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Gateway)(nil)

// New creates the REST gateway. Assembler, broadcaster, and manifest are
// required; metrics and logger are optional.
func New(deps Deps) (*Gateway, error) {
	if deps.Assembler == nil {
		return nil, fmt.Errorf("%w: assembler is required", errors.ErrMissingConfig)
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster is required", errors.ErrMissingConfig)
	}
	if deps.Manifest == nil {
		return nil, fmt.Errorf("%w: manifest is required", errors.ErrMissingConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "http-gateway")
	}

	if deps.Config.MaxBodyBytes <= 0 {
		deps.Config.MaxBodyBytes = 1 << 20
	}

	g := &Gateway{
		cfg:         deps.Config,
		service:     deps.Service,
		assembler:   deps.Assembler,
		broadcaster: deps.Broadcaster,
		manifest:    deps.Manifest,
		metrics:     deps.Metrics,
		logger:      logger,
	}
	if deps.Config.PredictRate > 0 {
		burst := deps.Config.PredictBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(deps.Config.PredictRate), burst)
	}
	g.lastActivity.Store(time.Time{})
	return g, nil
}

// Initialize builds the mux and the HTTP server. No sockets are opened.
func (g *Gateway) Initialize() error {
	if g.cfg.Port < 1 || g.cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, g.cfg.Port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/predict", g.instrument(g.rateLimited(g.handlePredict)))
	mux.HandleFunc("/api/predict/table", g.instrument(g.rateLimited(g.handlePredictTable)))
	mux.HandleFunc("/api/latest", g.instrument(g.handleLatest))
	mux.HandleFunc("/api/status", g.instrument(g.handleStatus))
	mux.HandleFunc("/healthz", g.handleHealthz)
	if g.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			g.metrics.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	g.server = &http.Server{
		Addr:         net.JoinHostPort(g.cfg.Host, fmt.Sprintf("%d", g.cfg.Port)),
		Handler:      mux,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}
	return nil
}

// Start begins serving. Idempotent; the listener error (other than a clean
// close) is logged, not returned, since it happens after Start returns.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil
	}
	if g.server == nil {
		return fmt.Errorf("%w: gateway not initialized", errors.ErrNotStarted)
	}

	listener, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.server.Addr, err)
	}

	g.running.Store(true)
	g.startTime = time.Now()
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server failed", "error", err)
		}
	}()

	g.logger.Info("REST gateway listening", "addr", g.server.Addr)
	return nil
}

// Stop drains in-flight requests within the timeout, then closes.
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := g.server.Shutdown(ctx)
	select {
	case <-g.done:
	case <-ctx.Done():
	}
	if err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

// Addr returns the configured listen address.
func (g *Gateway) Addr() string {
	return net.JoinHostPort(g.cfg.Host, fmt.Sprintf("%d", g.cfg.Port))
}

// Meta returns component metadata.
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        "http-gateway",
		Type:        "gateway",
		Description: fmt.Sprintf("REST prediction API on port %d", g.cfg.Port),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    g.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns current request flow metrics.
func (g *Gateway) DataFlow() component.FlowMetrics {
	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()
	lastActivity, _ := g.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(startTime).Seconds(); uptime > 0 {
		perSecond = float64(total) / uptime
		bytesPerSecond = float64(g.bytesReceived.Load()+g.bytesSent.Load()) / uptime
	}
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// instrument wraps a handler with request ID, CORS, and flow accounting.
func (g *Gateway) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", requestID(r))

		g.requestsTotal.Add(1)
		g.lastActivity.Store(time.Now())

		if len(g.cfg.AllowedOrigins) > 0 {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next(w, r)
	}
}

// rateLimited rejects requests beyond the configured predict rate.
func (g *Gateway) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.limiter != nil && !g.limiter.Allow() {
			g.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// requestID extracts the X-Request-ID header or generates a fresh 16-hex-char
// ID for tracing.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// applyCORS applies CORS headers for allowed origins.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed != "*" && allowed != origin {
			continue
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")
		return
	}
}

// writeJSON writes a JSON response and tracks bytes sent.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		g.requestsFailed.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		return
	}
	g.bytesSent.Add(uint64(len(data)))
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, status int, message string) {
	g.requestsFailed.Add(1)
	g.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// httpStatus maps a prediction error to the status code the client sees.
// Validation failures are the client's fault; label/contract mismatches
// mean the upstream model artifact is broken; everything transient is a 503.
func httpStatus(err error) int {
	switch classify(err) {
	case errKindValidation:
		return http.StatusBadRequest
	case errKindArtifact:
		return http.StatusBadGateway
	case errKindTimeout:
		return http.StatusGatewayTimeout
	case errKindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage returns the error text exposed to clients. Validation
// errors name the offending fields (client input, safe to echo); other
// kinds get a fixed message so internal details never leak.
func clientMessage(err error) string {
	switch classify(err) {
	case errKindValidation:
		return err.Error()
	case errKindArtifact:
		return "model artifact mismatch"
	case errKindTimeout:
		return "request timeout"
	case errKindTransient:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

type errKind int

const (
	errKindOther errKind = iota
	errKindValidation
	errKindArtifact
	errKindTimeout
	errKindTransient
)

func classify(err error) errKind {
	if err == nil {
		return errKindOther
	}
	var missingErr *feature.MissingError
	var typeErr *feature.TypeError
	if stderrors.As(err, &missingErr) || stderrors.As(err, &typeErr) {
		return errKindValidation
	}
	var unknownErr *device.UnknownLabelError
	var contractErr *classifier.ContractViolationError
	if stderrors.As(err, &unknownErr) || stderrors.As(err, &contractErr) {
		return errKindArtifact
	}
	if stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded") {
		return errKindTimeout
	}
	if errors.IsInvalid(err) {
		return errKindValidation
	}
	if errors.IsTransient(err) {
		return errKindTransient
	}
	return errKindOther
}
