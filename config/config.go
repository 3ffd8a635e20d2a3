package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the complete gridsense configuration: service identity,
// the two HTTP surfaces (REST gateway and websocket stream), the meter
// ingest source, the prediction outputs, and the model artifact.
type Config struct {
	Service  ServiceConfig   `json:"service"`
	Server   ServerConfig    `json:"server"`
	Stream   StreamConfig    `json:"stream"`
	MQTT     MQTTConfig      `json:"mqtt"`
	NATS     NATSConfig      `json:"nats"`
	Model    ModelConfig     `json:"model"`
	Pipeline PipelineConfig  `json:"pipeline"`
	Webhooks []WebhookConfig `json:"webhooks,omitempty"`
	Log      LogConfig       `json:"log"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name        string `json:"name"`                  // e.g. "gridsense"
	InstanceID  string `json:"instance_id,omitempty"` // e.g. "home-lab-1"
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// ServerConfig defines the REST gateway settings.
type ServerConfig struct {
	Host            string        `json:"host,omitempty"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `json:"write_timeout,omitempty"`
	MaxBodyBytes    int64         `json:"max_body_bytes,omitempty"`
	PredictRate     float64       `json:"predict_rate,omitempty"`  // requests/sec, 0 = unlimited
	PredictBurst    int           `json:"predict_burst,omitempty"` // burst on top of PredictRate
	AllowedOrigins  []string      `json:"allowed_origins,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// StreamConfig defines the websocket stream server settings. The stream
// runs on its own port so gateway middleware (rate limits, body limits)
// never applies to long-lived connections.
type StreamConfig struct {
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port"`
	PingInterval time.Duration `json:"ping_interval,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
	QueueSize    int           `json:"queue_size,omitempty"` // per-client pending messages
}

// MQTTConfig defines the meter-sample ingest source. Disabled when Broker
// is empty: the service then serves request/response predictions only.
type MQTTConfig struct {
	Broker         string        `json:"broker,omitempty"` // e.g. "tcp://meter-gw:1883"
	Topic          string        `json:"topic,omitempty"`  // e.g. "meters/+/sample"
	ClientID       string        `json:"client_id,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	QoS            byte          `json:"qos,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
}

// NATSConfig defines the prediction republish target. Disabled when URLs
// is empty.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Subject       string        `json:"subject,omitempty"` // e.g. "gridsense.predictions"
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// ModelConfig points at the classifier artifact.
type ModelConfig struct {
	// ManifestPath is the artifact manifest (feature order, label table,
	// backend settings). Required.
	ManifestPath string `json:"manifest_path"`
	// SerializeClassifier forces serialized classifier calls for backends
	// that are not safe for concurrent use.
	SerializeClassifier bool `json:"serialize_classifier,omitempty"`
}

// PipelineConfig tunes the ingest pipeline between MQTT and the
// broadcaster.
type PipelineConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	BufferSize int `json:"buffer_size,omitempty"` // intake ring buffer
}

// WebhookConfig defines one prediction webhook target.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Timeout time.Duration     `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// MinConfidence suppresses posts for low-confidence predictions.
	MinConfidence float64 `json:"min_confidence,omitempty"`
	// OnChangeOnly suppresses posts whose device states match the
	// previously posted prediction.
	OnChangeOnly bool `json:"on_change_only,omitempty"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text, json
}

// Validate checks the config for internally consistent, runnable settings.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Stream.Port < 1 || c.Stream.Port > 65535 {
		return fmt.Errorf("stream.port %d out of range", c.Stream.Port)
	}
	if c.Server.Port == c.Stream.Port {
		return fmt.Errorf("server.port and stream.port must differ, both are %d", c.Server.Port)
	}
	if c.Model.ManifestPath == "" {
		return errors.New("model.manifest_path is required")
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic is required when mqtt.broker is set")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos %d out of range (0..2)", c.MQTT.QoS)
		}
	}
	if len(c.NATS.URLs) > 0 && c.NATS.Subject == "" {
		return errors.New("nats.subject is required when nats.urls is set")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.MinConfidence < 0 || hook.MinConfidence > 1 {
			return fmt.Errorf("webhooks[%d].min_confidence %g out of range [0,1]", i, hook.MinConfidence)
		}
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative, got %d", c.Pipeline.Workers)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q invalid (debug, info, warn, error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q invalid (text, json)", c.Log.Format)
	}
	return nil
}

// Instance returns the deployment identifier for logs and status output:
// the instance ID when set, the service name otherwise.
func (c *Config) Instance() string {
	if c.Service.InstanceID != "" {
		return c.Service.InstanceID
	}
	return c.Service.Name
}

// String returns an indented JSON representation with secrets redacted.
func (c *Config) String() string {
	redacted := *c
	if redacted.MQTT.Password != "" {
		redacted.MQTT.Password = "[redacted]"
	}
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[redacted]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[redacted]"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layered files and environment
// overrides. Later layers override earlier ones field by field; environment
// variables override everything.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a configuration loader with the GRIDSENSE env prefix.
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "GRIDSENSE",
	}
}

// AddLayer adds a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation on load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file, replacing any layers.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, all configuration layers, and environment
// overrides, then validates when enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// Defaults returns the configuration a bare `gridsense` invocation runs
// with: REST on 8080, stream on 8081, no MQTT/NATS/webhooks.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "gridsense",
			Environment: "dev",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxBodyBytes:    1 << 20,
			PredictRate:     50,
			PredictBurst:    100,
			ShutdownTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Port:         8081,
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
			QueueSize:    64,
		},
		MQTT: MQTTConfig{
			ClientID:       "gridsense",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			Subject:       "gridsense.predictions",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Model: ModelConfig{
			ManifestPath: "model/manifest.json",
		},
		Pipeline: PipelineConfig{
			Workers:    2,
			QueueSize:  128,
			BufferSize: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadRawJSON loads one configuration layer as a map, converting duration
// strings so the merged map unmarshals cleanly into Config.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	l.parseDurations(raw)
	return raw, nil
}

// durationFields names every duration-valued config key per section, so
// layer files can write "30s" instead of nanoseconds.
var durationFields = map[string][]string{
	"server":   {"read_timeout", "write_timeout", "shutdown_timeout"},
	"stream":   {"ping_interval", "write_timeout"},
	"mqtt":     {"connect_timeout"},
	"nats":     {"reconnect_wait"},
	"webhooks": {"timeout"},
}

// parseDurations rewrites duration strings to nanoseconds in place.
func (l *Loader) parseDurations(raw map[string]any) {
	for section, fields := range durationFields {
		if section == "webhooks" {
			hooks, ok := raw[section].([]any)
			if !ok {
				continue
			}
			for _, h := range hooks {
				if hook, ok := h.(map[string]any); ok {
					parseDurationFields(hook, fields)
				}
			}
			continue
		}
		if m, ok := raw[section].(map[string]any); ok {
			parseDurationFields(m, fields)
		}
	}
}

func parseDurationFields(m map[string]any, fields []string) {
	for _, field := range fields {
		if s, ok := m[field].(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				m[field] = d.Nanoseconds()
			}
		}
	}
}

// mergeFromMap merges one raw layer over the base config, overriding only
// the fields present in the layer.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMergeMaps recursively merges two maps, override taking precedence.
// Nil override values are skipped so a layer cannot accidentally erase a
// default with JSON null.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies GRIDSENSE_* environment variables on top of
// the merged configuration. Only deployment-varying settings are
// overridable this way; structural settings live in the config file.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"INSTANCE_ID", func(v string) error { cfg.Service.InstanceID = v; return nil }},
		{"ENVIRONMENT", func(v string) error { cfg.Service.Environment = v; return nil }},
		{"SERVER_PORT", func(v string) error { return setInt(&cfg.Server.Port, v) }},
		{"STREAM_PORT", func(v string) error { return setInt(&cfg.Stream.Port, v) }},
		{"MQTT_BROKER", func(v string) error { cfg.MQTT.Broker = v; return nil }},
		{"MQTT_TOPIC", func(v string) error { cfg.MQTT.Topic = v; return nil }},
		{"MQTT_USERNAME", func(v string) error { cfg.MQTT.Username = v; return nil }},
		{"MQTT_PASSWORD", func(v string) error { cfg.MQTT.Password = v; return nil }},
		{"NATS_URLS", func(v string) error { cfg.NATS.URLs = strings.Split(v, ","); return nil }},
		{"NATS_SUBJECT", func(v string) error { cfg.NATS.Subject = v; return nil }},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"MODEL_MANIFEST", func(v string) error { cfg.Model.ManifestPath = v; return nil }},
		{"LOG_LEVEL", func(v string) error { cfg.Log.Level = v; return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Log.Format = v; return nil }},
	}

	for _, o := range overrides {
		key := l.envPrefix + "_" + o.key
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if err := o.apply(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("not an integer: %q", val)
	}
	*dst = n
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
