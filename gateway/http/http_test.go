package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gridsense/artifact"
	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/metric"
	"github.com/c360/gridsense/predict"
)

const testManifest = `{
	"schema_version": 1,
	"model": {"name": "appliance-classifier", "version": "1.3.0"},
	"features": ["voltage", "current", "active_power", "reactive_power", "apparent_power", "power_factor"],
	"devices": ["bulb", "fan", "iron"],
	"labels": {
		"0": [],
		"1": ["bulb"],
		"2": ["fan"],
		"3": ["bulb", "fan"],
		"4": ["iron"],
		"5": ["bulb", "iron"],
		"6": ["fan", "iron"],
		"7": ["bulb", "fan", "iron"]
	},
	"backend": {"type": "http", "url": "http://model:9000/predict"}
}`

// fixedClassifier always answers label 5 (bulb and iron on) with high
// confidence.
func fixedClassifier() classifier.Classifier {
	return classifier.Func(func(_ context.Context, _ feature.Vector) (classifier.Prediction, error) {
		probs := map[int]float64{5: 0.86}
		for _, l := range []int{0, 1, 2, 3, 4, 6, 7} {
			probs[l] = 0.02
		}
		return classifier.Prediction{Label: 5, Probabilities: probs}, nil
	})
}

func newBroadcaster(t *testing.T) *broadcast.Broadcaster {
	t.Helper()
	b, err := broadcast.New()
	require.NoError(t, err)
	return b
}

func newTestGateway(t *testing.T, cls classifier.Classifier) (*Gateway, *broadcast.Broadcaster) {
	t.Helper()

	manifest, err := artifact.Parse([]byte(testManifest))
	require.NoError(t, err)

	contract, err := manifest.Contract()
	require.NoError(t, err)
	decoder, err := manifest.Decoder()
	require.NoError(t, err)

	assembler, err := predict.NewAssembler(contract, decoder, cls)
	require.NoError(t, err)

	broadcaster := newBroadcaster(t)

	gw, err := New(Deps{
		Config: config.ServerConfig{
			Port:         8080,
			MaxBodyBytes: 1 << 20,
		},
		Service:     config.ServiceConfig{Name: "gridsense", InstanceID: "test-1"},
		Assembler:   assembler,
		Broadcaster: broadcaster,
		Manifest:    manifest,
		Metrics:     metric.NewMetricsRegistry(),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, gw.Initialize())
	return gw, broadcaster
}

func validBody() map[string]any {
	return map[string]any{
		"voltage":        231.5,
		"current":        4.8,
		"active_power":   1100.0,
		"reactive_power": 60.0,
		"apparent_power": 1104.0,
		"power_factor":   0.99,
	}
}

func doRequest(t *testing.T, gw *Gateway, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestPredictSingle(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result predict.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 5, result.Label)
	assert.InDelta(t, 0.86, result.Confidence, 1e-9)
	assert.True(t, result.States["bulb"])
	assert.False(t, result.States["fan"])
	assert.True(t, result.States["iron"])
	assert.Len(t, result.Probabilities, 8)
}

func TestPredictSingleWithAliases(t *testing.T) {
	aliasManifest := `{
		"schema_version": 1,
		"model": {"name": "appliance-classifier", "version": "1.3.0"},
		"features": ["voltage", "current", "active_power", "reactive_power", "apparent_power", "power_factor"],
		"aliases": {"power": "active_power", "pf": "power_factor"},
		"devices": ["bulb", "fan", "iron"],
		"labels": {
			"0": [], "1": ["bulb"], "2": ["fan"], "3": ["bulb", "fan"],
			"4": ["iron"], "5": ["bulb", "iron"], "6": ["fan", "iron"],
			"7": ["bulb", "fan", "iron"]
		},
		"backend": {"type": "http", "url": "http://model:9000/predict"}
	}`
	manifest, err := artifact.Parse([]byte(aliasManifest))
	require.NoError(t, err)
	contract, err := manifest.Contract()
	require.NoError(t, err)
	decoder, err := manifest.Decoder()
	require.NoError(t, err)
	assembler, err := predict.NewAssembler(contract, decoder, fixedClassifier())
	require.NoError(t, err)

	gw, err := New(Deps{
		Config:      config.ServerConfig{Port: 8080},
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	require.NoError(t, gw.Initialize())

	body := map[string]any{
		"voltage":        231.5,
		"current":        4.8,
		"power":          1100.0,
		"reactive_power": 60.0,
		"apparent_power": 1104.0,
		"pf":             0.99,
	}
	rec := doRequest(t, gw, http.MethodPost, "/api/predict", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictMissingFieldsIs400(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodPost, "/api/predict", map[string]any{
		"voltage": 231.5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Missing-field errors are client input problems and must name the
	// fields so callers can fix their payloads.
	assert.Contains(t, resp["error"], "active_power")
	assert.Contains(t, resp["error"], "power_factor")
}

func TestPredictBatchMirrorsShape(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	records := []map[string]any{
		validBody(),
		{"voltage": "not a number", "current": 4.8, "active_power": 1100.0,
			"reactive_power": 60.0, "apparent_power": 1104.0, "power_factor": 0.99},
		validBody(),
	}
	rec := doRequest(t, gw, http.MethodPost, "/api/predict", records)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 3)

	assert.NotContains(t, out[0], "error")
	assert.EqualValues(t, 5, out[0]["label"])
	assert.Contains(t, out[1], "error")
	assert.NotContains(t, out[2], "error")
}

func TestPredictBrokenDistributionIs502(t *testing.T) {
	broken := classifier.Func(func(_ context.Context, _ feature.Vector) (classifier.Prediction, error) {
		return classifier.Prediction{
			Label:         0,
			Probabilities: map[int]float64{0: 0.5, 1: 0.2},
		}, nil
	})
	gw, _ := newTestGateway(t, broken)

	rec := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPredictClassifierTimeoutIs504(t *testing.T) {
	slow := classifier.Func(func(ctx context.Context, _ feature.Vector) (classifier.Prediction, error) {
		return classifier.Prediction{}, fmt.Errorf("backend call: %w", context.DeadlineExceeded)
	})
	gw, _ := newTestGateway(t, slow)

	rec := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPredictRejectsNonObjectBody(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader([]byte(`"hello"`)))
	rec := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictRejectsOversizedBody(t *testing.T) {
	manifest, err := artifact.Parse([]byte(testManifest))
	require.NoError(t, err)
	contract, _ := manifest.Contract()
	decoder, _ := manifest.Decoder()
	assembler, err := predict.NewAssembler(contract, decoder, fixedClassifier())
	require.NoError(t, err)

	gw, err := New(Deps{
		Config:      config.ServerConfig{Port: 8080, MaxBodyBytes: 64},
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	require.NoError(t, gw.Initialize())

	rec := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictTable(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	tbl := predict.Table{
		Columns: feature.Names(),
		Rows: [][]any{
			{231.5, 4.8, 1100.0, 60.0, 1104.0, 0.99},
			{229.9, 0.1, 12.0, 2.0, 12.2, 0.97},
		},
	}
	rec := doRequest(t, gw, http.MethodPost, "/api/predict/table", tbl)
	require.Equal(t, http.StatusOK, rec.Code)

	var out predict.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Rows, 2)
	assert.Contains(t, out.Columns, predict.ColPredictedLabel)
	assert.Contains(t, out.Columns, "iron")
	assert.Contains(t, out.Columns, predict.ColPredictionError)
}

func TestPredictTableRaggedRowFails(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	tbl := predict.Table{
		Columns: feature.Names(),
		Rows:    [][]any{{231.5, 4.8}},
	}
	rec := doRequest(t, gw, http.MethodPost, "/api/predict/table", tbl)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLatestEmptyIs404(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodGet, "/api/latest", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_prediction", resp["status"])
}

func TestLatestServesBroadcastSlot(t *testing.T) {
	gw, broadcaster := newTestGateway(t, fixedClassifier())

	vec := feature.Vector{Voltage: 231.5, Current: 4.8, ActivePower: 1100}
	result, err := gw.assembler.Predict(context.Background(), vec)
	require.NoError(t, err)
	broadcaster.Publish(vec, result)

	rec := doRequest(t, gw, http.MethodGet, "/api/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var published broadcast.Published
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &published))
	assert.Equal(t, uint64(1), published.Seq)
	assert.Equal(t, 5, published.Result.Label)
	assert.InDelta(t, 231.5, published.Input.Voltage, 1e-9)
}

func TestStatus(t *testing.T) {
	gw, broadcaster := newTestGateway(t, fixedClassifier())
	broadcaster.Publish(feature.Vector{}, predict.Result{Label: 0})

	rec := doRequest(t, gw, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "gridsense", status["service"])
	assert.EqualValues(t, 8, status["labels"])
	assert.EqualValues(t, 1, status["sequence"])
	assert.Contains(t, status, "last_prediction")

	model, ok := status["model"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "appliance-classifier", model["name"])
	assert.Equal(t, "1.3.0", model["version"])

	devices, ok := status["devices"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"bulb", "fan", "iron"}, devices)
}

func TestHealthz(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodGet, "/healthz", nil)
	// Not started yet, so the probe reports stopped.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodGet, "/api/predict", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/latest", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	manifest, err := artifact.Parse([]byte(testManifest))
	require.NoError(t, err)
	contract, _ := manifest.Contract()
	decoder, _ := manifest.Decoder()
	assembler, err := predict.NewAssembler(contract, decoder, fixedClassifier())
	require.NoError(t, err)

	gw, err := New(Deps{
		Config: config.ServerConfig{
			Port:         8080,
			PredictRate:  1,
			PredictBurst: 1,
		},
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	require.NoError(t, gw.Initialize())

	first := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	assert.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, gw, http.MethodPost, "/api/predict", validBody())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRequestIDPassthrough(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	data, err := json.Marshal(validBody())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(data))
	req.Header.Set("X-Request-ID", "trace-42")
	rec := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDGenerated(t *testing.T) {
	gw, _ := newTestGateway(t, fixedClassifier())

	rec := doRequest(t, gw, http.MethodGet, "/api/status", nil)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 16)
}

func TestCORS(t *testing.T) {
	manifest, err := artifact.Parse([]byte(testManifest))
	require.NoError(t, err)
	contract, _ := manifest.Contract()
	decoder, _ := manifest.Decoder()
	assembler, err := predict.NewAssembler(contract, decoder, fixedClassifier())
	require.NoError(t, err)

	gw, err := New(Deps{
		Config: config.ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"https://dash.example.com"},
		},
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	require.NoError(t, gw.Initialize())

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	gw.server.Handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLifecycle(t *testing.T) {
	manifest, err := artifact.Parse([]byte(testManifest))
	require.NoError(t, err)
	contract, _ := manifest.Contract()
	decoder, _ := manifest.Decoder()
	assembler, err := predict.NewAssembler(contract, decoder, fixedClassifier())
	require.NoError(t, err)

	gw, err := New(Deps{
		Config:      config.ServerConfig{Port: 0}, // invalid, Initialize must refuse
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	assert.Error(t, gw.Initialize())

	gw2, err := New(Deps{
		Config:      config.ServerConfig{Host: "127.0.0.1", Port: freePort(t)},
		Assembler:   assembler,
		Broadcaster: newBroadcaster(t),
		Manifest:    manifest,
	})
	require.NoError(t, err)
	require.NoError(t, gw2.Initialize())
	require.NoError(t, gw2.Start(context.Background()))

	health := gw2.Health()
	assert.True(t, health.Healthy)

	meta := gw2.Meta()
	assert.Equal(t, "http-gateway", meta.Name)
	assert.Equal(t, "gateway", meta.Type)

	require.NoError(t, gw2.Stop(2*time.Second))
	assert.False(t, gw2.Health().Healthy)
	// Stop is idempotent.
	require.NoError(t, gw2.Stop(time.Second))
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
