package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/pkg/retry"
)

func testVector() feature.Vector {
	return feature.Vector{
		Voltage:       230.0,
		Current:       4.78,
		ActivePower:   1100.0,
		ReactivePower: 0.0,
		ApparentPower: 1100.0,
		PowerFactor:   1.0,
	}
}

// noRetry keeps failure tests fast and attempt counts exact.
func noRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestNew_ConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty URL", ""},
		{"unsupported scheme", "nats://inference:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{URL: tt.url})
			if !stderrors.Is(err, errors.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestBackend_Classify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Features []float64 `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Features) != 6 {
			t.Errorf("got %d features, want 6", len(req.Features))
		}
		if req.Features[0] != 230.0 {
			t.Errorf("features[0] = %v, want voltage first", req.Features[0])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"label": 4,
			"probabilities": map[string]float64{
				"0": 0.01, "1": 0.01, "2": 0.01, "3": 0.01,
				"4": 0.95, "5": 0.005, "6": 0.005, "7": 0.0,
			},
		})
	}))
	defer server.Close()

	backend, err := New(Config{URL: server.URL, Retry: noRetry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pred, err := backend.Classify(context.Background(), testVector())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if pred.Label != 4 {
		t.Errorf("Label = %d, want 4", pred.Label)
	}
	if pred.Probabilities[4] != 0.95 {
		t.Errorf("Probabilities[4] = %v, want 0.95", pred.Probabilities[4])
	}
	if len(pred.Probabilities) != 8 {
		t.Errorf("got %d probabilities, want 8", len(pred.Probabilities))
	}
}

func TestBackend_Classify_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	backend, err := New(Config{URL: server.URL, Retry: retry.Config{
		MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
	}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := backend.Classify(context.Background(), testVector()); err == nil {
		t.Fatal("expected error for HTTP 422")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("server saw %d attempts, want 1 (4xx must not retry)", got)
	}
}

func TestBackend_Classify_ServerErrorRetried(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"label":         1,
			"probabilities": map[string]float64{"0": 0.2, "1": 0.8},
		})
	}))
	defer server.Close()

	backend, err := New(Config{URL: server.URL, Retry: retry.Config{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pred, err := backend.Classify(context.Background(), testVector())
	if err != nil {
		t.Fatalf("Classify failed after retry: %v", err)
	}
	if pred.Label != 1 {
		t.Errorf("Label = %d, want 1", pred.Label)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("server saw %d attempts, want 2", got)
	}
}

func TestBackend_Classify_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	backend, err := New(Config{URL: server.URL, Retry: noRetry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := backend.Classify(context.Background(), testVector()); err == nil {
		t.Error("expected error for malformed response")
	}
}

func TestBackend_Classify_NonIntegerLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"label":         0,
			"probabilities": map[string]float64{"bulb": 1.0},
		})
	}))
	defer server.Close()

	backend, err := New(Config{URL: server.URL, Retry: noRetry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := backend.Classify(context.Background(), testVector()); err == nil {
		t.Error("expected error for non-integer probability label")
	}
}

func TestBackend_Classify_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"label":         0,
			"probabilities": map[string]float64{"0": 1.0},
		})
	}))
	defer server.Close()

	backend, err := New(Config{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token-1"},
		Retry:   noRetry(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := backend.Classify(context.Background(), testVector()); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
}
