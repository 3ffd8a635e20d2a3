package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gridsense/broadcast"
	"github.com/c360/gridsense/config"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/pkg/retry"
	"github.com/c360/gridsense/predict"
)

// receiver is a test webhook endpoint that records request bodies.
type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int // response codes to return, in order; empty = all 200
	calls    int
}

func (r *receiver) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.headers = append(r.headers, req.Header.Clone())
	status := http.StatusOK
	if r.calls < len(r.statuses) {
		status = r.statuses[r.calls]
	}
	r.calls++
	r.mu.Unlock()

	w.WriteHeader(status)
}

func (r *receiver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *receiver) body(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[i]
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func startNotifier(t *testing.T, targets []config.WebhookConfig) (*Notifier, *broadcast.Broadcaster) {
	t.Helper()

	broadcaster, err := broadcast.New()
	require.NoError(t, err)

	n, err := New(Deps{
		Targets:     targets,
		Broadcaster: broadcaster,
		Retry:       fastRetry(),
	})
	require.NoError(t, err)
	require.NoError(t, n.Initialize())
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Stop(2 * time.Second) })

	return n, broadcaster
}

func publishSample(b *broadcast.Broadcaster, confidence float64, states device.StateSet) {
	b.Publish(
		feature.Vector{Voltage: 231.5, Current: 4.8, ActivePower: 1100},
		predict.Result{Label: 5, States: states, Confidence: confidence},
	)
}

func TestNewRequiresTargetsAndBroadcaster(t *testing.T) {
	broadcaster, err := broadcast.New()
	require.NoError(t, err)

	_, err = New(Deps{Broadcaster: broadcaster})
	assert.Error(t, err)

	_, err = New(Deps{Targets: []config.WebhookConfig{{URL: "http://x"}}})
	assert.Error(t, err)
}

func TestInitializeValidation(t *testing.T) {
	broadcaster, err := broadcast.New()
	require.NoError(t, err)

	tests := []struct {
		name   string
		target config.WebhookConfig
	}{
		{"missing scheme", config.WebhookConfig{URL: "not-a-url"}},
		{"empty url", config.WebhookConfig{URL: ""}},
		{"bad confidence", config.WebhookConfig{URL: "http://example.com/hook", MinConfidence: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(Deps{Targets: []config.WebhookConfig{tt.target}, Broadcaster: broadcaster})
			require.NoError(t, err)
			assert.Error(t, n.Initialize())
		})
	}
}

func TestDeliversPayload(t *testing.T) {
	rcv := &receiver{}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer hook-token"},
	}})

	publishSample(broadcaster, 0.86, device.StateSet{"bulb": true, "fan": false, "iron": true})

	require.Eventually(t, func() bool {
		delivered, _, _ := n.Stats()
		return delivered == 1
	}, 2*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, json.Unmarshal(rcv.body(0), &payload))
	assert.NotEmpty(t, payload.ID)
	assert.Equal(t, uint64(1), payload.Seq)
	assert.Equal(t, 5, payload.Label)
	assert.True(t, payload.States["bulb"])
	assert.InDelta(t, 0.86, payload.Confidence, 1e-9)
	assert.InDelta(t, 231.5, payload.Readings.Voltage, 1e-9)

	rcv.mu.Lock()
	header := rcv.headers[0]
	rcv.mu.Unlock()
	assert.Equal(t, "Bearer hook-token", header.Get("Authorization"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestMinConfidenceSuppresses(t *testing.T) {
	rcv := &receiver{}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{{
		URL:           server.URL,
		MinConfidence: 0.9,
	}})

	publishSample(broadcaster, 0.5, device.StateSet{"bulb": true})
	publishSample(broadcaster, 0.95, device.StateSet{"bulb": true})

	require.Eventually(t, func() bool {
		delivered, suppressed, _ := n.Stats()
		return delivered == 1 && suppressed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rcv.callCount())
}

func TestOnChangeOnly(t *testing.T) {
	rcv := &receiver{}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{{
		URL:          server.URL,
		OnChangeOnly: true,
	}})

	same := device.StateSet{"bulb": true, "fan": false, "iron": false}
	publishSample(broadcaster, 0.9, same)
	publishSample(broadcaster, 0.91, device.StateSet{"bulb": true, "fan": false, "iron": false})
	publishSample(broadcaster, 0.9, device.StateSet{"bulb": true, "fan": true, "iron": false})

	require.Eventually(t, func() bool {
		delivered, suppressed, _ := n.Stats()
		return delivered == 2 && suppressed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectionIsNotRetried(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusBadRequest}}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{{URL: server.URL}})

	publishSample(broadcaster, 0.9, device.StateSet{"bulb": true})

	require.Eventually(t, func() bool {
		_, _, failed := n.Stats()
		return failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rcv.callCount())
}

func TestServerErrorIsRetried(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{{URL: server.URL}})

	publishSample(broadcaster, 0.9, device.StateSet{"bulb": true})

	require.Eventually(t, func() bool {
		delivered, _, _ := n.Stats()
		return delivered == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, rcv.callCount())
}

func TestMultipleTargetsFilterIndependently(t *testing.T) {
	strict := &receiver{}
	strictServer := httptest.NewServer(http.HandlerFunc(strict.handler))
	defer strictServer.Close()

	lenient := &receiver{}
	lenientServer := httptest.NewServer(http.HandlerFunc(lenient.handler))
	defer lenientServer.Close()

	n, broadcaster := startNotifier(t, []config.WebhookConfig{
		{URL: strictServer.URL, MinConfidence: 0.9},
		{URL: lenientServer.URL},
	})

	publishSample(broadcaster, 0.5, device.StateSet{"bulb": true})

	require.Eventually(t, func() bool {
		delivered, suppressed, _ := n.Stats()
		return delivered == 1 && suppressed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, strict.callCount())
	assert.Equal(t, 1, lenient.callCount())
}

func TestStopIsIdempotent(t *testing.T) {
	rcv := &receiver{}
	server := httptest.NewServer(http.HandlerFunc(rcv.handler))
	defer server.Close()

	n, _ := startNotifier(t, []config.WebhookConfig{{URL: server.URL}})
	require.NoError(t, n.Stop(time.Second))
	require.NoError(t, n.Stop(time.Second))
	assert.False(t, n.Health().Healthy)
}
