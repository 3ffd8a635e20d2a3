// Package httpapi calls a remote inference endpoint over HTTP.
//
// The backend POSTs the feature vector as JSON and expects the label and
// probability distribution back. Transient transport failures and 5xx
// responses are retried with exponential backoff; 4xx responses mean the
// request itself is bad and fail immediately. This is the only layer that
// retries classifier calls.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/pkg/retry"
)

// maxResponseBytes bounds how much of the inference response is read.
const maxResponseBytes = 1 << 20

// Config holds the remote backend settings.
type Config struct {
	// URL is the inference endpoint, e.g. http://inference:9000/classify.
	URL string
	// Timeout bounds a single HTTP attempt. Zero means 10 seconds.
	Timeout time.Duration
	// Headers are added to every request (auth tokens and the like).
	Headers map[string]string
	// Retry controls backoff across attempts. Zero value uses
	// retry.DefaultConfig().
	Retry retry.Config
}

// Backend is a remote HTTP classifier.
type Backend struct {
	url      string
	headers  map[string]string
	client   *http.Client
	retryCfg retry.Config
}

// New creates a remote classifier backend.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: inference URL is empty", errors.ErrInvalidConfig)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: inference URL %q: %v", errors.ErrInvalidConfig, cfg.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: inference URL %q: unsupported scheme", errors.ErrInvalidConfig, cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &Backend{
		url:      cfg.URL,
		headers:  cfg.Headers,
		client:   &http.Client{Timeout: timeout},
		retryCfg: retryCfg,
	}, nil
}

// request is the wire form sent to the inference endpoint. Features are
// positional, in the contract's training order.
type request struct {
	Features []float64 `json:"features"`
}

// response is the wire form returned by the inference endpoint. JSON object
// keys are strings, so probability labels arrive as "0".."N-1".
type response struct {
	Label         int                `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classify sends the feature vector to the remote endpoint, retrying
// transient failures per the backend's retry config.
func (b *Backend) Classify(ctx context.Context, features feature.Vector) (classifier.Prediction, error) {
	body, err := json.Marshal(request{Features: features.Values()})
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("marshal inference request: %w", err)
	}
	return retry.DoWithResult(ctx, b.retryCfg, func() (classifier.Prediction, error) {
		return b.post(ctx, body)
	})
}

// post performs one HTTP attempt.
func (b *Backend) post(ctx context.Context, body []byte) (classifier.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return classifier.Prediction{}, retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("read inference response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Decoded below.
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return classifier.Prediction{}, retry.NonRetryable(
			fmt.Errorf("inference endpoint rejected request: HTTP %d", resp.StatusCode))
	default:
		return classifier.Prediction{}, fmt.Errorf("inference endpoint unavailable: HTTP %d", resp.StatusCode)
	}

	var parsed response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return classifier.Prediction{}, retry.NonRetryable(
			fmt.Errorf("decode inference response: %w", err))
	}

	probs := make(map[int]float64, len(parsed.Probabilities))
	for key, prob := range parsed.Probabilities {
		label, err := strconv.Atoi(key)
		if err != nil {
			return classifier.Prediction{}, retry.NonRetryable(
				fmt.Errorf("inference response has non-integer label %q", key))
		}
		probs[label] = prob
	}
	return classifier.Prediction{Label: parsed.Label, Probabilities: probs}, nil
}
