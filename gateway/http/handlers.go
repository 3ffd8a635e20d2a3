package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/c360/gridsense/predict"
)

// handlePredict serves POST /api/predict. The body is a single JSON record
// or an array of records; the response mirrors the input shape. A bad record
// inside an array annotates only its own slot, so one malformed reading never
// costs the rest of the batch.
func (g *Gateway) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	switch firstByte(body) {
	case '{':
		var record map[string]any
		if err := json.Unmarshal(body, &record); err != nil {
			g.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := g.assembler.Single(r.Context(), record)
		if err != nil {
			g.logPredictionFailure(r, err)
			g.writeError(w, httpStatus(err), clientMessage(err))
			return
		}
		g.writeJSON(w, http.StatusOK, result)

	case '[':
		var records []map[string]any
		if err := json.Unmarshal(body, &records); err != nil {
			g.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		items := g.assembler.Batch(r.Context(), records)
		out := make([]any, len(items))
		for i, item := range items {
			if item.Err != nil {
				g.logPredictionFailure(r, item.Err)
				out[i] = map[string]any{
					"error":  clientMessage(item.Err),
					"status": httpStatus(item.Err),
				}
				continue
			}
			out[i] = item.Result
		}
		g.writeJSON(w, http.StatusOK, out)

	default:
		g.writeError(w, http.StatusBadRequest, "body must be a JSON object or array")
	}
}

// handlePredictTable serves POST /api/predict/table with column-oriented
// input. Structural problems (ragged rows, column collisions) fail the whole
// request; per-row prediction failures land in the prediction_error column.
func (g *Gateway) handlePredictTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var tbl predict.Table
	if err := json.Unmarshal(body, &tbl); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := g.assembler.Table(r.Context(), tbl)
	if err != nil {
		g.logPredictionFailure(r, err)
		g.writeError(w, httpStatus(err), err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handleLatest serves GET /api/latest from the broadcaster's single slot.
func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest, ok := g.broadcaster.Latest()
	if !ok {
		g.writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "no_prediction",
		})
		return
	}
	g.writeJSON(w, http.StatusOK, latest)
}

// handleStatus serves GET /api/status with model identity and live counters.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	g.mu.RLock()
	startTime := g.startTime
	g.mu.RUnlock()

	status := map[string]any{
		"service":     g.service.Name,
		"instance_id": g.service.InstanceID,
		"environment": g.service.Environment,
		"model": map[string]any{
			"name":       g.manifest.Model.Name,
			"version":    g.manifest.Model.Version,
			"trained_at": g.manifest.Model.TrainedAt,
		},
		"devices":        g.assembler.Decoder.Devices(),
		"labels":         g.manifest.NumLabels(),
		"sequence":       g.broadcaster.Sequence(),
		"subscribers":    g.broadcaster.SubscriberCount(),
		"uptime_seconds": time.Since(startTime).Seconds(),
	}
	if latest, ok := g.broadcaster.Latest(); ok {
		status["last_prediction"] = latest.ProducedAt
	}
	g.writeJSON(w, http.StatusOK, status)
}

// handleHealthz is the liveness probe, deliberately unauthenticated and
// unrate-limited.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !g.running.Load() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, map[string]any{"status": status})
}

// readBody reads the request body under the configured size cap. On failure
// it has already written the error response.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	reader := http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes)
	body, err := io.ReadAll(reader)
	if err != nil {
		g.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		g.writeError(w, http.StatusBadRequest, "empty request body")
		return nil, false
	}
	g.bytesReceived.Add(uint64(len(body)))
	return body, true
}

// firstByte returns the first non-whitespace byte, or 0 for an all-blank
// body. Used to pick the single-record or batch path without a speculative
// unmarshal.
func firstByte(body []byte) byte {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func (g *Gateway) logPredictionFailure(r *http.Request, err error) {
	g.logger.Debug("prediction failed",
		"path", r.URL.Path,
		"request_id", requestID(r),
		"error", err)
}
