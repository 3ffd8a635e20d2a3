// Package gridsense predicts household appliance ON/OFF states from
// aggregate electrical readings (non-intrusive load monitoring).
//
// # Overview
//
// A trained multi-class classifier maps one electrical reading (voltage,
// current, active power, reactive power, apparent power, power factor)
// to a label that encodes which appliances are drawing power. Gridsense
// wraps that classifier in a service: it validates readings against the
// model's feature contract, decodes labels into per-device states, and
// delivers predictions over several boundaries.
//
// # Architecture
//
//	┌──────────────┐   ┌──────────────┐
//	│  MQTT Input  │   │ REST Gateway │   request/response
//	│ (meter feed) │   │ /api/predict │   predictions
//	└──────┬───────┘   └──────┬───────┘
//	       │                  │
//	       ↓                  ↓
//	┌─────────────────────────────────┐
//	│       Prediction Assembler      │   contract, classifier,
//	│                                 │   label decoder
//	└────────────────┬────────────────┘
//	                 │  streamed samples only
//	                 ↓
//	┌─────────────────────────────────┐
//	│          Broadcaster            │   latest-slot fan-out,
//	│   (sequence, per-sub queues)    │   no replay
//	└───┬─────────┬─────────┬─────────┘
//	    ↓         ↓         ↓
//	┌─────────┐ ┌───────┐ ┌─────────┐
//	│WebSocket│ │ NATS  │ │Webhooks │
//	│ stream  │ │publish│ │ (HTTP)  │
//	└─────────┘ └───────┘ └─────────┘
//
// Request/response predictions return to the caller and never enter the
// broadcaster; only the meter stream fans out.
//
// # Model Artifact
//
// Everything that must stay in lockstep with the trained model ships in
// one manifest: the feature training order, record-key aliases, the
// device set, the label table, and the backend (in-process ONNX or a
// remote HTTP endpoint). The artifact package refuses manifests whose
// feature order disagrees with the contract, so a retrained model cannot
// silently skew predictions.
//
// # Package Layout
//
//   - artifact: manifest loading and schema validation
//   - feature: the feature contract (canonical order, aliases, validation)
//   - classifier: the Classifier interface and the onnx and httpapi backends
//   - device: label decoding into per-device states
//   - predict: the assembler tying contract, classifier, and decoder together
//   - meter: wire-format parsing of meter samples
//   - broadcast: latest-slot prediction fan-out
//   - input/mqtt: meter sample ingest
//   - gateway/http: the REST API
//   - output/websocket, output/natspub, output/webhook: prediction delivery
//   - service: component wiring and lifecycle
//
// # Quick Start
//
//	cfg := config.Defaults()
//	cfg.Model.ManifestPath = "model/manifest.json"
//
//	svc, err := service.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(10 * time.Second)
//
// The cmd/gridsense daemon wraps this with config layering, signal
// handling, and structured logging.
package gridsense
