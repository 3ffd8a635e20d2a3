// Package onnx runs the appliance classifier in-process through ONNX Runtime.
//
// The backend loads the model named by the artifact manifest, validates its
// tensor shapes against the feature contract and label space, and serves
// Classify calls without network hops. Sessions are safe for concurrent
// Run calls, so the backend needs no serialization from the assembler.
package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initRuntime initializes the ONNX Runtime environment. Safe to call
// multiple times; only the first call has any effect.
func initRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Config holds the ONNX backend settings, normally filled from the artifact
// manifest's backend section.
type Config struct {
	// ModelPath is the .onnx model file.
	ModelPath string
	// LibraryPath optionally overrides the onnxruntime shared library
	// location. Empty means the default system search path.
	LibraryPath string
	// NumLabels is the label-space size from the artifact manifest. The
	// model's output dimension must match.
	NumLabels int
	// ApplySoftmax converts raw logits to probabilities. Set it when the
	// exported graph ends before the softmax node.
	ApplySoftmax bool
	// IntraOpThreads bounds ONNX Runtime's per-op parallelism. Zero keeps
	// the runtime default.
	IntraOpThreads int
}

// Backend is an in-process ONNX classifier.
type Backend struct {
	session      *ort.DynamicAdvancedSession
	numLabels    int
	applySoftmax bool
}

// New loads the model and creates an inference session. Tensor shapes are
// validated against the feature contract and the artifact's label space so
// a model trained with a different layout is rejected at startup, not at
// prediction time.
func New(cfg Config) (*Backend, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path is empty", errors.ErrInvalidConfig)
	}
	if cfg.NumLabels <= 0 {
		return nil, fmt.Errorf("%w: label count %d", errors.ErrInvalidConfig, cfg.NumLabels)
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model info from %s: %w", cfg.ModelPath, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: model has %d inputs, want 1", errors.ErrArtifactMismatch, len(inputs))
	}
	featureDim := len(feature.Names())
	inDims := inputs[0].Dimensions
	if len(inDims) != 2 || inDims[1] != int64(featureDim) {
		return nil, fmt.Errorf("%w: input shape %v, want [batch %d]", errors.ErrArtifactMismatch, inDims, featureDim)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model has no outputs", errors.ErrArtifactMismatch)
	}
	outDims := outputs[0].Dimensions
	if len(outDims) != 2 || outDims[1] != int64(cfg.NumLabels) {
		return nil, fmt.Errorf("%w: output shape %v, want [batch %d]", errors.ErrArtifactMismatch, outDims, cfg.NumLabels)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		opts.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", cfg.ModelPath, err)
	}

	return &Backend{
		session:      session,
		numLabels:    cfg.NumLabels,
		applySoftmax: cfg.ApplySoftmax,
	}, nil
}

// Classify runs one inference call. The context is checked before the run;
// a native inference in flight cannot be interrupted.
func (b *Backend) Classify(ctx context.Context, features feature.Vector) (classifier.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Prediction{}, err
	}

	values := features.Values()
	input := make([]float32, len(values))
	for i, v := range values {
		input[i] = float32(v)
	}

	inTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("create input tensor: %w", err)
	}
	defer inTensor.Destroy()

	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(b.numLabels)))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("create output tensor: %w", err)
	}
	defer outTensor.Destroy()

	if err := b.session.Run([]ort.Value{inTensor}, []ort.Value{outTensor}); err != nil {
		return classifier.Prediction{}, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float64, b.numLabels)
	for i, v := range outTensor.GetData() {
		scores[i] = float64(v)
	}
	if b.applySoftmax {
		scores = softmax(scores)
	}

	probs := make(map[int]float64, b.numLabels)
	label := 0
	for i, p := range scores {
		probs[i] = p
		if p > scores[label] {
			label = i
		}
	}
	return classifier.Prediction{Label: label, Probabilities: probs}, nil
}

// Close releases the ONNX session resources.
func (b *Backend) Close() error {
	return b.session.Destroy()
}

// softmax converts logits to a probability distribution, shifting by the
// maximum for numerical stability.
func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
