// Package classifier defines the boundary to the trained appliance model.
//
// The rest of the system depends on this narrow interface, never on a
// backend's native representation. Backends live in subpackages: onnx runs
// the model in-process through ONNX Runtime, httpapi calls a remote
// inference endpoint. Transport-level retry belongs to the backends;
// callers treat a returned error as the final word on that input.
package classifier

import (
	"context"

	"github.com/c360/gridsense/feature"
)

// Prediction is the raw model output for one feature vector: the reported
// label and the full probability distribution over the label space.
//
// The contract every backend must honor: output is deterministic for a
// fixed input and artifact, Probabilities covers the artifact's label
// space, and the probabilities sum to 1 within SumTolerance. The reported
// Label is advisory; the assembler recomputes the argmax from
// Probabilities and treats that as ground truth.
type Prediction struct {
	Label         int
	Probabilities map[int]float64
}

// Classifier runs the trained model on a validated feature vector.
// Implementations must be safe for concurrent read-only use, or document
// otherwise so callers can serialize access.
type Classifier interface {
	Classify(ctx context.Context, features feature.Vector) (Prediction, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, features feature.Vector) (Prediction, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, features feature.Vector) (Prediction, error) {
	return f(ctx, features)
}
