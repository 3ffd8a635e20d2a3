// Package predict assembles appliance predictions from raw records.
//
// The Assembler owns the core pipeline: validate the record against the
// feature contract, run the classifier, decode the probability vector into
// named device states, and assemble the result. Three entry points share
// that path: Single for one record, Batch for a slice (never aborting on a
// bad item), and Table for column-oriented data.
//
// The assembler holds only immutable configuration after construction and
// is safe for concurrent use. Classifier backends are assumed safe for
// concurrent read-only calls; wrap a non-reentrant backend with
// WithSerializedClassifier to serialize just the classifier call, keeping
// validation and decoding concurrent.
package predict

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/c360/gridsense/classifier"
	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/feature"
)

// Result is one assembled prediction. Probabilities covers the full label
// space, sorted descending by probability with ascending label tie-break;
// Label and Confidence always mirror Probabilities[0].
type Result struct {
	Label         int             `json:"label"`
	States        device.StateSet `json:"device_states"`
	Probabilities []device.Entry  `json:"probabilities"`
	Confidence    float64         `json:"confidence"`
}

// Item is one slot of a batch prediction. Err is set when that record
// failed; the rest of the batch is unaffected.
type Item struct {
	Index  int
	Result Result
	Err    error
}

// Assembler wires the contract, decoder, and classifier into the prediction
// pipeline. Construct it with NewAssembler; the dependency fields are
// exported for inspection, not for mutation after construction.
type Assembler struct {
	Contract   *feature.Contract
	Decoder    *device.Decoder
	Classifier classifier.Classifier

	logger *slog.Logger
	// classifierMu is non-nil when WithSerializedClassifier is set; it
	// scopes mutual exclusion to the classifier call only.
	classifierMu *sync.Mutex
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSerializedClassifier serializes classifier calls behind a mutex, for
// backends that are not safe for concurrent invocation. Validation and
// decoding stay concurrent.
func WithSerializedClassifier() Option {
	return func(a *Assembler) {
		a.classifierMu = &sync.Mutex{}
	}
}

// WithLogger sets the logger used for argmax-disagreement warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler creates an Assembler. All three dependencies are required.
func NewAssembler(contract *feature.Contract, decoder *device.Decoder, cls classifier.Classifier, opts ...Option) (*Assembler, error) {
	if contract == nil {
		return nil, stderrors.New("contract is required")
	}
	if decoder == nil {
		return nil, stderrors.New("decoder is required")
	}
	if cls == nil {
		return nil, stderrors.New("classifier is required")
	}
	a := &Assembler{
		Contract:   contract,
		Decoder:    decoder,
		Classifier: cls,
		logger:     slog.Default().With("component", "assembler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Single predicts one record: validate, classify, decode, assemble.
// Validation failures surface the feature package's typed errors; classifier
// execution failures propagate wrapped but errors.Is/As-transparent, with no
// retry at this layer.
func (a *Assembler) Single(ctx context.Context, record map[string]any) (Result, error) {
	vec, err := a.Contract.Validate(record)
	if err != nil {
		return Result{}, fmt.Errorf("validate record: %w", err)
	}
	return a.Predict(ctx, vec)
}

// Predict runs the classify and decode stages on an already-validated
// vector. Callers that hold a Vector (the ingest pipeline) use this directly
// and skip re-validation.
func (a *Assembler) Predict(ctx context.Context, vec feature.Vector) (Result, error) {
	pred, err := a.classify(ctx, vec)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	if err := checkDistribution(pred.Probabilities); err != nil {
		return Result{}, err
	}

	entries, err := a.Decoder.DecodeAll(pred.Probabilities)
	if err != nil {
		return Result{}, fmt.Errorf("decode probabilities: %w", err)
	}
	if len(entries) == 0 {
		return Result{}, stderrors.New("classifier returned an empty probability vector")
	}

	// The classifier's reported label and its probability vector are two
	// independent signals. The sorted head is the argmax; it wins on
	// disagreement, which is logged, not failed.
	top := entries[0]
	if top.Label != pred.Label {
		a.logger.Warn("classifier label disagrees with probability argmax",
			"reported_label", pred.Label,
			"argmax_label", top.Label,
			"argmax_probability", top.Probability)
	}

	return Result{
		Label:         top.Label,
		States:        top.States,
		Probabilities: entries,
		Confidence:    top.Probability,
	}, nil
}

// Batch predicts a slice of records, order-preserving and 1:1 with the
// input. A failed record annotates its own Item only; the batch never
// aborts.
func (a *Assembler) Batch(ctx context.Context, records []map[string]any) []Item {
	items := make([]Item, len(records))
	for i, record := range records {
		result, err := a.Single(ctx, record)
		items[i] = Item{Index: i, Result: result, Err: err}
	}
	return items
}

// classify invokes the backend, serialized when configured.
func (a *Assembler) classify(ctx context.Context, vec feature.Vector) (classifier.Prediction, error) {
	if a.classifierMu != nil {
		a.classifierMu.Lock()
		defer a.classifierMu.Unlock()
	}
	return a.Classifier.Classify(ctx, vec)
}

// checkDistribution enforces the probability-sum contract. Deviations
// beyond the tolerance are reported, never renormalized.
func checkDistribution(probs map[int]float64) error {
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > classifier.SumTolerance {
		return &classifier.ContractViolationError{Sum: sum}
	}
	return nil
}
