// Package artifact loads the model artifact manifest.
//
// The manifest is the single source of truth for everything that must stay
// in lockstep with the trained classifier: the feature order, the label
// table, the device set, record-key aliases, and which backend runs the
// model. Building the contract and the decoder from the same manifest is
// the system's protection against skew; a retrained model ships a new
// manifest and the loader refuses one whose feature order disagrees with
// the contract's canonical layout.
//
// Manifests are JSON, schema-validated on load before any field is read.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/gridsense/device"
	"github.com/c360/gridsense/errors"
	"github.com/c360/gridsense/feature"
)

// maxManifestSize bounds how large a manifest file may be.
const maxManifestSize = 1 << 20

// Manifest describes one trained classifier artifact.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Model         ModelInfo `json:"model"`

	// Features is the training order of the feature vector. Must match the
	// contract's canonical order exactly.
	Features []string `json:"features"`

	// Aliases maps legacy record keys to canonical feature names, e.g.
	// {"power": "active_power", "pf": "power_factor"}.
	Aliases map[string]string `json:"aliases,omitempty"`

	// Devices are the appliances the label table spans.
	Devices []string `json:"devices"`

	// Labels maps each label (JSON object keys are strings: "0".."N-1") to
	// the devices that are ON for it. Label 0 is a first-class entry.
	Labels map[string][]string `json:"labels"`

	Backend BackendConfig `json:"backend"`
}

// ModelInfo identifies the training run.
type ModelInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
}

// BackendConfig selects and configures the classifier backend.
type BackendConfig struct {
	// Type is "onnx" (in-process) or "http" (remote inference endpoint).
	Type string `json:"type"`
	// Path is the ONNX model file, relative paths resolved against the
	// manifest's directory. Used by the onnx backend.
	Path string `json:"path,omitempty"`
	// URL is the remote inference endpoint. Used by the http backend.
	URL string `json:"url,omitempty"`
	// Timeout bounds one inference call. Zero means backend default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// UnmarshalJSON accepts the timeout as either nanoseconds or a Go duration
// string ("10s"), matching the config package's layer files.
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type alias BackendConfig
	aux := &struct {
		Timeout any `json:"timeout,omitempty"`
		*alias
	}{alias: (*alias)(b)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	switch v := aux.Timeout.(type) {
	case nil:
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("backend.timeout: %w", err)
		}
		b.Timeout = d
	case float64:
		b.Timeout = time.Duration(v)
	default:
		return fmt.Errorf("backend.timeout: unsupported type %T", v)
	}
	return nil
}

// Load reads, schema-validates, and semantically validates a manifest.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest too large: %d bytes > %d", info.Size(), maxManifestSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse validates manifest bytes against the JSON Schema, unmarshals them,
// and checks the cross-field invariants Load relies on.
func Parse(data []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(Schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if !result.Valid() {
		msg := "manifest schema validation failed:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description())
		}
		return nil, fmt.Errorf("%w: %s", errors.ErrArtifactMismatch, msg)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate enforces what the schema cannot express: the exact feature
// order, integer label keys, and a decodable label table.
func (m *Manifest) validate() error {
	canonical := feature.Names()
	if len(m.Features) != len(canonical) {
		return fmt.Errorf("%w: manifest lists %d features, contract has %d",
			errors.ErrArtifactMismatch, len(m.Features), len(canonical))
	}
	for i, name := range canonical {
		if m.Features[i] != name {
			return fmt.Errorf("%w: feature %d is %q, contract expects %q (training order must match exactly)",
				errors.ErrArtifactMismatch, i, m.Features[i], name)
		}
	}

	// Building the decoder runs the totality and injectivity checks, so a
	// broken label table fails the load, not the first prediction.
	if _, err := m.Decoder(); err != nil {
		return err
	}

	switch m.Backend.Type {
	case "onnx":
		if m.Backend.Path == "" {
			return fmt.Errorf("%w: onnx backend requires backend.path", errors.ErrInvalidConfig)
		}
	case "http":
		if m.Backend.URL == "" {
			return fmt.Errorf("%w: http backend requires backend.url", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend type %q", errors.ErrInvalidConfig, m.Backend.Type)
	}
	return nil
}

// LabelTable converts the manifest's string-keyed label map to the integer
// form the decoder consumes.
func (m *Manifest) LabelTable() (map[int][]string, error) {
	table := make(map[int][]string, len(m.Labels))
	for key, on := range m.Labels {
		label, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: label key %q is not an integer", errors.ErrArtifactMismatch, key)
		}
		table[label] = on
	}
	return table, nil
}

// Contract builds the feature contract with the manifest's aliases.
func (m *Manifest) Contract() (*feature.Contract, error) {
	if len(m.Aliases) == 0 {
		return feature.NewContract()
	}
	return feature.NewContract(feature.WithAliases(m.Aliases))
}

// Decoder builds the label decoder from the manifest's device set and
// label table. Totality and injectivity are the decoder's checks; a
// manifest that fails them fails here, at load time.
func (m *Manifest) Decoder() (*device.Decoder, error) {
	table, err := m.LabelTable()
	if err != nil {
		return nil, err
	}
	decoder, err := device.NewDecoder(m.Devices, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrArtifactMismatch, err)
	}
	return decoder, nil
}

// NumLabels returns the size of the label space.
func (m *Manifest) NumLabels() int {
	return len(m.Labels)
}

// LabelKeys returns the label keys in ascending numeric order, for status
// output.
func (m *Manifest) LabelKeys() []int {
	keys := make([]int, 0, len(m.Labels))
	for key := range m.Labels {
		if label, err := strconv.Atoi(key); err == nil {
			keys = append(keys, label)
		}
	}
	sort.Ints(keys)
	return keys
}
