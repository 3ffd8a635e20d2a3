package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gserrors "github.com/c360/gridsense/errors"
)

// canonicalManifest is a complete valid manifest matching the shipped
// artifact: three devices, eight labels, ONNX backend.
const canonicalManifest = `{
	"schema_version": 1,
	"model": {"name": "appliance-classifier", "version": "1.3.0", "trained_at": "2025-06-01T12:00:00Z"},
	"features": ["voltage", "current", "active_power", "reactive_power", "apparent_power", "power_factor"],
	"aliases": {"power": "active_power", "pf": "power_factor"},
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
	"backend": {"type": "onnx", "path": "model.onnx", "timeout": "5s"}
}`

func TestParseCanonical(t *testing.T) {
	m, err := Parse([]byte(canonicalManifest))
	require.NoError(t, err)

	assert.Equal(t, "appliance-classifier", m.Model.Name)
	assert.Equal(t, "1.3.0", m.Model.Version)
	assert.Equal(t, 8, m.NumLabels())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, m.LabelKeys())
	assert.Equal(t, 5*time.Second, m.Backend.Timeout)
}

// TestParseBuildsContractAndDecoder verifies the manifest is a working
// source for both halves of the prediction pipeline.
func TestParseBuildsContractAndDecoder(t *testing.T) {
	m, err := Parse([]byte(canonicalManifest))
	require.NoError(t, err)

	contract, err := m.Contract()
	require.NoError(t, err)

	// Aliases from the manifest resolve legacy keys.
	vec, err := contract.Validate(map[string]any{
		"voltage": 230.0, "current": 4.78, "power": 1100.0,
		"reactive_power": 0.0, "apparent_power": 1100.0, "pf": 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1100.0, vec.ActivePower)
	assert.Equal(t, 1.0, vec.PowerFactor)

	decoder, err := m.Decoder()
	require.NoError(t, err)
	states, err := decoder.Decode(4)
	require.NoError(t, err)
	assert.True(t, states["iron"])
	assert.False(t, states["bulb"])
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			name:    "missing labels",
			mangle:  func(s string) string { return strings.Replace(s, `"labels"`, `"labelz"`, 1) },
			wantErr: "schema validation",
		},
		{
			name:    "non-integer label key",
			mangle:  func(s string) string { return strings.Replace(s, `"4"`, `"four"`, 1) },
			wantErr: "schema validation",
		},
		{
			name: "wrong feature order",
			mangle: func(s string) string {
				return strings.Replace(s,
					`["voltage", "current"`,
					`["current", "voltage"`, 1)
			},
			wantErr: "training order",
		},
		{
			name:    "unknown backend type",
			mangle:  func(s string) string { return strings.Replace(s, `"type": "onnx"`, `"type": "tflite"`, 1) },
			wantErr: "schema validation",
		},
		{
			name:    "onnx backend without path",
			mangle:  func(s string) string { return strings.Replace(s, `"path": "model.onnx", `, ``, 1) },
			wantErr: "backend.path",
		},
		{
			name: "duplicate state sets break injectivity",
			mangle: func(s string) string {
				return strings.Replace(s, `"7": ["bulb", "fan", "iron"]`, `"7": ["iron"]`, 1)
			},
			wantErr: "same device states",
		},
		{
			name: "label gap breaks totality",
			mangle: func(s string) string {
				return strings.Replace(s, `"7": ["bulb", "fan", "iron"]`, `"9": ["bulb", "fan", "iron"]`, 1)
			},
			wantErr: "not total",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mangle(canonicalManifest)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestParseInjectivityFailureIsArtifactMismatch verifies label-table
// failures surface with the artifact-mismatch sentinel at load time.
func TestParseInjectivityFailureIsArtifactMismatch(t *testing.T) {
	bad := strings.Replace(canonicalManifest, `"7": ["bulb", "fan", "iron"]`, `"7": ["iron"]`, 1)
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.ErrorIs(t, err, gserrors.ErrArtifactMismatch)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(canonicalManifest), 0600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", m.Model.Version)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestParseHTTPBackend(t *testing.T) {
	httpManifest := strings.Replace(canonicalManifest,
		`{"type": "onnx", "path": "model.onnx", "timeout": "5s"}`,
		`{"type": "http", "url": "http://inference:9000/classify"}`, 1)

	m, err := Parse([]byte(httpManifest))
	require.NoError(t, err)
	assert.Equal(t, "http", m.Backend.Type)
	assert.Equal(t, "http://inference:9000/classify", m.Backend.URL)
}
