// Package feature defines the validation contract between raw meter records
// and the classifier's feature vector.
//
// A Contract turns an arbitrary key→value record (MQTT payload, HTTP request
// body, table row) into a Vector whose field order matches the model's
// training order. Field order is the safety-critical invariant here: a
// reordered vector is syntactically valid input that produces
// confident-but-wrong predictions with no error signal. Validation therefore
// indexes every field by name and never depends on map iteration order.
//
// Required keys are case-sensitive. Legacy shorthand names (for example
// "pf" for "power_factor") are supported only through an explicit alias
// table registered with WithAliases; there is no fuzzy matching.
package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Contract validates raw records into feature Vectors. A Contract is
// immutable after construction and safe for concurrent use.
type Contract struct {
	// aliases maps each canonical field name to its registered record-key
	// aliases, sorted so resolution order is deterministic.
	aliases map[string][]string
}

// Option configures a Contract.
type Option func(*contractConfig)

type contractConfig struct {
	aliases map[string]string
}

// WithAliases registers legacy shorthand key names. The map is keyed by the
// alias as it appears in incoming records; the value is the canonical field
// name it stands for, e.g. {"pf": "power_factor", "power": "active_power"}.
// When both the canonical key and an alias are present the canonical key
// wins; among multiple present aliases the lexically first wins.
// Multiple WithAliases options merge, later entries overriding earlier ones.
func WithAliases(aliases map[string]string) Option {
	return func(cfg *contractConfig) {
		for alias, field := range aliases {
			cfg.aliases[alias] = field
		}
	}
}

// NewContract creates a Contract for the canonical feature fields.
// It returns an error if an alias targets an unknown field or shadows a
// canonical field name.
func NewContract(opts ...Option) (*Contract, error) {
	cfg := &contractConfig{aliases: make(map[string]string)}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Contract{aliases: make(map[string][]string)}
	for alias, field := range cfg.aliases {
		if !isCanonical(field) {
			return nil, fmt.Errorf("alias %q targets unknown field %q", alias, field)
		}
		if isCanonical(alias) {
			return nil, fmt.Errorf("alias %q shadows a canonical field name", alias)
		}
		c.aliases[field] = append(c.aliases[field], alias)
	}
	for _, aliases := range c.aliases {
		sort.Strings(aliases)
	}
	return c, nil
}

// Validate checks a record against the contract and returns the feature
// vector in training order. Extra keys are ignored. It returns a
// *MissingError listing every absent required field (sorted), or a
// *TypeError for the first field in training order whose value cannot be
// coerced to a finite float64. Missing fields are reported before type
// errors. Validate never modifies the record.
func (c *Contract) Validate(record map[string]any) (Vector, error) {
	raw := make([]any, len(fieldOrder))
	var missing []string
	for i, field := range fieldOrder {
		value, ok := c.lookup(record, field)
		if !ok {
			missing = append(missing, field)
			continue
		}
		raw[i] = value
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Vector{}, &MissingError{Missing: missing}
	}

	values := make([]float64, len(fieldOrder))
	for i, field := range fieldOrder {
		f, ok := coerceFloat(raw[i])
		if !ok {
			return Vector{}, &TypeError{Field: field, Value: raw[i]}
		}
		values[i] = f
	}

	return Vector{
		Voltage:       values[0],
		Current:       values[1],
		ActivePower:   values[2],
		ReactivePower: values[3],
		ApparentPower: values[4],
		PowerFactor:   values[5],
	}, nil
}

// lookup resolves a canonical field against the record: the canonical key
// first, then registered aliases in sorted order.
func (c *Contract) lookup(record map[string]any, field string) (any, bool) {
	if value, ok := record[field]; ok {
		return value, true
	}
	for _, alias := range c.aliases[field] {
		if value, ok := record[alias]; ok {
			return value, true
		}
	}
	return nil, false
}

func isCanonical(name string) bool {
	for _, field := range fieldOrder {
		if name == field {
			return true
		}
	}
	return false
}

// coerceFloat converts a record value to a finite float64. Integers, floats,
// json.Number, and numeric strings are accepted; bool, nil, non-numeric
// strings, NaN, and ±Inf are not. power_factor intentionally gets no range
// check: out-of-range values indicate a meter fault the classifier should
// see, not a validation failure.
func coerceFloat(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
