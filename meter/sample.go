// Package meter defines the wire form of energy-meter samples.
//
// A Sample is one instantaneous reading from a power meter (PZEM-style
// sensor behind an ESP32 gateway, or any source publishing the same JSON
// shape). Samples arrive over MQTT and flow into the prediction pipeline;
// the Record conversion hands them to the feature contract, which owns all
// validation. The meter package itself never judges values: a nonsense
// reading is the contract's problem to report.
package meter

import (
	"encoding/json"
	"fmt"

	"github.com/c360/gridsense/feature"
	"github.com/c360/gridsense/pkg/timestamp"
)

// Sample is one meter reading. The electrical fields are a typed view of
// the canonical wire keys; DeviceID and Timestamp identify the source and
// are not classifier inputs.
//
// A parsed Sample also keeps the payload's original key→value pairs, and
// Record returns those rather than the typed fields. That keeps legacy
// shorthand keys ("power", "pf") intact for contract aliases to resolve,
// instead of shadowing them with zero-valued canonical fields.
type Sample struct {
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix ms

	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	ActivePower   float64 `json:"active_power"`
	ReactivePower float64 `json:"reactive_power"`
	ApparentPower float64 `json:"apparent_power"`
	PowerFactor   float64 `json:"power_factor"`

	// wire holds the payload's fields as received, identity keys removed.
	// Nil for samples built in-process (FromVector).
	wire map[string]any
}

// Parse decodes a meter sample payload. Unknown keys are preserved for the
// contract, numeric timestamps in seconds or milliseconds and RFC3339
// strings are all accepted, and the receive time is stamped when the
// payload carries no timestamp. Electrical values are not validated here.
func Parse(data []byte) (Sample, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Sample{}, fmt.Errorf("decode meter sample: %w", err)
	}

	var s Sample
	if id, ok := raw["device_id"].(string); ok {
		s.DeviceID = id
	}
	if ts, ok := raw["timestamp"]; ok {
		s.Timestamp = timestamp.Parse(ts)
	}
	if s.Timestamp == 0 {
		s.Timestamp = timestamp.Now()
	}
	delete(raw, "device_id")
	delete(raw, "timestamp")
	s.wire = raw

	// Typed convenience view; zero when a key is absent or non-numeric.
	// The contract, not this view, decides whether the record is usable.
	s.Voltage = numberAt(raw, feature.FieldVoltage)
	s.Current = numberAt(raw, feature.FieldCurrent)
	s.ActivePower = numberAt(raw, feature.FieldActivePower)
	s.ReactivePower = numberAt(raw, feature.FieldReactivePower)
	s.ApparentPower = numberAt(raw, feature.FieldApparentPower)
	s.PowerFactor = numberAt(raw, feature.FieldPowerFactor)
	return s, nil
}

func numberAt(m map[string]any, key string) float64 {
	if f, ok := m[key].(float64); ok {
		return f
	}
	return 0
}

// Record converts the sample to the key→value form the feature contract
// validates: the original wire fields when the sample was parsed, the
// canonical fields otherwise. The returned map is a fresh copy.
func (s Sample) Record() map[string]any {
	if s.wire != nil {
		record := make(map[string]any, len(s.wire))
		for key, value := range s.wire {
			record[key] = value
		}
		return record
	}
	return map[string]any{
		feature.FieldVoltage:       s.Voltage,
		feature.FieldCurrent:       s.Current,
		feature.FieldActivePower:   s.ActivePower,
		feature.FieldReactivePower: s.ReactivePower,
		feature.FieldApparentPower: s.ApparentPower,
		feature.FieldPowerFactor:   s.PowerFactor,
	}
}

// FromVector rebuilds the electrical fields from a validated vector, for
// echoing the readings a prediction was made from. DeviceID and Timestamp
// are left for the caller.
func FromVector(v feature.Vector) Sample {
	return Sample{
		Voltage:       v.Voltage,
		Current:       v.Current,
		ActivePower:   v.ActivePower,
		ReactivePower: v.ReactivePower,
		ApparentPower: v.ApparentPower,
		PowerFactor:   v.PowerFactor,
	}
}
