package feature

// Canonical field names for the electrical features the classifier was
// trained on. Incoming records must use these names (or an explicitly
// registered alias); matching is case-sensitive.
const (
	FieldVoltage       = "voltage"
	FieldCurrent       = "current"
	FieldActivePower   = "active_power"
	FieldReactivePower = "reactive_power"
	FieldApparentPower = "apparent_power"
	FieldPowerFactor   = "power_factor"
)

// fieldOrder is the training order of the feature vector. The classifier
// consumes positional input, so this order must match the model artifact
// exactly; the artifact loader verifies the manifest against Names() and
// refuses to load a model trained with a different layout.
var fieldOrder = []string{
	FieldVoltage,
	FieldCurrent,
	FieldActivePower,
	FieldReactivePower,
	FieldApparentPower,
	FieldPowerFactor,
}

// Names returns the required field names in training order.
// The returned slice is a copy and safe to modify.
func Names() []string {
	names := make([]string, len(fieldOrder))
	copy(names, fieldOrder)
	return names
}

// Vector is a validated feature vector. Field order mirrors the training
// order of the model artifact: voltage, current, active_power,
// reactive_power, apparent_power, power_factor.
type Vector struct {
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	ActivePower   float64 `json:"active_power"`
	ReactivePower float64 `json:"reactive_power"`
	ApparentPower float64 `json:"apparent_power"`
	PowerFactor   float64 `json:"power_factor"`
}

// Values returns the vector components in training order, ready to hand to a
// classifier backend as positional input.
func (v Vector) Values() []float64 {
	return []float64{
		v.Voltage,
		v.Current,
		v.ActivePower,
		v.ReactivePower,
		v.ApparentPower,
		v.PowerFactor,
	}
}
