package feature

import "testing"

func TestNames_TrainingOrder(t *testing.T) {
	want := []string{
		"voltage",
		"current",
		"active_power",
		"reactive_power",
		"apparent_power",
		"power_factor",
	}
	names := Names()
	if len(names) != len(want) {
		t.Fatalf("Names() has %d entries, want %d", len(names), len(want))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], name)
		}
	}
}

func TestNames_ReturnsCopy(t *testing.T) {
	names := Names()
	names[0] = "mutated"
	if Names()[0] != "voltage" {
		t.Error("mutating Names() result changed package state")
	}
}

func TestVector_Values_Order(t *testing.T) {
	vec := Vector{
		Voltage:       1,
		Current:       2,
		ActivePower:   3,
		ReactivePower: 4,
		ApparentPower: 5,
		PowerFactor:   6,
	}
	values := vec.Values()
	for i, want := range []float64{1, 2, 3, 4, 5, 6} {
		if values[i] != want {
			t.Errorf("Values()[%d] = %v, want %v", i, values[i], want)
		}
	}
}
