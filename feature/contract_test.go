package feature

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

// validRecord returns a record containing every canonical field.
func validRecord() map[string]any {
	return map[string]any{
		"voltage":        235.2,
		"current":        4.91,
		"active_power":   1024.0,
		"reactive_power": 310.5,
		"apparent_power": 1154.9,
		"power_factor":   0.89,
	}
}

func TestContract_Validate(t *testing.T) {
	contract, err := NewContract()
	if err != nil {
		t.Fatalf("NewContract failed: %v", err)
	}

	t.Run("valid record", func(t *testing.T) {
		vec, err := contract.Validate(validRecord())
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		want := Vector{
			Voltage:       235.2,
			Current:       4.91,
			ActivePower:   1024.0,
			ReactivePower: 310.5,
			ApparentPower: 1154.9,
			PowerFactor:   0.89,
		}
		if vec != want {
			t.Errorf("Validate() = %+v, want %+v", vec, want)
		}
	})

	t.Run("extra keys ignored", func(t *testing.T) {
		record := validRecord()
		record["timestamp"] = "2026-08-23T10:00:00Z"
		record["meter_id"] = "house-7"
		if _, err := contract.Validate(record); err != nil {
			t.Errorf("expected extra keys to be ignored, got %v", err)
		}
	})

	t.Run("coercion accepts numeric types", func(t *testing.T) {
		record := validRecord()
		record["voltage"] = float32(230.0)
		record["current"] = 5
		record["active_power"] = int64(1150)
		record["reactive_power"] = uint16(300)
		record["apparent_power"] = json.Number("1188.5")
		record["power_factor"] = "0.97"

		vec, err := contract.Validate(record)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if vec.Current != 5 || vec.ApparentPower != 1188.5 || vec.PowerFactor != 0.97 {
			t.Errorf("coerced values wrong: %+v", vec)
		}
	})

	t.Run("missing single field", func(t *testing.T) {
		record := validRecord()
		delete(record, "power_factor")

		_, err := contract.Validate(record)
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError, got %v", err)
		}
		if len(missErr.Missing) != 1 || missErr.Missing[0] != "power_factor" {
			t.Errorf("Missing = %v, want [power_factor]", missErr.Missing)
		}
	})

	t.Run("missing fields collected and sorted", func(t *testing.T) {
		record := validRecord()
		delete(record, "voltage")
		delete(record, "current")
		delete(record, "power_factor")

		_, err := contract.Validate(record)
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError, got %v", err)
		}
		want := []string{"current", "power_factor", "voltage"}
		if len(missErr.Missing) != len(want) {
			t.Fatalf("Missing = %v, want %v", missErr.Missing, want)
		}
		for i, field := range want {
			if missErr.Missing[i] != field {
				t.Errorf("Missing[%d] = %q, want %q", i, missErr.Missing[i], field)
			}
		}
	})

	t.Run("empty record reports all fields", func(t *testing.T) {
		_, err := contract.Validate(map[string]any{})
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError, got %v", err)
		}
		if len(missErr.Missing) != 6 {
			t.Errorf("Missing has %d entries, want 6: %v", len(missErr.Missing), missErr.Missing)
		}
	})

	t.Run("case-sensitive keys", func(t *testing.T) {
		record := validRecord()
		delete(record, "voltage")
		record["Voltage"] = 230.0

		_, err := contract.Validate(record)
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError for wrong-case key, got %v", err)
		}
		if missErr.Missing[0] != "voltage" {
			t.Errorf("Missing = %v, want [voltage]", missErr.Missing)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := []struct {
			name  string
			value any
		}{
			{"non-numeric string", "not-a-number"},
			{"nil", nil},
			{"bool", true},
			{"NaN", math.NaN()},
			{"positive infinity", math.Inf(1)},
			{"negative infinity", math.Inf(-1)},
			{"infinity string", "Inf"},
			{"malformed json.Number", json.Number("12.3.4")},
			{"slice", []float64{230.0}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				record := validRecord()
				record["current"] = tt.value

				_, err := contract.Validate(record)
				var typeErr *TypeError
				if !errors.As(err, &typeErr) {
					t.Fatalf("expected *TypeError, got %v", err)
				}
				if typeErr.Field != "current" {
					t.Errorf("Field = %q, want %q", typeErr.Field, "current")
				}
			})
		}
	})

	t.Run("first type error in training order wins", func(t *testing.T) {
		record := validRecord()
		record["current"] = "bad"
		record["power_factor"] = "also bad"

		_, err := contract.Validate(record)
		var typeErr *TypeError
		if !errors.As(err, &typeErr) {
			t.Fatalf("expected *TypeError, got %v", err)
		}
		if typeErr.Field != "current" {
			t.Errorf("Field = %q, want %q (training order)", typeErr.Field, "current")
		}
	})

	t.Run("missing reported before type errors", func(t *testing.T) {
		record := validRecord()
		delete(record, "voltage")
		record["current"] = "bad"

		_, err := contract.Validate(record)
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError, got %v", err)
		}
	})

	t.Run("power_factor range not enforced", func(t *testing.T) {
		record := validRecord()
		record["power_factor"] = 1.7

		vec, err := contract.Validate(record)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if vec.PowerFactor != 1.7 {
			t.Errorf("PowerFactor = %v, want 1.7", vec.PowerFactor)
		}
	})

	t.Run("record not modified", func(t *testing.T) {
		record := validRecord()
		record["extra"] = "kept"
		if _, err := contract.Validate(record); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if len(record) != 7 {
			t.Errorf("record has %d keys after Validate, want 7", len(record))
		}
		if record["voltage"] != 235.2 {
			t.Errorf("voltage changed to %v", record["voltage"])
		}
	})
}

func TestContract_Aliases(t *testing.T) {
	contract, err := NewContract(WithAliases(map[string]string{
		"pf":    "power_factor",
		"power": "active_power",
	}))
	if err != nil {
		t.Fatalf("NewContract failed: %v", err)
	}

	t.Run("alias satisfies required field", func(t *testing.T) {
		record := validRecord()
		delete(record, "power_factor")
		delete(record, "active_power")
		record["pf"] = 0.95
		record["power"] = 990.0

		vec, err := contract.Validate(record)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if vec.PowerFactor != 0.95 {
			t.Errorf("PowerFactor = %v, want 0.95", vec.PowerFactor)
		}
		if vec.ActivePower != 990.0 {
			t.Errorf("ActivePower = %v, want 990.0", vec.ActivePower)
		}
	})

	t.Run("canonical key wins over alias", func(t *testing.T) {
		record := validRecord()
		record["pf"] = 0.11

		vec, err := contract.Validate(record)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if vec.PowerFactor != 0.89 {
			t.Errorf("PowerFactor = %v, want canonical 0.89", vec.PowerFactor)
		}
	})

	t.Run("lexically first alias wins", func(t *testing.T) {
		c, err := NewContract(WithAliases(map[string]string{
			"pf":     "power_factor",
			"cosphi": "power_factor",
		}))
		if err != nil {
			t.Fatalf("NewContract failed: %v", err)
		}
		record := validRecord()
		delete(record, "power_factor")
		record["pf"] = 0.91
		record["cosphi"] = 0.92

		vec, err := c.Validate(record)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if vec.PowerFactor != 0.92 {
			t.Errorf("PowerFactor = %v, want 0.92 from alias %q", vec.PowerFactor, "cosphi")
		}
	})

	t.Run("no fuzzy matching", func(t *testing.T) {
		record := validRecord()
		delete(record, "power_factor")
		record["powerfactor"] = 0.9

		_, err := contract.Validate(record)
		var missErr *MissingError
		if !errors.As(err, &missErr) {
			t.Fatalf("expected *MissingError for unregistered shorthand, got %v", err)
		}
	})

	t.Run("alias to unknown field rejected", func(t *testing.T) {
		_, err := NewContract(WithAliases(map[string]string{"freq": "frequency"}))
		if err == nil {
			t.Error("expected error for alias targeting unknown field")
		}
	})

	t.Run("alias shadowing canonical name rejected", func(t *testing.T) {
		_, err := NewContract(WithAliases(map[string]string{"voltage": "current"}))
		if err == nil {
			t.Error("expected error for alias shadowing canonical field")
		}
	})
}

func TestMissingError_Message(t *testing.T) {
	err := &MissingError{Missing: []string{"current", "voltage"}}
	want := "missing required feature fields: current, voltage"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTypeError_Message(t *testing.T) {
	err := &TypeError{Field: "voltage", Value: "abc"}
	if err.Error() == "" {
		t.Error("Error() returned empty string")
	}
}
