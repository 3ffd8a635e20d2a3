// Package device decodes classifier labels into named appliance ON/OFF
// states. The label table is loaded from the model artifact so the decoder
// and the classifier's label space always originate from the same training
// run; a decoder is immutable after construction and safe for concurrent use.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StateSet maps device name to ON/OFF. Every set produced by a Decoder
// contains an entry for every known device, OFF devices included.
type StateSet map[string]bool

// On returns the names of devices that are ON, sorted.
func (s StateSet) On() []string {
	var on []string
	for name, active := range s {
		if active {
			on = append(on, name)
		}
	}
	sort.Strings(on)
	return on
}

// Entry is one decoded slot of a probability vector.
type Entry struct {
	Label       int      `json:"label"`
	Probability float64  `json:"probability"`
	States      StateSet `json:"device_states"`
}

// Decoder maps integer classifier labels to device StateSets.
type Decoder struct {
	devices []string         // sorted device names
	table   map[int][]string // label -> ON devices
}

// NewDecoder builds a Decoder from the artifact's device list and label
// table. The table maps each label to the devices that are ON for it; the
// label space must be total (labels 0..N-1 all present, label 0 included as
// a first-class entry) and injective (no two labels share a state set).
func NewDecoder(devices []string, table map[int][]string) (*Decoder, error) {
	if len(devices) == 0 {
		return nil, errors.New("device list is empty")
	}
	known := make(map[string]bool, len(devices))
	for _, name := range devices {
		if name == "" {
			return nil, errors.New("device name is empty")
		}
		if known[name] {
			return nil, fmt.Errorf("duplicate device %q", name)
		}
		known[name] = true
	}

	if len(table) == 0 {
		return nil, errors.New("label table is empty")
	}
	// Map keys are unique, so N in-range labels cover exactly 0..N-1.
	for label := range table {
		if label < 0 || label >= len(table) {
			return nil, fmt.Errorf("label table not total: label %d outside 0..%d", label, len(table)-1)
		}
	}

	seen := make(map[string]int, len(table))
	for label := 0; label < len(table); label++ {
		on := table[label]
		for _, name := range on {
			if !known[name] {
				return nil, fmt.Errorf("label %d names unknown device %q", label, name)
			}
		}
		key := stateKey(on)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("labels %d and %d map to the same device states", prev, label)
		}
		seen[key] = label
	}

	sorted := make([]string, len(devices))
	copy(sorted, devices)
	sort.Strings(sorted)

	copied := make(map[int][]string, len(table))
	for label, on := range table {
		copied[label] = append([]string(nil), on...)
	}
	return &Decoder{devices: sorted, table: copied}, nil
}

// Devices returns the known device names, sorted. The returned slice is a
// copy and safe to modify.
func (d *Decoder) Devices() []string {
	devices := make([]string, len(d.devices))
	copy(devices, d.devices)
	return devices
}

// NumLabels returns the size of the label space.
func (d *Decoder) NumLabels() int {
	return len(d.table)
}

// Decode returns the StateSet for a label, or *UnknownLabelError if the
// label is outside the table. Every known device appears in the result.
// The returned map is a fresh copy on every call.
func (d *Decoder) Decode(label int) (StateSet, error) {
	on, ok := d.table[label]
	if !ok {
		return nil, &UnknownLabelError{Label: label}
	}
	states := make(StateSet, len(d.devices))
	for _, name := range d.devices {
		states[name] = false
	}
	for _, name := range on {
		states[name] = true
	}
	return states, nil
}

// DecodeAll decodes every label in a probability vector into Entries sorted
// descending by probability, ascending label as tie-break. An unknown label
// does not abort decoding: all valid entries are returned alongside an error
// identifying the offending label(s), joined in ascending label order so
// errors.As still surfaces an *UnknownLabelError.
func (d *Decoder) DecodeAll(probs map[int]float64) ([]Entry, error) {
	entries := make([]Entry, 0, len(probs))
	var unknown []int
	for label, prob := range probs {
		states, err := d.Decode(label)
		if err != nil {
			unknown = append(unknown, label)
			continue
		}
		entries = append(entries, Entry{Label: label, Probability: prob, States: states})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Probability != entries[j].Probability {
			return entries[i].Probability > entries[j].Probability
		}
		return entries[i].Label < entries[j].Label
	})

	if len(unknown) > 0 {
		sort.Ints(unknown)
		errs := make([]error, len(unknown))
		for i, label := range unknown {
			errs[i] = &UnknownLabelError{Label: label}
		}
		return entries, errors.Join(errs...)
	}
	return entries, nil
}

// stateKey builds a canonical identity for an ON set so injectivity checks
// ignore declaration order.
func stateKey(on []string) string {
	sorted := append([]string(nil), on...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
