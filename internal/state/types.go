package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fixed sequence lengths. They never change for the lifetime of the process.
const (
	NumToggles = 4
	NumButtons = 4
	NumSliders = 4
	NumLamps   = 4
	NumGauges  = 2
)

// Value domains.
const (
	SliderMin = 0
	SliderMax = 100
	GaugeMin  = 0.0
	GaugeMax  = 100.0
)

// DeviceState is one consistent snapshot of the device's values.
//
// All sequences are arrays, so assigning a DeviceState copies it completely.
type DeviceState struct {
	Toggles         [NumToggles]bool   `json:"toggles"`
	Buttons         [NumButtons]bool   `json:"buttons"`
	Sliders         [NumSliders]int    `json:"sliders"`
	Lamps           [NumLamps]bool     `json:"lamps"`
	Gauges          [NumGauges]float64 `json:"gauges"`
	Variables       Variables          `json:"variables"`
	LastUpdate      time.Time          `json:"last_update"`
	DeviceReachable bool               `json:"device_reachable"`
}

// Variables are the two free-running sensor readings: an integer counter
// and a decimal measurement. They have no enforced range.
//
// On the wire they are a two-element array, e.g. [512, 23.75].
type Variables struct {
	Count   int64
	Reading float64
}

// MarshalJSON encodes the variables as [count, reading].
func (v Variables) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{v.Count, v.Reading})
}

// UnmarshalJSON decodes a [count, reading] array.
func (v *Variables) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("variables: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("variables: want 2 values, got %d", len(raw))
	}
	count, err := raw[0].Int64()
	if err != nil {
		return fmt.Errorf("variables: count: %w", err)
	}
	reading, err := raw[1].Float64()
	if err != nil {
		return fmt.Errorf("variables: reading: %w", err)
	}
	v.Count, v.Reading = count, reading
	return nil
}

// Telemetry is one sensor sample applied by ApplyTelemetry.
type Telemetry struct {
	Gauges    [NumGauges]float64
	Variables Variables

	// Lamps, when nil, mirror the toggles as they stand when the sample is
	// applied. A real device source may report lamp states directly.
	Lamps *[NumLamps]bool
}

// Delta is the partial state pushed to clients on every telemetry tick.
type Delta struct {
	Gauges    [NumGauges]float64 `json:"gauges"`
	Variables Variables          `json:"variables"`
	Lamps     [NumLamps]bool     `json:"lamps"`
	Timestamp time.Time          `json:"timestamp"`
}

// Delta extracts the telemetry fields of the snapshot.
func (s DeviceState) Delta() Delta {
	return Delta{
		Gauges:    s.Gauges,
		Variables: s.Variables,
		Lamps:     s.Lamps,
		Timestamp: s.LastUpdate,
	}
}

// Op identifies which store operation produced a Change.
type Op string

// Store operations.
const (
	OpToggle       Op = "toggle"
	OpPress        Op = "button"
	OpRelease      Op = "button_release"
	OpSlider       Op = "slider"
	OpReset        Op = "reset"
	OpTelemetry    Op = "telemetry"
	OpReachability Op = "reachability"
)

// IsControl reports whether the operation changed control data
// (toggles, buttons or sliders). Control changes are broadcast as full state.
func (o Op) IsControl() bool {
	switch o {
	case OpToggle, OpPress, OpRelease, OpSlider, OpReset:
		return true
	default:
		return false
	}
}

// Change describes one applied mutation.
type Change struct {
	Op Op

	// ID is the toggle/button/slider index, or -1 when not applicable.
	ID int

	// Value is the new value for OpToggle (bool), OpSlider (int) and
	// OpReachability (bool); nil otherwise.
	Value any

	// Seq is the per-button press sequence for OpPress; zero otherwise.
	// Pass it to ReleasePress to release exactly this press.
	Seq uint64

	// State is the snapshot right after the mutation.
	State DeviceState
}

// Observer receives every applied Change. See the package documentation
// for the rules observers must follow.
type Observer func(Change)
