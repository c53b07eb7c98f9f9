package state

import (
	"fmt"
	"math"
)

// ActionKind names an inbound client action. The names match the
// messages panels send over the realtime channel.
type ActionKind string

// Client actions.
const (
	ActionToggle ActionKind = "toggle_change"
	ActionButton ActionKind = "button_press"
	ActionSlider ActionKind = "slider_change"
	ActionReset  ActionKind = "reset"
)

// Action is one transport-agnostic client action.
//
// Value is a bool for toggles and a number for sliders. It is typed as any
// because it usually arrives straight from decoded JSON.
type Action struct {
	Kind  ActionKind `json:"kind"`
	ID    int        `json:"id"`
	Value any        `json:"value,omitempty"`
}

// Apply dispatches an action to the matching store operation.
func (s *Store) Apply(a Action) (DeviceState, error) {
	switch a.Kind {
	case ActionToggle:
		v, ok := a.Value.(bool)
		if !ok {
			return s.Snapshot(), fmt.Errorf("%w: toggle value must be a boolean, got %T", ErrInvalidAction, a.Value)
		}
		return s.SetToggle(a.ID, v)
	case ActionButton:
		return s.PressButton(a.ID)
	case ActionSlider:
		v, err := sliderValue(a.Value)
		if err != nil {
			return s.Snapshot(), err
		}
		return s.SetSlider(a.ID, v)
	case ActionReset:
		return s.ResetAll(), nil
	default:
		return s.Snapshot(), fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
}

// sliderValue converts a decoded slider value to an int. JSON numbers
// decode as float64, so integral floats are accepted; fractional ones and
// values beyond int range are rejected as out of range.
func sliderValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, &RangeError{Field: "slider value", Value: n, Min: SliderMin, Max: SliderMax}
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, &RangeError{Field: "slider value", Value: n, Min: SliderMin, Max: SliderMax}
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: slider value must be a number, got %T", ErrInvalidAction, v)
	}
}
