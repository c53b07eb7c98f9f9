package relay

import (
	"fmt"

	"github.com/nerrad567/controlbridge/internal/state"
)

// CommandType is the device-side name of a control command.
type CommandType string

// Command types understood by the device.
const (
	CommandToggle CommandType = "toggle"
	CommandButton CommandType = "button"
	CommandSlider CommandType = "slider"
)

// Command is the body posted to the device's /control endpoint.
type Command struct {
	Type CommandType `json:"type"`
	Data any         `json:"data"`
}

// ToggleData is the payload of a toggle command.
type ToggleData struct {
	ID    int  `json:"id"`
	Value bool `json:"value"`
}

// ButtonData is the payload of a button command.
type ButtonData struct {
	ID int `json:"id"`
}

// SliderData is the payload of a slider command.
type SliderData struct {
	ID    int `json:"id"`
	Value int `json:"value"`
}

// CommandFor derives the device command for a store change. Only toggles,
// presses and slider changes are relayed; releases, resets, telemetry and
// reachability changes report false.
func CommandFor(c state.Change) (Command, bool) {
	switch c.Op {
	case state.OpToggle:
		return Command{Type: CommandToggle, Data: ToggleData{ID: c.ID, Value: c.State.Toggles[c.ID]}}, true
	case state.OpPress:
		return Command{Type: CommandButton, Data: ButtonData{ID: c.ID}}, true
	case state.OpSlider:
		return Command{Type: CommandSlider, Data: SliderData{ID: c.ID, Value: c.State.Sliders[c.ID]}}, true
	default:
		return Command{}, false
	}
}

// key identifies the control a command targets. Dispatches with the same key
// are serialized and coalesced.
func (c Command) key() string {
	switch d := c.Data.(type) {
	case ToggleData:
		return fmt.Sprintf("%s/%d", c.Type, d.ID)
	case ButtonData:
		return fmt.Sprintf("%s/%d", c.Type, d.ID)
	case SliderData:
		return fmt.Sprintf("%s/%d", c.Type, d.ID)
	default:
		return string(c.Type)
	}
}
