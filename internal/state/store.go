package state

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Store owns the process-wide DeviceState and serialises all access to it.
//
// All public methods are thread-safe.
type Store struct {
	mu        sync.Mutex
	state     DeviceState
	presses   [NumButtons]uint64 // sequence of the latest press per button
	observers []Observer
	now       func() time.Time
}

// NewStore creates a store holding the all-zero default state.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Subscribe registers an observer for every subsequent change.
// Observers cannot be removed; they live as long as the store.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WithSnapshot calls fn with the current state while holding the store's
// lock. No change notification can be emitted while fn runs, so fn can
// register a new observer target and send it a catch-up copy without
// racing a concurrent broadcast. fn must not call back into the Store.
func (s *Store) WithSnapshot(fn func(DeviceState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// SetToggle sets toggles[id] and returns the resulting snapshot.
func (s *Store) SetToggle(id int, value bool) (DeviceState, error) {
	if err := checkIndex("toggle id", id, NumToggles); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Toggles[id] = value
	s.touch()
	s.emit(OpToggle, id, value)
	return s.state, nil
}

// PressButton sets buttons[id] to true and returns the resulting snapshot.
// Observers (the momentary actuator) schedule the matching release.
func (s *Store) PressButton(id int) (DeviceState, error) {
	if err := checkIndex("button id", id, NumButtons); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Buttons[id] = true
	s.presses[id]++
	s.touch()
	s.emitChange(Change{Op: OpPress, ID: id, Seq: s.presses[id], State: s.state})
	return s.state, nil
}

// ReleaseButton sets buttons[id] back to false unconditionally.
func (s *Store) ReleaseButton(id int) (DeviceState, error) {
	if err := checkIndex("button id", id, NumButtons); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.release(id)
	return s.state, nil
}

// ReleasePress releases buttons[id] only if seq is still the latest press of
// that button. A release scheduled for an earlier press is a no-op, so a
// re-pressed button stays true until the release of its last press.
// The bool reports whether the release was applied.
func (s *Store) ReleasePress(id int, seq uint64) (DeviceState, bool, error) {
	if err := checkIndex("button id", id, NumButtons); err != nil {
		return s.Snapshot(), false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.presses[id] != seq {
		return s.state, false, nil
	}
	s.release(id)
	return s.state, true, nil
}

// release clears a button. Caller must hold s.mu.
func (s *Store) release(id int) {
	s.state.Buttons[id] = false
	s.touch()
	s.emit(OpRelease, id, nil)
}

// SetSlider sets sliders[id] to value, which must be within [0, 100].
func (s *Store) SetSlider(id, value int) (DeviceState, error) {
	if err := checkIndex("slider id", id, NumSliders); err != nil {
		return s.Snapshot(), err
	}
	if value < SliderMin || value > SliderMax {
		return s.Snapshot(), &RangeError{Field: "slider value", Value: value, Min: SliderMin, Max: SliderMax}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Sliders[id] = value
	s.touch()
	s.emit(OpSlider, id, value)
	return s.state, nil
}

// ApplyTelemetry overwrites gauges, variables and lamps from one sensor
// sample. When t.Lamps is nil the lamps copy the toggles under the same
// lock, so they always mirror the toggles at tick time.
func (s *Store) ApplyTelemetry(t Telemetry) (DeviceState, error) {
	for i, g := range t.Gauges {
		if math.IsNaN(g) || g < GaugeMin || g > GaugeMax {
			return s.Snapshot(), &RangeError{Field: fmt.Sprintf("gauge %d value", i), Value: g, Min: GaugeMin, Max: GaugeMax}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Gauges = t.Gauges
	s.state.Variables = t.Variables
	if t.Lamps != nil {
		s.state.Lamps = *t.Lamps
	} else {
		s.state.Lamps = s.state.Toggles
	}
	s.touch()
	s.emit(OpTelemetry, -1, nil)
	return s.state, nil
}

// SetReachable records the outcome of the latest device call.
//
// LastUpdate is left alone: it tracks control and sensor data, and a
// reachability flip is bookkeeping about the device link. A notification is
// only emitted when the flag actually changes.
func (s *Store) SetReachable(reachable bool) DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.DeviceReachable == reachable {
		return s.state
	}
	s.state.DeviceReachable = reachable
	s.emit(OpReachability, -1, reachable)
	return s.state
}

// ResetAll restores toggles, buttons and sliders to their defaults.
// Gauges, variables, lamps and reachability are untouched.
func (s *Store) ResetAll() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Toggles = [NumToggles]bool{}
	s.state.Buttons = [NumButtons]bool{}
	s.state.Sliders = [NumSliders]int{}
	s.touch()
	s.emit(OpReset, -1, nil)
	return s.state
}

// touch advances LastUpdate. It never moves backwards, even if the wall
// clock does. Caller must hold s.mu.
func (s *Store) touch() {
	now := s.now()
	if now.After(s.state.LastUpdate) {
		s.state.LastUpdate = now
	}
}

// emit notifies observers. Caller must hold s.mu.
func (s *Store) emit(op Op, id int, value any) {
	s.emitChange(Change{Op: op, ID: id, Value: value, State: s.state})
}

func (s *Store) emitChange(c Change) {
	for _, o := range s.observers {
		o(c)
	}
}
