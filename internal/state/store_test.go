package state

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore()
	got := s.Snapshot()

	if got != (DeviceState{}) {
		t.Errorf("NewStore() state = %+v, want zero value", got)
	}
}

func TestSetToggle(t *testing.T) {
	for id := 0; id < NumToggles; id++ {
		for _, value := range []bool{true, false} {
			s := NewStore()
			snap, err := s.SetToggle(id, value)
			if err != nil {
				t.Fatalf("SetToggle(%d, %v) error = %v", id, value, err)
			}
			if snap.Toggles[id] != value {
				t.Errorf("returned Toggles[%d] = %v, want %v", id, snap.Toggles[id], value)
			}
			if got := s.Snapshot().Toggles[id]; got != value {
				t.Errorf("Snapshot().Toggles[%d] = %v, want %v", id, got, value)
			}
			if snap.LastUpdate.IsZero() {
				t.Error("LastUpdate not set")
			}
		}
	}
}

func TestInvalidIDs_LeaveStateUnchanged(t *testing.T) {
	ids := []int{-1, 4, 5, 100}

	tests := []struct {
		name string
		op   func(s *Store, id int) error
	}{
		{"toggle", func(s *Store, id int) error { _, err := s.SetToggle(id, true); return err }},
		{"button", func(s *Store, id int) error { _, err := s.PressButton(id); return err }},
		{"release", func(s *Store, id int) error { _, err := s.ReleaseButton(id); return err }},
		{"slider", func(s *Store, id int) error { _, err := s.SetSlider(id, 50); return err }},
	}

	for _, tt := range tests {
		for _, id := range ids {
			s := NewStore()
			if _, err := s.SetSlider(1, 10); err != nil {
				t.Fatalf("seed SetSlider: %v", err)
			}
			before := s.Snapshot()

			notified := false
			s.Subscribe(func(Change) { notified = true })

			err := tt.op(s, id)
			if !errors.Is(err, ErrOutOfRange) {
				t.Errorf("%s(%d) error = %v, want ErrOutOfRange", tt.name, id, err)
			}
			var rangeErr *RangeError
			if !errors.As(err, &rangeErr) {
				t.Errorf("%s(%d) error is not a *RangeError", tt.name, id)
			}
			if after := s.Snapshot(); after != before {
				t.Errorf("%s(%d) changed state: %+v -> %+v", tt.name, id, before, after)
			}
			if notified {
				t.Errorf("%s(%d) emitted a change notification", tt.name, id)
			}
		}
	}
}

func TestSetSlider(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		wantErr bool
	}{
		{"minimum", 0, false},
		{"middle", 55, false},
		{"maximum", 100, false},
		{"below range", -1, true},
		{"above range", 101, true},
		{"far above range", 1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			snap, err := s.SetSlider(2, tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Fatalf("SetSlider(2, %d) error = %v, want ErrOutOfRange", tt.value, err)
				}
				if s.Snapshot().Sliders[2] != 0 {
					t.Errorf("rejected slider value was applied")
				}
				return
			}
			if err != nil {
				t.Fatalf("SetSlider(2, %d) error = %v", tt.value, err)
			}
			if snap.Sliders[2] != tt.value {
				t.Errorf("Sliders[2] = %d, want %d", snap.Sliders[2], tt.value)
			}
		})
	}
}

func TestRangeError_Message(t *testing.T) {
	s := NewStore()
	_, err := s.SetSlider(0, 150)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "state: out of range: slider value 150 not in [0, 100]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPressAndReleaseButton(t *testing.T) {
	s := NewStore()

	snap, err := s.PressButton(3)
	if err != nil {
		t.Fatalf("PressButton() error = %v", err)
	}
	if !snap.Buttons[3] {
		t.Error("Buttons[3] = false after press")
	}

	snap, err = s.ReleaseButton(3)
	if err != nil {
		t.Fatalf("ReleaseButton() error = %v", err)
	}
	if snap.Buttons[3] {
		t.Error("Buttons[3] = true after release")
	}
}

func TestReleasePress_OnlyLatestPress(t *testing.T) {
	s := NewStore()

	var seqs []uint64
	s.Subscribe(func(c Change) {
		if c.Op == OpPress {
			seqs = append(seqs, c.Seq)
		}
	})

	_, _ = s.PressButton(0)
	_, _ = s.PressButton(0)
	if len(seqs) != 2 || seqs[0] == seqs[1] {
		t.Fatalf("press sequences = %v, want two distinct values", seqs)
	}

	snap, released, err := s.ReleasePress(0, seqs[0])
	if err != nil {
		t.Fatalf("ReleasePress() error = %v", err)
	}
	if released || !snap.Buttons[0] {
		t.Error("stale release cleared a newer press")
	}

	snap, released, err = s.ReleasePress(0, seqs[1])
	if err != nil {
		t.Fatalf("ReleasePress() error = %v", err)
	}
	if !released || snap.Buttons[0] {
		t.Error("latest release did not clear the button")
	}

	if _, _, err := s.ReleasePress(9, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReleasePress(9) error = %v, want ErrOutOfRange", err)
	}
}

func TestConcurrentToggles_NoLostUpdates(t *testing.T) {
	s := NewStore()

	const callersPerToggle = 25
	var wg sync.WaitGroup
	for id := 0; id < NumToggles; id++ {
		for i := 0; i < callersPerToggle; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				if _, err := s.SetToggle(id, true); err != nil {
					t.Errorf("SetToggle(%d) error = %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	want := [NumToggles]bool{true, true, true, true}
	if got := s.Snapshot().Toggles; got != want {
		t.Errorf("Toggles = %v, want %v", got, want)
	}
}

func TestConcurrentMixedMutations(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for id := 0; id < NumSliders; id++ {
		wg.Add(3)
		go func(id int) {
			defer wg.Done()
			_, _ = s.SetSlider(id, 10*(id+1))
		}(id)
		go func(id int) {
			defer wg.Done()
			_, _ = s.SetToggle(id, id%2 == 0)
		}(id)
		go func() {
			defer wg.Done()
			_, _ = s.ApplyTelemetry(Telemetry{Gauges: [NumGauges]float64{1, 2}})
		}()
	}
	wg.Wait()

	got := s.Snapshot()
	if got.Sliders != [NumSliders]int{10, 20, 30, 40} {
		t.Errorf("Sliders = %v", got.Sliders)
	}
	if got.Toggles != [NumToggles]bool{true, false, true, false} {
		t.Errorf("Toggles = %v", got.Toggles)
	}
}

func TestResetAll(t *testing.T) {
	s := NewStore()
	for i := 0; i < NumToggles; i++ {
		_, _ = s.SetToggle(i, true)
		_, _ = s.PressButton(i)
		_, _ = s.SetSlider(i, 70)
	}
	_, _ = s.ApplyTelemetry(Telemetry{
		Gauges:    [NumGauges]float64{12.5, 88},
		Variables: Variables{Count: 7, Reading: 3.25},
	})
	s.SetReachable(true)
	before := s.Snapshot()

	got := s.ResetAll()

	if got.Toggles != [NumToggles]bool{} {
		t.Errorf("Toggles = %v, want all false", got.Toggles)
	}
	if got.Buttons != [NumButtons]bool{} {
		t.Errorf("Buttons = %v, want all false", got.Buttons)
	}
	if got.Sliders != [NumSliders]int{} {
		t.Errorf("Sliders = %v, want all 0", got.Sliders)
	}
	if got.Gauges != before.Gauges {
		t.Errorf("Gauges changed: %v -> %v", before.Gauges, got.Gauges)
	}
	if got.Variables != before.Variables {
		t.Errorf("Variables changed: %v -> %v", before.Variables, got.Variables)
	}
	if !got.DeviceReachable {
		t.Error("DeviceReachable changed by ResetAll")
	}
	if got.LastUpdate.Before(before.LastUpdate) {
		t.Error("LastUpdate moved backwards")
	}
}

func TestApplyTelemetry_LampsMirrorToggles(t *testing.T) {
	s := NewStore()
	_, _ = s.SetToggle(0, true)
	_, _ = s.SetToggle(2, true)
	_, _ = s.SetSlider(1, 42)
	_, _ = s.PressButton(1)
	before := s.Snapshot()

	got, err := s.ApplyTelemetry(Telemetry{
		Gauges:    [NumGauges]float64{33.3, 66.6},
		Variables: Variables{Count: 512, Reading: 23.75},
	})
	if err != nil {
		t.Fatalf("ApplyTelemetry() error = %v", err)
	}

	if got.Lamps != [NumLamps]bool{true, false, true, false} {
		t.Errorf("Lamps = %v, want [true false true false]", got.Lamps)
	}
	if got.Toggles != before.Toggles || got.Buttons != before.Buttons || got.Sliders != before.Sliders {
		t.Error("telemetry tick mutated control fields")
	}
	if got.Gauges != [NumGauges]float64{33.3, 66.6} {
		t.Errorf("Gauges = %v", got.Gauges)
	}
	if got.Variables != (Variables{Count: 512, Reading: 23.75}) {
		t.Errorf("Variables = %+v", got.Variables)
	}
}

func TestApplyTelemetry_ExplicitLamps(t *testing.T) {
	s := NewStore()
	lamps := [NumLamps]bool{false, true, false, true}

	got, err := s.ApplyTelemetry(Telemetry{Lamps: &lamps})
	if err != nil {
		t.Fatalf("ApplyTelemetry() error = %v", err)
	}
	if got.Lamps != lamps {
		t.Errorf("Lamps = %v, want %v", got.Lamps, lamps)
	}
}

func TestApplyTelemetry_RejectsOutOfRangeGauge(t *testing.T) {
	s := NewStore()
	before := s.Snapshot()

	_, err := s.ApplyTelemetry(Telemetry{Gauges: [NumGauges]float64{50, 100.5}})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("ApplyTelemetry() error = %v, want ErrOutOfRange", err)
	}
	if s.Snapshot() != before {
		t.Error("rejected telemetry changed state")
	}
}

func TestSetReachable(t *testing.T) {
	s := NewStore()
	_, _ = s.SetToggle(0, true)
	lastUpdate := s.Snapshot().LastUpdate

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.SetReachable(false) // unchanged, no notification
	got := s.SetReachable(true)

	if !got.DeviceReachable {
		t.Error("DeviceReachable = false, want true")
	}
	if !got.LastUpdate.Equal(lastUpdate) {
		t.Error("SetReachable advanced LastUpdate")
	}
	if len(changes) != 1 || changes[0].Op != OpReachability || changes[0].Value != true {
		t.Errorf("changes = %+v, want one reachability change", changes)
	}
}

func TestLastUpdate_Monotonic(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	i := 0
	s.now = func() time.Time {
		now := clock[i]
		i++
		return now
	}

	first, _ := s.SetToggle(0, true)
	second, _ := s.SetToggle(1, true) // clock went backwards
	third, _ := s.SetToggle(2, true)

	if !first.LastUpdate.Equal(base) {
		t.Errorf("first LastUpdate = %v, want %v", first.LastUpdate, base)
	}
	if !second.LastUpdate.Equal(base) {
		t.Errorf("second LastUpdate = %v, want unchanged %v", second.LastUpdate, base)
	}
	if !third.LastUpdate.Equal(base.Add(time.Second)) {
		t.Errorf("third LastUpdate = %v, want %v", third.LastUpdate, base.Add(time.Second))
	}
}

func TestSubscribe_ChangesInOrder(t *testing.T) {
	s := NewStore()

	var ops []Op
	s.Subscribe(func(c Change) { ops = append(ops, c.Op) })

	_, _ = s.SetToggle(0, true)
	_, _ = s.PressButton(1)
	_, _ = s.ReleaseButton(1)
	_, _ = s.SetSlider(2, 55)
	_, _ = s.ApplyTelemetry(Telemetry{})
	s.ResetAll()

	want := []Op{OpToggle, OpPress, OpRelease, OpSlider, OpTelemetry, OpReset}
	if len(ops) != len(want) {
		t.Fatalf("got %d changes, want %d: %v", len(ops), len(want), ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestSubscribe_ChangeCarriesSnapshot(t *testing.T) {
	s := NewStore()

	var got Change
	s.Subscribe(func(c Change) { got = c })

	_, _ = s.SetSlider(2, 55)

	if got.Op != OpSlider || got.ID != 2 || got.Value != 55 {
		t.Errorf("change = %+v, want slider 2 = 55", got)
	}
	if got.State.Sliders[2] != 55 {
		t.Errorf("change state Sliders[2] = %d, want 55", got.State.Sliders[2])
	}
}

func TestWithSnapshot(t *testing.T) {
	s := NewStore()
	_, _ = s.SetToggle(1, true)

	var seen DeviceState
	s.WithSnapshot(func(st DeviceState) { seen = st })

	if !seen.Toggles[1] {
		t.Error("WithSnapshot did not see current state")
	}
}

func TestOp_IsControl(t *testing.T) {
	control := []Op{OpToggle, OpPress, OpRelease, OpSlider, OpReset}
	for _, op := range control {
		if !op.IsControl() {
			t.Errorf("%s.IsControl() = false, want true", op)
		}
	}
	for _, op := range []Op{OpTelemetry, OpReachability} {
		if op.IsControl() {
			t.Errorf("%s.IsControl() = true, want false", op)
		}
	}
}
