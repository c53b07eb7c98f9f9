package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/controlbridge/internal/state"
)

// fakeDevice records requests made to an httptest server.
type fakeDevice struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method    string
	Path      string
	RequestID string
	Body      []byte
}

func (d *fakeDevice) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		d.mu.Lock()
		d.requests = append(d.requests, recordedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: r.Header.Get(requestIDHeader),
			Body:      data,
		})
		d.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (d *fakeDevice) snapshot() []recordedRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedRequest(nil), d.requests...)
}

func targetFor(t *testing.T, rawURL string, timeoutMS int) Target {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return Target{Host: host, Port: port, TimeoutMS: timeoutMS}
}

// deadTarget returns a target on a local port with nothing listening.
func deadTarget(t *testing.T) Target {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return Target{Host: "127.0.0.1", Port: port, TimeoutMS: 200}
}

func newRelay(t *testing.T, store *state.Store, target Target, maxInFlight int) *Relay {
	t.Helper()
	r, err := New(store, target, maxInFlight)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestNew_InvalidTarget(t *testing.T) {
	_, err := New(state.NewStore(), Target{Host: "", Port: 80, TimeoutMS: 1000}, 1)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("New() error = %v, want ErrInvalidTarget", err)
	}
}

func TestDispatch_PostsControlCommand(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusOK, `{"ok":true}`))
	defer srv.Close()

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), 2)
	r.Attach()

	snap, err := store.SetSlider(2, 55)
	if err != nil {
		t.Fatalf("SetSlider() error = %v", err)
	}
	if snap.Sliders[2] != 55 {
		t.Fatalf("Sliders[2] = %d, want 55", snap.Sliders[2])
	}

	if !waitFor(t, 2*time.Second, func() bool { return store.Snapshot().DeviceReachable }) {
		t.Fatal("device never marked reachable")
	}

	reqs := dev.snapshot()
	if len(reqs) != 1 {
		t.Fatalf("device got %d requests, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Method != http.MethodPost || got.Path != "/control" {
		t.Errorf("request = %s %s, want POST /control", got.Method, got.Path)
	}
	if got.RequestID == "" {
		t.Error("missing request id header")
	}

	var body struct {
		Type string     `json:"type"`
		Data SliderData `json:"data"`
	}
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Type != "slider" || body.Data != (SliderData{ID: 2, Value: 55}) {
		t.Errorf("body = %+v, want slider {2 55}", body)
	}
}

func TestUnreachableDevice_MutationStillSucceeds(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusOK, "pong"))
	defer srv.Close()

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), 2)
	r.Attach()

	if _, err := r.TestConnectivity(context.Background()); err != nil {
		t.Fatalf("TestConnectivity() error = %v", err)
	}
	if !store.Snapshot().DeviceReachable {
		t.Fatal("DeviceReachable = false after successful ping")
	}

	dead := deadTarget(t)
	if _, err := r.SetTarget(TargetPatch{Port: &dead.Port}); err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}

	snap, err := store.SetToggle(0, true)
	if err != nil {
		t.Fatalf("SetToggle() error = %v", err)
	}
	if !snap.Toggles[0] {
		t.Error("Toggles[0] = false in returned snapshot")
	}

	if !waitFor(t, 2*time.Second, func() bool { return !store.Snapshot().DeviceReachable }) {
		t.Error("DeviceReachable still true after failed relay")
	}
	if !store.Snapshot().Toggles[0] {
		t.Error("failed relay rolled back the toggle")
	}
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	store := state.NewStore()
	store.SetReachable(true)
	r := newRelay(t, store, targetFor(t, srv.URL, 30), 1)

	start := time.Now()
	_, err := r.Send(context.Background(), Command{Type: CommandButton, Data: ButtonData{ID: 1}})
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("Send() error = %v, want ErrDeviceUnreachable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send() took %v, timeout not enforced", elapsed)
	}
	if store.Snapshot().DeviceReachable {
		t.Error("DeviceReachable = true after timeout")
	}
}

func TestSend_NonSuccessStatus(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusInternalServerError, "boom"))
	defer srv.Close()

	store := state.NewStore()
	store.SetReachable(true)
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), 1)

	_, err := r.Send(context.Background(), Command{Type: CommandToggle, Data: ToggleData{ID: 0, Value: true}})
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("Send() error = %v, want ErrDeviceUnreachable", err)
	}
	if store.Snapshot().DeviceReachable {
		t.Error("DeviceReachable = true after 500 response")
	}
	if n := len(dev.snapshot()); n != 1 {
		t.Errorf("device got %d requests, want exactly 1 (no retry)", n)
	}
}

func TestFetchStatus_ReturnsBody(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusOK, `{"uptime":42}`))
	defer srv.Close()

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), 1)

	body, err := r.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if string(body) != `{"uptime":42}` {
		t.Errorf("FetchStatus() = %s", body)
	}
	reqs := dev.snapshot()
	if len(reqs) != 1 || reqs[0].Method != http.MethodGet || reqs[0].Path != "/status" {
		t.Errorf("requests = %+v, want one GET /status", reqs)
	}
	if !store.Snapshot().DeviceReachable {
		t.Error("DeviceReachable = false after successful status fetch")
	}
}

func TestTestConnectivity_UsesPing(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusOK, "pong"))
	defer srv.Close()

	r := newRelay(t, state.NewStore(), targetFor(t, srv.URL, 1000), 1)
	if _, err := r.TestConnectivity(context.Background()); err != nil {
		t.Fatalf("TestConnectivity() error = %v", err)
	}
	reqs := dev.snapshot()
	if len(reqs) != 1 || reqs[0].Method != http.MethodGet || reqs[0].Path != "/ping" || len(reqs[0].Body) != 0 {
		t.Errorf("requests = %+v, want one bodiless GET /ping", reqs)
	}
}

func TestObserve_SkipsNonCommandChanges(t *testing.T) {
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev.handler(http.StatusOK, "{}"))
	defer srv.Close()

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), 1)
	r.Attach()

	_, _ = store.ReleaseButton(0)
	store.ResetAll()
	_, _ = store.ApplyTelemetry(state.Telemetry{})
	store.SetReachable(true)

	_ = r.Close()
	if n := len(dev.snapshot()); n != 0 {
		t.Errorf("device got %d requests, want 0", n)
	}
}

func TestDispatch_BoundedInFlight(t *testing.T) {
	var inFlight, peak, total atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		total.Add(1)
	}))
	defer srv.Close()

	r := newRelay(t, state.NewStore(), targetFor(t, srv.URL, 1000), 2)
	for i := 0; i < state.NumButtons; i++ {
		r.Dispatch(Command{Type: CommandButton, Data: ButtonData{ID: i}})
		r.Dispatch(Command{Type: CommandSlider, Data: SliderData{ID: i, Value: i}})
	}

	want := int32(2 * state.NumButtons)
	if !waitFor(t, 3*time.Second, func() bool { return total.Load() == want }) {
		t.Fatalf("device handled %d commands, want %d", total.Load(), want)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", p)
	}
}

func TestDispatch_CoalescesWhileDeviceHangs(t *testing.T) {
	var controls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/control":
			controls.Add(1)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer srv.Close()
	defer close(release)

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 200), 4)
	r.Attach()

	for v := 0; v <= 100; v++ {
		if _, err := store.SetSlider(0, v); err != nil {
			t.Fatalf("SetSlider(%d) error = %v", v, err)
		}
	}

	r.mu.Lock()
	pending, workers := len(r.pending), len(r.active)
	r.mu.Unlock()
	if pending > 1 || workers != 1 {
		t.Errorf("pending = %d, workers = %d, want <= 1 and 1", pending, workers)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if _, err := r.TestConnectivity(ctx); err != nil {
		t.Fatalf("TestConnectivity() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("TestConnectivity() took %v behind the dispatch backlog", elapsed)
	}
	if !store.Snapshot().DeviceReachable {
		t.Error("connectivity check did not mark device reachable")
	}
	if _, err := r.FetchStatus(ctx); err != nil {
		t.Errorf("FetchStatus() error = %v", err)
	}

	// The first command times out, then only the latest value is sent.
	time.Sleep(700 * time.Millisecond)
	if n := controls.Load(); n < 1 || n > 2 {
		t.Errorf("device got %d control commands, want 1 or 2", n)
	}
}

func TestDispatch_DeviceEndsOnLatestValue(t *testing.T) {
	var (
		mu       sync.Mutex
		last     = -1
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)

		var cmd struct {
			Data SliderData `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&cmd)
		time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)

		mu.Lock()
		last = cmd.Data.Value
		mu.Unlock()
	}))
	defer srv.Close()

	store := state.NewStore()
	r := newRelay(t, store, targetFor(t, srv.URL, 1000), DefaultMaxInFlight)
	r.Attach()

	for v := 0; v <= 50; v++ {
		if _, err := store.SetSlider(0, v); err != nil {
			t.Fatalf("SetSlider(%d) error = %v", v, err)
		}
		time.Sleep(time.Millisecond)
	}

	applied := func() int {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
	if !waitFor(t, 3*time.Second, func() bool { return applied() == 50 }) {
		t.Fatalf("device last applied %d, want 50", applied())
	}
	_ = r.Close()

	if got := applied(); got != store.Snapshot().Sliders[0] {
		t.Errorf("device applied %d, store holds %d", got, store.Snapshot().Sliders[0])
	}
	if overlap.Load() {
		t.Error("two commands for the same slider were on the wire at once")
	}
}

func TestCommandKey(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{Type: CommandToggle, Data: ToggleData{ID: 1, Value: true}}, "toggle/1"},
		{Command{Type: CommandButton, Data: ButtonData{ID: 3}}, "button/3"},
		{Command{Type: CommandSlider, Data: SliderData{ID: 0, Value: 9}}, "slider/0"},
		{Command{Type: "reboot"}, "reboot"},
	}
	for _, tt := range tests {
		if got := tt.cmd.key(); got != tt.want {
			t.Errorf("key(%+v) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestRecord_StaleOutcomeIgnored(t *testing.T) {
	store := state.NewStore()
	r := newRelay(t, store, Target{Host: "127.0.0.1", Port: 80, TimeoutMS: 100}, 1)

	older := r.nextSeq()
	newer := r.nextSeq()

	r.record(newer, nil)
	r.record(older, ErrDeviceUnreachable)

	if !store.Snapshot().DeviceReachable {
		t.Error("older failure overwrote newer success")
	}
}

func TestSetTarget(t *testing.T) {
	r := newRelay(t, state.NewStore(), Target{Host: "192.168.1.100", Port: 80, TimeoutMS: 5000}, 1)

	host := "10.0.0.5"
	got, err := r.SetTarget(TargetPatch{Host: &host})
	if err != nil {
		t.Fatalf("SetTarget() error = %v", err)
	}
	want := Target{Host: "10.0.0.5", Port: 80, TimeoutMS: 5000}
	if got != want || r.Target() != want {
		t.Errorf("target = %+v, want %+v", r.Target(), want)
	}
	if r.Target().BaseURL() != "http://10.0.0.5:80" {
		t.Errorf("BaseURL() = %q", r.Target().BaseURL())
	}

	bad := 0
	if _, err := r.SetTarget(TargetPatch{Host: &host, TimeoutMS: &bad}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("SetTarget(timeout 0) error = %v, want ErrInvalidTarget", err)
	}
	if r.Target() != want {
		t.Errorf("rejected patch changed target to %+v", r.Target())
	}
}

func TestClose_RejectsCalls(t *testing.T) {
	r := newRelay(t, state.NewStore(), Target{Host: "127.0.0.1", Port: 80, TimeoutMS: 100}, 1)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := r.Send(context.Background(), Command{Type: CommandButton, Data: ButtonData{}}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
	// Dispatch after Close is silently dropped.
	r.Dispatch(Command{Type: CommandButton, Data: ButtonData{}})
}
