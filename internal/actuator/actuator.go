package actuator

import (
	"sync"
	"time"

	"github.com/nerrad567/controlbridge/internal/state"
)

// DefaultDelay is the momentary press duration used when none is configured.
const DefaultDelay = 100 * time.Millisecond

// Logger defines the logging interface used by the Actuator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Actuator releases pressed buttons after a fixed delay.
//
// Thread Safety: All methods are safe for concurrent use.
type Actuator struct {
	store *state.Store
	delay time.Duration

	mu      sync.Mutex
	pending [state.NumButtons]*time.Timer
	closed  bool
	wg      sync.WaitGroup

	logger Logger
}

// New creates an actuator for store. A non-positive delay selects DefaultDelay.
// Call Attach to start observing presses.
func New(store *state.Store, delay time.Duration) *Actuator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Actuator{
		store:  store,
		delay:  delay,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the actuator.
func (a *Actuator) SetLogger(logger Logger) {
	a.logger = logger
}

// Delay returns the configured press duration.
func (a *Actuator) Delay() time.Duration {
	return a.delay
}

// Attach subscribes the actuator to the store. Call it once.
func (a *Actuator) Attach() {
	a.store.Subscribe(a.observe)
}

// observe runs under the store lock and must not call back into the store.
func (a *Actuator) observe(c state.Change) {
	if c.Op != state.OpPress {
		return
	}
	a.schedule(c.ID, c.Seq)
}

func (a *Actuator) schedule(id int, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if t := a.pending[id]; t != nil {
		t.Stop()
	}
	a.pending[id] = time.AfterFunc(a.delay, func() { a.fire(id, seq) })
}

func (a *Actuator) fire(id int, seq uint64) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	// A timer stopped too late to prevent firing still carries an old seq,
	// which the store ignores.
	_, released, err := a.store.ReleasePress(id, seq)
	if err != nil {
		a.logger.Warn("momentary release failed", "button", id, "error", err)
		return
	}
	if released {
		a.logger.Debug("button released", "button", id)
	}
}

// Close cancels pending releases and waits for running ones. Releases that
// fire afterwards are no-ops. Buttons still pressed stay pressed.
func (a *Actuator) Close() {
	a.mu.Lock()
	a.closed = true
	for i, t := range a.pending {
		if t != nil {
			t.Stop()
			a.pending[i] = nil
		}
	}
	a.mu.Unlock()

	a.wg.Wait()
}
