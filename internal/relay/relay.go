package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/controlbridge/internal/state"
)

const (
	// DefaultMaxInFlight bounds concurrent background dispatches when none is
	// configured.
	DefaultMaxInFlight = 4

	// maxResponseBytes caps how much of a device response is read.
	maxResponseBytes = 64 << 10

	requestIDHeader = "X-Request-ID"
)

// Logger defines the logging interface used by the Relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Relay sends control commands to the device and records reachability.
//
// Background dispatches are coalesced per control: each toggle, button or
// slider has at most one command on the wire and one pending, and a newer
// pending command replaces the older one. Explicit calls (Send,
// TestConnectivity, FetchStatus) bypass the dispatch slots.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Relay struct {
	store      *state.Store
	httpClient *http.Client
	sem        *semaphore.Weighted

	targetMu sync.RWMutex
	target   Target

	// attempts is the last sequence handed out. applied is the sequence of
	// the newest outcome written to the store. outcomeMu is taken before the
	// store lock, never after it.
	attempts  atomic.Uint64
	outcomeMu sync.Mutex
	applied   uint64

	// pending holds the latest undelivered command per control key. active
	// marks keys with a running worker.
	mu      sync.Mutex
	closed  bool
	pending map[string]Command
	active  map[string]bool
	wg      sync.WaitGroup

	// queueCtx is cancelled on Close so workers still waiting for a
	// dispatch slot are abandoned.
	queueCtx    context.Context
	queueCancel context.CancelFunc

	logger Logger
}

// New creates a relay for target. A non-positive maxInFlight selects
// DefaultMaxInFlight. Call Attach to start relaying store changes.
func New(store *state.Store, target Target, maxInFlight int) (*Relay, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		store:       store,
		httpClient:  &http.Client{},
		sem:         semaphore.NewWeighted(int64(maxInFlight)),
		target:      target,
		pending:     make(map[string]Command),
		active:      make(map[string]bool),
		queueCtx:    ctx,
		queueCancel: cancel,
		logger:      noopLogger{},
	}, nil
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Attach subscribes the relay to store changes. Call it once.
func (r *Relay) Attach() {
	r.store.Subscribe(r.observe)
}

// observe runs under the store lock. It only hands the command off.
func (r *Relay) observe(c state.Change) {
	cmd, ok := CommandFor(c)
	if !ok {
		return
	}
	r.Dispatch(cmd)
}

// Target returns the current device target.
func (r *Relay) Target() Target {
	r.targetMu.RLock()
	defer r.targetMu.RUnlock()
	return r.target
}

// SetTarget applies a partial target update and returns the new target.
// The update is rejected as a whole if the result is invalid.
func (r *Relay) SetTarget(patch TargetPatch) (Target, error) {
	r.targetMu.Lock()
	defer r.targetMu.Unlock()

	next := patch.apply(r.target)
	if err := next.Validate(); err != nil {
		return r.target, err
	}
	r.target = next
	return next, nil
}

// Dispatch sends cmd in the background. It never blocks on the network and
// never reports the outcome other than through the reachability flag. If a
// command for the same control is still waiting, cmd replaces it.
func (r *Relay) Dispatch(cmd Command) {
	key := cmd.key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, replaced := r.pending[key]; replaced {
		r.logger.Debug("relay dispatch coalesced", "key", key)
	}
	r.pending[key] = cmd
	if r.active[key] {
		return
	}
	r.active[key] = true
	r.wg.Add(1)
	go r.drain(key)
}

// drain delivers pending commands for key one at a time until none is left.
func (r *Relay) drain(key string) {
	defer r.wg.Done()

	for {
		cmd, ok := r.take(key)
		if !ok {
			return
		}

		if err := r.sem.Acquire(r.queueCtx, 1); err != nil {
			r.logger.Debug("relay dispatch abandoned", "key", key)
			r.finish(key)
			return
		}
		_, err := r.post(context.Background(), r.nextSeq(), cmd)
		r.sem.Release(1)

		if err != nil {
			r.logger.Warn("device command failed", "key", key, "error", err)
			continue
		}
		r.logger.Debug("device command sent", "key", key)
	}
}

// take pops the pending command for key. When there is none, or the relay
// is closed, the worker for key is retired.
func (r *Relay) take(key string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.pending[key]
	if !ok || r.closed {
		delete(r.pending, key)
		delete(r.active, key)
		return Command{}, false
	}
	delete(r.pending, key)
	return cmd, true
}

func (r *Relay) finish(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	delete(r.active, key)
	r.mu.Unlock()
}

// Send posts cmd synchronously and returns the device's response body.
func (r *Relay) Send(ctx context.Context, cmd Command) ([]byte, error) {
	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	return r.post(ctx, r.nextSeq(), cmd)
}

// TestConnectivity calls the device's /ping endpoint and refreshes the
// reachability flag. It returns the response body.
func (r *Relay) TestConnectivity(ctx context.Context) ([]byte, error) {
	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	return r.call(ctx, r.nextSeq(), http.MethodGet, "/ping", nil)
}

// FetchStatus fetches the device's own /status document verbatim.
func (r *Relay) FetchStatus(ctx context.Context) ([]byte, error) {
	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	return r.call(ctx, r.nextSeq(), http.MethodGet, "/status", nil)
}

// Close stops accepting commands, drops pending dispatches and waits for
// calls already on the wire.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.queueCancel()
	r.wg.Wait()
	return nil
}

// begin registers a synchronous call so Close waits for it.
func (r *Relay) begin() (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.wg.Add(1)
	return r.wg.Done, nil
}

func (r *Relay) nextSeq() uint64 {
	return r.attempts.Add(1)
}

func (r *Relay) post(ctx context.Context, seq uint64, cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("relay: encoding command: %w", err)
	}
	return r.call(ctx, seq, http.MethodPost, "/control", body)
}

// call performs one device request and records its outcome.
func (r *Relay) call(ctx context.Context, seq uint64, method, path string, body []byte) ([]byte, error) {
	data, err := r.do(ctx, method, path, body)
	r.record(seq, err)
	return data, err
}

func (r *Relay) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	target := r.Target()

	ctx, cancel := context.WithTimeout(ctx, target.Timeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.BaseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("relay: building request: %w", err)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrDeviceUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: reading response: %w", ErrDeviceUnreachable, method, path, err)
	}
	// Drain any remainder to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrDeviceUnreachable, method, path, resp.StatusCode)
	}

	r.logger.Debug("device call completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

// record writes the reachability outcome of attempt seq unless a newer
// attempt has already reported.
func (r *Relay) record(seq uint64, err error) {
	r.outcomeMu.Lock()
	defer r.outcomeMu.Unlock()

	if seq <= r.applied {
		return
	}
	r.applied = seq
	r.store.SetReachable(err == nil)
}
