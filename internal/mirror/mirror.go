package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/controlbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/controlbridge/internal/state"
)

// DefaultQueueSize bounds the outbound queue when none is configured.
const DefaultQueueSize = 256

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("mirror: already started")

	// ErrInvalidCommand is returned for a command topic or payload that
	// cannot be turned into an action.
	ErrInvalidCommand = errors.New("mirror: invalid command")
)

// Client is the subset of the MQTT client the mirror needs.
// *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the Mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// updateKind selects the topic an update is published on.
type updateKind int

const (
	updateState updateKind = iota
	updateTelemetry
	updateStatus
)

type update struct {
	kind  updateKind
	state state.DeviceState
}

// DeviceStatus is the payload of {prefix}/device/status.
type DeviceStatus struct {
	Reachable bool      `json:"reachable"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandPayload is the payload of {prefix}/command/{kind}.
type CommandPayload struct {
	ID    *int `json:"id"`
	Value any  `json:"value,omitempty"`
}

// Mirror publishes store changes to MQTT and applies MQTT commands.
type Mirror struct {
	store  *state.Store
	client Client
	topics mqtt.Topics
	qos    byte

	queue   chan update
	dropped atomic.Uint64

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger Logger
}

// New creates a mirror. A non-positive queueSize selects DefaultQueueSize.
// Call Start to begin mirroring.
func New(store *state.Store, client Client, topics mqtt.Topics, qos byte, queueSize int) *Mirror {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Mirror{
		store:  store,
		client: client,
		topics: topics,
		qos:    qos,
		queue:  make(chan update, queueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// Start subscribes to command topics, observes the store and starts the
// publish worker. The current state and reachability are published once
// so retained topics are populated before the first change.
func (m *Mirror) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := m.client.Subscribe(m.topics.AllCommands(), m.qos, m.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	m.store.Subscribe(m.observe)

	// Enqueued after Subscribe, so it is at least as new as anything the
	// observer queued before it.
	m.store.WithSnapshot(func(s state.DeviceState) {
		m.enqueue(update{kind: updateState, state: s})
		m.enqueue(update{kind: updateStatus, state: s})
	})

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Debug("mqtt mirror started", "prefix", m.topics.Prefix)
	return nil
}

// Close drops the command subscription and stops the worker. Queued
// updates not yet published are discarded.
func (m *Mirror) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()

	if err := m.client.Unsubscribe(m.topics.AllCommands()); err != nil {
		m.logger.Warn("mqtt mirror unsubscribe failed", "error", err)
	}
}

// Dropped returns how many updates were discarded because the queue was full.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// observe runs under the store lock. It never blocks.
func (m *Mirror) observe(c state.Change) {
	if m.closed.Load() {
		return
	}
	switch {
	case c.Op.IsControl():
		m.enqueue(update{kind: updateState, state: c.State})
	case c.Op == state.OpTelemetry:
		m.enqueue(update{kind: updateTelemetry, state: c.State})
	case c.Op == state.OpReachability:
		m.enqueue(update{kind: updateStatus, state: c.State})
	}
}

func (m *Mirror) enqueue(u update) {
	select {
	case m.queue <- u:
	default:
		n := m.dropped.Add(1)
		m.logger.Warn("mqtt mirror queue full, dropping update", "kind", u.kind.String(), "dropped", n)
	}
}

func (m *Mirror) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-m.queue:
			if err := m.publish(u); err != nil {
				m.logger.Warn("mqtt mirror publish failed", "kind", u.kind.String(), "error", err)
			}
		}
	}
}

// publish sends u. Full state and device status are retained so late
// subscribers start from the current picture; telemetry deltas are not.
func (m *Mirror) publish(u update) error {
	var (
		topic   string
		payload any
	)
	switch u.kind {
	case updateState:
		topic, payload = m.topics.State(), u.state
	case updateTelemetry:
		topic, payload = m.topics.Telemetry(), u.state.Delta()
	case updateStatus:
		topic = m.topics.DeviceStatus()
		payload = DeviceStatus{Reachable: u.state.DeviceReachable, Timestamp: time.Now().UTC()}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", u.kind, err)
	}
	if u.kind == updateTelemetry {
		return m.client.Publish(topic, data, m.qos, false)
	}
	return m.client.PublishRetained(topic, data)
}

// handleCommand applies one inbound command. Errors are logged by the MQTT
// client's handler wrapper.
func (m *Mirror) handleCommand(topic string, payload []byte) error {
	action, err := m.decodeCommand(topic, payload)
	if err != nil {
		return err
	}
	if _, err := m.store.Apply(action); err != nil {
		return fmt.Errorf("applying %s: %w", action.Kind, err)
	}
	m.logger.Debug("mqtt command applied", "kind", action.Kind, "id", action.ID)
	return nil
}

func (m *Mirror) decodeCommand(topic string, payload []byte) (state.Action, error) {
	kind, ok := m.topics.CommandKind(topic)
	if !ok {
		return state.Action{}, fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}
	action := state.Action{Kind: state.ActionKind(kind)}

	var body CommandPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return action, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}

	if action.Kind != state.ActionReset {
		if body.ID == nil {
			return action, fmt.Errorf("%w: %s requires an id", ErrInvalidCommand, kind)
		}
		action.ID = *body.ID
	}
	action.Value = body.Value
	return action, nil
}

func (k updateKind) String() string {
	switch k {
	case updateState:
		return "state"
	case updateTelemetry:
		return "telemetry"
	case updateStatus:
		return "device_status"
	default:
		return "unknown"
	}
}
