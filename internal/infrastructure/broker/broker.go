package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/controlbridge/internal/infrastructure/config"
)

// listenerID names the broker's single TCP listener.
const listenerID = "controlbridge-tcp"

// ErrStartFailed is returned when the broker cannot be started.
var ErrStartFailed = errors.New("broker: start failed")

// Broker is an embedded MQTT broker listening on one TCP address.
type Broker struct {
	server  *mochi.Server
	tcp     *listeners.TCP
	logger  *slog.Logger
	session *sessionHook

	closed atomic.Bool
}

// Start creates the broker, binds its listener and begins serving.
// The listener is bound before Start returns, so Addr is valid immediately.
func Start(cfg config.MQTTEmbeddedConfig, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broker")

	server := mochi.New(&mochi.Options{
		Logger: logger,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("%w: auth hook: %w", ErrStartFailed, err)
	}

	session := &sessionHook{logger: logger}
	if err := server.AddHook(session, nil); err != nil {
		return nil, fmt.Errorf("%w: session hook: %w", ErrStartFailed, err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("%w: listen %s: %w", ErrStartFailed, cfg.Address, err)
	}

	b := &Broker{
		server:  server,
		tcp:     tcp,
		logger:  logger,
		session: session,
	}

	go func() {
		if err := server.Serve(); err != nil {
			logger.Error("embedded broker stopped", "error", err)
		}
	}()

	logger.Info("embedded broker listening", "address", b.Addr())
	return b, nil
}

// Addr returns the bound listener address, e.g. "127.0.0.1:1883".
func (b *Broker) Addr() string {
	return b.tcp.Address()
}

// Sessions returns the number of connected clients, the bridge's own
// MQTT client included. It is reported by GET /info.
func (b *Broker) Sessions() int {
	return int(b.session.active.Load())
}

// Close stops the listener and disconnects every client.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.server.Close(); err != nil {
		return fmt.Errorf("broker: close: %w", err)
	}
	b.logger.Info("embedded broker stopped")
	return nil
}
