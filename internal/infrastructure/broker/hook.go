package broker

import (
	"bytes"
	"log/slog"
	"sync/atomic"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// sessionHook logs client sessions and keeps a live count.
type sessionHook struct {
	mochi.HookBase
	logger *slog.Logger
	active atomic.Int64
}

// ID returns the ID of the hook.
func (h *sessionHook) ID() string {
	return "controlbridge-sessions"
}

// Provides reports which events the hook handles.
func (h *sessionHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{b})
}

// OnSessionEstablished is called after a client's CONNECT is accepted.
func (h *sessionHook) OnSessionEstablished(cl *mochi.Client, _ packets.Packet) {
	n := h.active.Add(1)
	h.logger.Debug("mqtt client connected", "client_id", cl.ID, "sessions", n)
}

// OnDisconnect is called when a client goes away for any reason.
func (h *sessionHook) OnDisconnect(cl *mochi.Client, err error, _ bool) {
	n := h.active.Add(-1)
	if err != nil {
		h.logger.Debug("mqtt client disconnected", "client_id", cl.ID, "sessions", n, "error", err)
		return
	}
	h.logger.Debug("mqtt client disconnected", "client_id", cl.ID, "sessions", n)
}
