package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/controlbridge/internal/infrastructure/config"
	"github.com/nerrad567/controlbridge/internal/infrastructure/logging"
	"github.com/nerrad567/controlbridge/internal/state"
)

// WebSocket message types.
const (
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeEvent    = "event"
	WSTypeResponse = "response"
	WSTypeError    = "error"
)

// Event types carried by WSTypeEvent messages.
const (
	// EventDeviceState carries a full state.DeviceState.
	EventDeviceState = "device_state"

	// EventSensorUpdate carries a state.Delta.
	EventSensorUpdate = "sensor_update"
)

// defaultSendBuffer is used when the configured send buffer is not positive.
const defaultSendBuffer = 64

// WSMessage represents a message sent to/from a WebSocket client.
//
// Client actions use the action name as Type (toggle_change, button_press,
// slider_change, reset) with an ActionPayload.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ActionPayload is the payload of an inbound client action.
type ActionPayload struct {
	ID    *int `json:"id,omitempty"`
	Value any  `json:"value,omitempty"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages WebSocket connections and broadcasts store changes.
//
// Lock ordering: the store lock is always taken before the hub lock. Store
// observers run with the store held and may take the hub lock; the hub never
// calls into the store while holding its own lock.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	store   *state.Store
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub for store. Call Attach to start
// broadcasting store changes.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, store *state.Store) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		clients: make(map[*WSClient]struct{}),
	}
}

// Attach subscribes the hub to store changes. Call it once.
func (h *Hub) Attach() {
	h.store.Subscribe(h.observe)
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// observe turns store changes into broadcasts. Control changes carry the full
// state and telemetry ticks carry the delta. Reachability flips are not pushed
// on their own; the flag travels with the next full state.
func (h *Hub) observe(c state.Change) {
	switch {
	case c.Op.IsControl():
		h.Broadcast(EventDeviceState, c.State)
	case c.Op == state.OpTelemetry:
		h.Broadcast(EventSensorUpdate, c.State.Delta())
	}
}

// newClient creates an unregistered client for conn.
func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	size := h.cfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	return &WSClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, size),
	}
}

// Connect registers client and queues its catch-up full state. Both happen
// under the store lock, so no broadcast can slip in between and the client
// sees the catch-up before any later change.
func (h *Hub) Connect(client *WSClient) {
	h.store.WithSnapshot(func(snap state.DeviceState) {
		h.Register(client)
		if data, err := encodeEvent(EventDeviceState, snap); err == nil {
			client.trySend(data)
		}
	})
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", n)
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", n)
	}
}

// Broadcast sends an event to every connected client. A client whose send
// buffer is full is dropped; it can reconnect and catch up.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.trySend(data) {
			h.logger.Warn("dropping slow websocket client", "client_id", client.id)
			h.Unregister(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// encodeEvent marshals an event envelope.
func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Connect(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch kind := state.ActionKind(msg.Type); kind {
	case state.ActionToggle, state.ActionButton, state.ActionSlider, state.ActionReset:
		c.handleAction(kind, msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleAction applies a client action. The resulting broadcast reaches every
// client, this one included; the reply only acknowledges the action.
func (c *WSClient) handleAction(kind state.ActionKind, msg inboundMessage) {
	var p ActionPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(msg.ID, "invalid action payload")
			return
		}
	}

	action := state.Action{Kind: kind, Value: p.Value}
	if kind != state.ActionReset {
		if p.ID == nil {
			c.sendError(msg.ID, "payload id is required")
			return
		}
		action.ID = *p.ID
	}

	snap, err := c.hub.store.Apply(action)
	if err != nil {
		c.hub.logger.Debug("websocket action rejected", "client_id", c.id, "action", kind, "error", err)
		c.sendError(msg.ID, err.Error())
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, snap)
}

// trySend attempts to send data to the client's send channel. It reports
// false when the buffer is full or the client has already disconnected.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil { // send on closed channel
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
