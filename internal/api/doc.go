// Package api implements the HTTP REST API and WebSocket server for the
// control bridge.
//
// This package provides:
//   - REST endpoints to read the device state and apply control actions
//   - Pass-through endpoints to check and configure the physical device
//   - WebSocket hub pushing full state and sensor deltas to every client
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Realtime protocol
//
// On connect a client receives one "device_state" event with the full state.
// Every control change (toggle, press, auto-release, slider, reset) is pushed
// to all clients as "device_state"; every telemetry tick is pushed as
// "sensor_update" carrying gauges, variables, lamps and the tick timestamp.
//
// Clients send actions as {"type":"toggle_change","id":"1","payload":{"id":0,"value":true}}.
// Each action gets a "response" with the resulting state or an "error".
//
// A client that cannot keep up (full send buffer) or whose write fails is
// disconnected. Reconnecting delivers a fresh full state.
package api
