// Package mirror mirrors the device state onto MQTT and accepts commands
// from it.
//
// Outbound, under the configured prefix:
//
//	{prefix}/state          full DeviceState, retained, on every control change
//	{prefix}/telemetry      sensor delta, on every telemetry tick
//	{prefix}/device/status  {"reachable": bool}, retained, on reachability change
//
// Inbound, {prefix}/command/{kind} with kind one of toggle_change,
// button_press, slider_change or reset and a payload of {"id": n, "value": v}.
// Commands go through the same Store.Apply path as WebSocket actions, so they
// reach the device relay and every WebSocket client like any other change.
//
// The store observer only queues; a single worker goroutine publishes. When
// the queue is full the update is dropped and counted. The next control
// change republishes the full retained state, so a drop never leaves the
// broker stale for longer than one change.
package mirror
