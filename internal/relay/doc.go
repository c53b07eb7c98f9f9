// Package relay forwards control commands to the physical device over HTTP.
//
// Every toggle, button press and slider change applied to the state store is
// posted asynchronously to the device's /control endpoint. The outcome of each
// call only updates the store's reachability flag: failures are logged, never
// retried and never reported back to the client that caused the change.
//
// Device endpoints:
//
//	POST /control   {"type":"toggle|button|slider","data":{...}}
//	GET  /ping      connectivity check
//	GET  /status    device-reported status (returned verbatim)
//
// Background commands are serialized per control and coalesced: while a
// command for slider 0 is on the wire, further slider 0 changes overwrite one
// pending command, so a slow or hung device is sent the latest value once it
// answers instead of a backlog. Ping, status and explicit commands do not
// wait behind background commands.
//
// The target address and timeout can be changed at runtime with SetTarget;
// every call reads the current target.
package relay
