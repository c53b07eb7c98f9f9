// Package state owns the single shared record of the physical device's
// actuator and sensor values.
//
// Every read and every mutation of a DeviceState passes through a Store.
// Mutations are serialised by one mutex; each returns the resulting
// snapshot, and snapshots are plain values (arrays, not slices) so a caller
// can never alias the store's copy.
//
// # Change notifications
//
// Components that react to mutations (the realtime hub, the momentary
// actuator, the command relay, the MQTT mirror) register an Observer with
// Subscribe. Observers run synchronously, in mutation order, while the
// store's lock is held:
//
//   - they see changes in exactly the order they were applied
//   - they must not block and must not call back into the Store
//
// Anything slow (network I/O, timers) is handed off to a goroutine or queue
// by the observer itself.
//
// # Errors
//
// An id or value outside its declared domain is rejected with a *RangeError,
// which matches ErrOutOfRange under errors.Is. A rejected mutation leaves the
// state untouched and emits no notification.
package state
