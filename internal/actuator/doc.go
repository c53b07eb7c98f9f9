// Package actuator implements momentary button semantics.
//
// Every button press observed on the state store schedules a release after a
// fixed delay. A re-press before the delay expires replaces the pending
// release, so a button reads true until one delay after its last press.
package actuator
