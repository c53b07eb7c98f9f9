// Package telemetry drives periodic sensor updates into the state store.
//
// A Simulator reads one sample from a Source per tick and applies it with
// state.Store.ApplyTelemetry. SyntheticSource produces random gauge and
// variable values. A source backed by real device readings plugs in through
// the same interface without changing the tick contract.
package telemetry
