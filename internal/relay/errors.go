package relay

import "errors"

// Domain errors for relay operations.
var (
	// ErrDeviceUnreachable is returned when a device call fails to connect,
	// times out or gets a non-2xx response.
	ErrDeviceUnreachable = errors.New("relay: device unreachable")

	// ErrInvalidTarget is returned when a target or target patch fails validation.
	ErrInvalidTarget = errors.New("relay: invalid target")

	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("relay: closed")
)
