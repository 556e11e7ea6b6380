package domain

import "errors"

var (
	// ErrInvalidPayload marks an inbound message that cannot be decoded into a
	// SensorReading. Such messages are dropped, never retried.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrStoreUnavailable wraps any failure of the storage layer.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTransportDisrupted is reported when the subscription to the message
	// transport is lost.
	ErrTransportDisrupted = errors.New("transport disrupted")

	// ErrInvalidCommand is returned for device control commands outside the
	// accepted set.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrRelayUnavailable is returned when the control relay is not connected.
	ErrRelayUnavailable = errors.New("control relay unavailable")
)
