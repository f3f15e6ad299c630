package domain

import "errors"

// ErrStateNotFound is returned when a connection id has no stored presence state.
var ErrStateNotFound = errors.New("presence state not found")

// ErrStoreUnavailable wraps any backend I/O failure. Callers may retry.
var ErrStoreUnavailable = errors.New("socket store unavailable")

// ErrMalformedEvent is returned when an inbound frame cannot be interpreted.
var ErrMalformedEvent = errors.New("malformed event")

// ErrLockAcquire is returned when a migration lock cannot be obtained.
var ErrLockAcquire = errors.New("failed to acquire migration lock")

// ErrCorruptState is returned when a stored presence state cannot be decoded.
var ErrCorruptState = errors.New("stored presence state is unreadable")
