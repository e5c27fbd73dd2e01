package session

import "errors"

// ErrNotFound is returned when a session id does not resolve in the store.
var ErrNotFound = errors.New("session not found")

// ErrPersistenceFailed is returned when a session update fails after the
// reduced-field retry. In-memory state is left unchanged so callers can
// retry safely.
var ErrPersistenceFailed = errors.New("session persistence failed")

// ErrInvalidRequest wraps every request-validation failure so transports
// can distinguish caller mistakes from store failures.
var ErrInvalidRequest = errors.New("invalid request")
