package domain

import "errors"

// ErrThreadNotFound is returned when a thread ID cannot be found in the store.
var ErrThreadNotFound = errors.New("thread not found")

var (
	// ErrThreadSuspended is returned when a new turn targets a thread waiting for a resume value.
	ErrThreadSuspended = errors.New("thread is suspended")
	// ErrNotSuspended is returned when a resume value targets a thread that is not waiting.
	ErrNotSuspended = errors.New("thread is not suspended")
	// ErrInterruptMismatch is returned when a resume value names a different interrupt.
	ErrInterruptMismatch = errors.New("resume does not match pending interrupt")
	// ErrInvalidInterrupt is returned for malformed interrupt requests.
	ErrInvalidInterrupt = errors.New("invalid interrupt request")
	// ErrUnknownNode is returned when a checkpoint names a stage that is not registered.
	ErrUnknownNode = errors.New("unknown node")
)
