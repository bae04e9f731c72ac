package zyre

import "errors"

// Common errors for node and event operations.
var (
	// ErrNodeStartFailure is returned when the transport fails to bind or
	// initialize during Start. The node stays in StateCreated and may be
	// reconfigured and started again.
	ErrNodeStartFailure = errors.New("failed to start node")

	// ErrInvalidEventAccess is returned when an Event accessor does not match
	// the event type, or when the message payload was already taken.
	ErrInvalidEventAccess = errors.New("invalid event access")

	// ErrUnknownPeer is returned when a peer identity is not currently known.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrHeaderNotFound is returned when a known peer did not advertise a header.
	ErrHeaderNotFound = errors.New("header not found")

	ErrNodeNotRunning    = errors.New("node is not running")
	ErrNodeStarted       = errors.New("node already started")
	ErrNodeStopped       = errors.New("node was stopped")
	ErrNodeClosed        = errors.New("node is closed")
	ErrEmptyMessage      = errors.New("message has no frames")
	ErrInvalidOccurrence = errors.New("invalid occurrence")
)
