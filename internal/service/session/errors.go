package session

import "errors"

var (
	// ErrBackpressure is returned by Enqueue when the audio queue is full.
	ErrBackpressure = errors.New("session audio queue is full")
	// ErrSessionClosed is returned by Enqueue once the session stopped accepting audio.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidFrame is returned for audio that is not whole 16-bit samples.
	ErrInvalidFrame = errors.New("audio frame is not 16-bit PCM")
	// ErrNotFound is returned when a session id is not registered.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the manager is at capacity.
	ErrTooManySessions = errors.New("too many active sessions")
	// ErrManagerClosed is returned by Create after Shutdown.
	ErrManagerClosed = errors.New("session manager is shut down")
)

// Close reasons.
const (
	ReasonClientDisconnect = "client_disconnect"
	ReasonClientStop       = "client_stop"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonResourceLimit    = "resource_limit"
	ReasonAdapterError     = "adapter_error"
	ReasonShutdown         = "shutdown"
)
