package domain

import "errors"

// Media acquisition errors.
var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Signaling link errors.
var (
	ErrUnauthenticated  = errors.New("no valid credential")
	ErrConnectFailed    = errors.New("signaling connect failed")
	ErrNotConnected     = errors.New("signaling link not connected")
	ErrMalformedMessage = errors.New("malformed signal message")
)

// Negotiation errors.
var (
	ErrInvalidState = errors.New("invalid negotiation state")
	ErrMalformedSDP = errors.New("malformed sdp")
	ErrNoLocalMedia = errors.New("no local media")
)

// Call orchestration errors.
var (
	ErrAlreadyInSession     = errors.New("a session is already active")
	ErrMediaUnavailable     = errors.New("media unavailable")
	ErrSignalingUnavailable = errors.New("signaling unavailable")
)

// Presence errors.
var (
	ErrSessionInProgress = errors.New("session in progress")
	ErrAgentDisabled     = errors.New("agent is disabled")
	ErrInvalidPresence   = errors.New("invalid presence state")
)
