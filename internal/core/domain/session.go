package domain

import "time"

type RoomID string

type SessionID string

// CallRole records which side produced the first offer for a session.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// NegotiationState tracks the offer/answer lifecycle of a single call attempt.
type NegotiationState string

const (
	NegotiationIdle               NegotiationState = "idle"
	NegotiationOffering           NegotiationState = "offering"
	NegotiationAnswering          NegotiationState = "answering"
	NegotiationAwaitingConnection NegotiationState = "awaiting_connection"
	NegotiationConnected          NegotiationState = "connected"
	NegotiationClosed             NegotiationState = "closed"
)

// CallSession describes one call attempt. A coordinator owns at most one
// at a time; starting a new session tears down the previous one first.
type CallSession struct {
	ID        SessionID
	RoomID    RoomID
	Role      CallRole
	State     NegotiationState
	Muted     bool
	StartedAt time.Time
}

// SessionEvent is a lifecycle notification emitted by the coordinator and
// consumed by the presence machine and the UI boundary.
type SessionEvent string

const (
	SessionConnecting     SessionEvent = "connecting"
	SessionOnCall         SessionEvent = "on_call"
	SessionPostProcessing SessionEvent = "post_processing"
	SessionFailed         SessionEvent = "failed"
)
