package ports

import (
	"context"

	"agentdesk/internal/core/domain"
)

// EngineFactory builds one NegotiationEngine per call attempt. A nil local
// media handle is allowed; such an engine refuses to answer inbound offers.
type EngineFactory interface {
	New(local MediaHandle) (NegotiationEngine, error)
}

// NegotiationEngine wraps the peer-connection primitive for one session.
//
// State machine:
//
//	Idle --CreateOffer--> Offering
//	Idle --ApplyRemoteDescription(offer)--> Answering --CreateAnswer--> AwaitingConnection
//	Offering --ApplyRemoteDescription(answer)--> AwaitingConnection
//	AwaitingConnection --remote track--> Connected
//	any --Close--> Closed
type NegotiationEngine interface {
	State() domain.NegotiationState

	// CreateOffer is only valid from Idle.
	CreateOffer(ctx context.Context) (sdp string, err error)

	// ApplyRemoteDescription validates the SDP and advances the state
	// machine. Applying an offer without local media fails with
	// domain.ErrNoLocalMedia.
	ApplyRemoteDescription(ctx context.Context, sdp string, kind domain.SignalType) error

	// CreateAnswer is only valid from Answering.
	CreateAnswer(ctx context.Context) (sdp string, err error)

	// AddICECandidate queues candidates that arrive before the remote
	// description and flushes them once it is applied. Duplicate candidates
	// are tolerated.
	AddICECandidate(candidate domain.ICECandidate) error

	// OnLocalCandidate registers the callback invoked for every locally
	// gathered candidate that must be signaled to the peer.
	OnLocalCandidate(fn func(domain.ICECandidate))

	// OnRemoteTrack registers the callback fired exactly once per session
	// when the first remote stream arrives.
	OnRemoteTrack(fn func())

	// OnFailure registers the callback fired when the underlying connection
	// degrades past recovery.
	OnFailure(fn func(err error))

	// Close is idempotent and terminal.
	Close() error
}
