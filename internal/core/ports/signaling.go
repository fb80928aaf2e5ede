package ports

import (
	"context"

	"agentdesk/internal/core/domain"
)

// SignalingDialer opens a control channel scoped to one call room.
type SignalingDialer interface {
	Connect(ctx context.Context, room domain.RoomID, token string) (SignalingLink, error)
}

// SignalingLink is a single logical signaling channel. Inbound messages are
// delivered in transport order; the channel is closed when delivery stops.
// Send fails with domain.ErrNotConnected once the link is closed.
type SignalingLink interface {
	Send(msg domain.SignalMessage) error
	Inbound() <-chan domain.SignalMessage
	Close() error
}

// TokenSource yields the agent's current bearer credential. It fails with
// domain.ErrUnauthenticated when no valid credential is held.
type TokenSource interface {
	Token() (string, error)
}
