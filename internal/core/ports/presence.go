package ports

import (
	"context"

	"agentdesk/internal/core/domain"
)

// PresenceSyncer pushes an accepted presence transition to the backend.
// Sync is best-effort: failures are logged by the caller, never rolled back.
type PresenceSyncer interface {
	Sync(ctx context.Context, state domain.PresenceState) error
}

// PresenceReader exposes the agent's current presence to collaborators that
// must not mutate it.
type PresenceReader interface {
	Current() domain.PresenceState
}
