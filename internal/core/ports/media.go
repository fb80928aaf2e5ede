package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// MediaSource acquires local audio capture. Acquisition engages the physical
// device; release disengages it.
type MediaSource interface {
	Acquire(ctx context.Context, enableVideo bool) (MediaHandle, error)
}

// MediaHandle is an owned handle to captured local media. Release is
// idempotent; SetMuted has no effect on a released handle.
type MediaHandle interface {
	AudioTrack() webrtc.TrackLocal
	SetMuted(muted bool)
	Muted() bool
	Active() bool
	Release()
}
