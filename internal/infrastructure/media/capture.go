package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const opusPayloadType = 111

// Frame is one encoded audio frame from the capture device.
type Frame struct {
	Data    []byte
	Samples uint32
}

// CaptureProvider abstracts the physical capture device. Open engages the
// device and delivers frames until Close disengages it. Close is idempotent.
type CaptureProvider interface {
	Open(ctx context.Context, video bool) (<-chan Frame, error)
	Close() error
}

// Source builds media handles backed by a capture provider. It implements
// ports.MediaSource.
type Source struct {
	newProvider func() CaptureProvider
	clockRate   uint32
	logger      *zap.SugaredLogger
}

func NewSource(newProvider func() CaptureProvider, clockRate uint32, logger *zap.SugaredLogger) *Source {
	return &Source{
		newProvider: newProvider,
		clockRate:   clockRate,
		logger:      logger,
	}
}

// Acquire engages the capture device and starts the packetizing pump. The
// returned handle owns the device until Release.
func (s *Source) Acquire(ctx context.Context, enableVideo bool) (ports.MediaHandle, error) {
	provider := s.newProvider()
	frames, err := provider.Open(ctx, enableVideo)
	if err != nil {
		return nil, fmt.Errorf("opening capture device: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: s.clockRate, Channels: 1},
		"audio",
		"agentdesk-mic",
	)
	if err != nil {
		if cerr := provider.Close(); cerr != nil {
			s.logger.Warnw("closing capture device after track failure", "error", cerr)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	h := &Handle{
		track:    track,
		provider: provider,
		done:     make(chan struct{}),
		logger:   s.logger,
	}
	h.active.Store(true)
	go h.pump(frames)
	return h, nil
}

// Handle owns one engaged capture device and its outbound RTP track.
type Handle struct {
	track    *webrtc.TrackLocalStaticRTP
	provider CaptureProvider

	muted    atomic.Bool
	released sync.Once
	active   atomic.Bool
	done     chan struct{}

	logger *zap.SugaredLogger
}

// pump packetizes capture frames onto the local track. Muted frames are
// dropped here so the device stays engaged while muted.
func (h *Handle) pump(frames <-chan Frame) {
	ssrc := rand.Uint32()
	var seq uint16
	var ts uint32

	for {
		select {
		case <-h.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			seq++
			ts += frame.Samples
			if h.muted.Load() {
				continue
			}
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    opusPayloadType,
					SequenceNumber: seq,
					Timestamp:      ts,
					SSRC:           ssrc,
				},
				Payload: frame.Data,
			}
			if err := h.track.WriteRTP(pkt); err != nil {
				h.logger.Debugw("writing rtp to local track", "error", err)
			}
		}
	}
}

func (h *Handle) AudioTrack() webrtc.TrackLocal {
	return h.track
}

// SetMuted flips the outgoing-audio flag without disengaging the device.
// It has no effect on a released handle.
func (h *Handle) SetMuted(muted bool) {
	if !h.active.Load() {
		return
	}
	h.muted.Store(muted)
}

func (h *Handle) Muted() bool {
	return h.muted.Load()
}

func (h *Handle) Active() bool {
	return h.active.Load()
}

// Release stops the pump and disengages the device. Safe to call multiple
// times.
func (h *Handle) Release() {
	h.released.Do(func() {
		h.active.Store(false)
		close(h.done)
		if err := h.provider.Close(); err != nil {
			h.logger.Warnw("closing capture device", "error", err)
		}
	})
}
