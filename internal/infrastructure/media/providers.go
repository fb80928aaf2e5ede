package media

import (
	"context"
	"sync"
	"time"
)

// SilenceProvider is a capture provider that emits silent Opus frames on a
// fixed cadence. It stands in for a real microphone on hosts without one.
type SilenceProvider struct {
	FrameDuration time.Duration
	SampleRate    uint32

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Opus "silence" frame (DTX comfort noise marker).
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

func NewSilenceProvider(frameDuration time.Duration, sampleRate uint32) *SilenceProvider {
	return &SilenceProvider{FrameDuration: frameDuration, SampleRate: sampleRate}
}

func (p *SilenceProvider) Open(ctx context.Context, video bool) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	samples := uint32(uint64(p.SampleRate) * uint64(p.FrameDuration) / uint64(time.Second))
	out := make(chan Frame)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.FrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- Frame{Data: silentOpusFrame, Samples: samples}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *SilenceProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

// FakeProvider is a capture provider for tests. It records whether the
// device is currently engaged and can be told to fail acquisition.
type FakeProvider struct {
	OpenErr error

	mu      sync.Mutex
	engaged bool
	frames  chan Frame
	closes  int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

func (p *FakeProvider) Open(ctx context.Context, video bool) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	p.engaged = true
	p.frames = make(chan Frame, 8)
	return p.frames, nil
}

func (p *FakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	if p.engaged {
		p.engaged = false
		close(p.frames)
	}
	return nil
}

// Engaged reports whether the fake device is currently capturing.
func (p *FakeProvider) Engaged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engaged
}

// CloseCalls reports how many times Close ran, for idempotency checks.
func (p *FakeProvider) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Push feeds a frame into the open device.
func (p *FakeProvider) Push(frame Frame) {
	p.mu.Lock()
	frames := p.frames
	engaged := p.engaged
	p.mu.Unlock()
	if engaged {
		frames <- frame
	}
}
