package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"
	"agentdesk/internal/infrastructure/monitoring"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the peer-connection settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds one negotiation engine per call attempt. Implements
// ports.EngineFactory.
type Factory struct {
	config  Config
	metrics *monitoring.Metrics
	logger  *zap.SugaredLogger
}

func NewFactory(config Config, metrics *monitoring.Metrics, logger *zap.SugaredLogger) *Factory {
	return &Factory{config: config, metrics: metrics, logger: logger}
}

func (f *Factory) New(local ports.MediaHandle) (ports.NegotiationEngine, error) {
	pcConfig := webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("setting udp port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	e := &Engine{
		pc:      pc,
		state:   domain.NegotiationIdle,
		metrics: f.metrics,
		logger:  f.logger,
	}

	if local != nil {
		if _, err := pc.AddTrack(local.AudioTrack()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attaching local track: %w", err)
		}
		e.hasLocalMedia = true
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		e.mu.Lock()
		fn := e.onLocalCandidate
		e.mu.Unlock()
		if fn != nil {
			init := candidate.ToJSON()
			fn(domain.ICECandidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.remoteTrack(track, receiver)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.logger.Infow("ice connection state changed", "state", state)
		if state == webrtc.ICEConnectionStateFailed {
			e.fail(fmt.Errorf("ice connection failed"))
		}
	})

	return e, nil
}

// Engine wraps one pion peer connection behind the negotiation state
// machine.
type Engine struct {
	pc *webrtc.PeerConnection

	mu            sync.Mutex
	state         domain.NegotiationState
	hasLocalMedia bool
	pending       []domain.ICECandidate
	remoteSet     bool

	trackOnce sync.Once
	closeOnce sync.Once

	onLocalCandidate func(domain.ICECandidate)
	onRemoteTrack    func()
	onFailure        func(error)

	metrics *monitoring.Metrics
	logger  *zap.SugaredLogger
}

func (e *Engine) State() domain.NegotiationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) OnLocalCandidate(fn func(domain.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocalCandidate = fn
}

func (e *Engine) OnRemoteTrack(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteTrack = fn
}

func (e *Engine) OnFailure(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailure = fn
}

func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.NegotiationIdle {
		return "", fmt.Errorf("%w: create offer from %s", domain.ErrInvalidState, e.state)
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	e.state = domain.NegotiationOffering
	return offer.SDP, nil
}

func (e *Engine) ApplyRemoteDescription(ctx context.Context, sdp string, kind domain.SignalType) error {
	if err := validateSDP(sdp); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch kind {
	case domain.SignalOffer:
		if e.state != domain.NegotiationIdle {
			return fmt.Errorf("%w: offer in %s", domain.ErrInvalidState, e.state)
		}
		if !e.hasLocalMedia {
			return domain.ErrNoLocalMedia
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
		if err := e.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedSDP, err)
		}
		e.state = domain.NegotiationAnswering

	case domain.SignalAnswer:
		if e.state != domain.NegotiationOffering {
			return fmt.Errorf("%w: answer in %s", domain.ErrInvalidState, e.state)
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
		if err := e.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedSDP, err)
		}
		e.state = domain.NegotiationAwaitingConnection

	default:
		return fmt.Errorf("%w: %q is not a description", domain.ErrInvalidState, kind)
	}

	e.remoteSet = true
	e.flushPendingLocked()
	return nil
}

func (e *Engine) CreateAnswer(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.NegotiationAnswering {
		return "", fmt.Errorf("%w: create answer from %s", domain.ErrInvalidState, e.state)
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	e.state = domain.NegotiationAwaitingConnection
	return answer.SDP, nil
}

// AddICECandidate applies a remote candidate. Candidates that arrive before
// the remote description are queued and flushed once it is applied, so the
// answer/candidate race never drops a path.
func (e *Engine) AddICECandidate(candidate domain.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == domain.NegotiationClosed {
		return fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	if !e.remoteSet {
		e.pending = append(e.pending, candidate)
		return nil
	}
	return e.addCandidateLocked(candidate)
}

func (e *Engine) flushPendingLocked() {
	for _, candidate := range e.pending {
		if err := e.addCandidateLocked(candidate); err != nil {
			e.logger.Warnw("applying queued ice candidate", "error", err)
		}
	}
	e.pending = nil
}

func (e *Engine) addCandidateLocked(candidate domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ice candidate: %w", err)
	}
	return nil
}

// remoteTrack fires the connected transition exactly once per session and
// starts the RTCP quality reader for the inbound stream.
func (e *Engine) remoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	e.trackOnce.Do(func() {
		e.mu.Lock()
		e.state = domain.NegotiationConnected
		fn := e.onRemoteTrack
		e.mu.Unlock()

		e.logger.Infow("remote track arrived",
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		go newQualityMonitor(e.metrics, track.Codec().ClockRate, e.logger).run(receiver)
		if fn != nil {
			fn()
		}
	})
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	fn := e.onFailure
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close is terminal and idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = domain.NegotiationClosed
		e.pending = nil
		e.mu.Unlock()
		err = e.pc.Close()
	})
	return err
}

// validateSDP checks the description is structurally a session description
// before it reaches the peer-connection stack.
func validateSDP(sdp string) error {
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("%w: must start with 'v='", domain.ErrMalformedSDP)
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("%w: missing required field %q", domain.ErrMalformedSDP, field)
		}
	}
	return nil
}
