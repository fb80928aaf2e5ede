package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"
	"agentdesk/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventHandler receives session lifecycle events. Handlers run on the
// coordinator loop and must not block.
type EventHandler func(event domain.SessionEvent)

// activeSession bundles the resources the coordinator owns for one call
// attempt. All fields are touched only by the coordinator loop.
type activeSession struct {
	info   domain.CallSession
	handle ports.MediaHandle
	link   ports.SignalingLink
	engine ports.NegotiationEngine
	cancel context.CancelFunc
}

// Coordinator drives one call session at a time. Every mutation — operator
// intents, inbound signaling messages, engine callbacks — is serialized
// through a single command loop, so session state has exactly one writer.
type Coordinator struct {
	media    ports.MediaSource
	dialer   ports.SignalingDialer
	engines  ports.EngineFactory
	tokens   ports.TokenSource
	presence ports.PresenceReader

	cmds      chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// answerTimeout bounds how long a sent offer may sit unanswered before
	// the session degrades to failed.
	answerTimeout time.Duration

	session  *activeSession
	handlers []EventHandler
	events   chan domain.SessionEvent

	logger *zap.SugaredLogger
}

func NewCoordinator(
	media ports.MediaSource,
	dialer ports.SignalingDialer,
	engines ports.EngineFactory,
	tokens ports.TokenSource,
	presence ports.PresenceReader,
	logger *zap.SugaredLogger,
) *Coordinator {
	c := &Coordinator{
		media:         media,
		dialer:        dialer,
		engines:       engines,
		tokens:        tokens,
		presence:      presence,
		cmds:          make(chan func(), 64),
		quit:          make(chan struct{}),
		answerTimeout: 30 * time.Second,
		logger:        logger,
	}
	go c.loop()
	return c
}

// post enqueues a command for the loop. It reports false, without
// enqueueing, once the coordinator is closed, so callers never block on a
// loop that is no longer draining.
func (c *Coordinator) post(cmd func()) bool {
	select {
	case <-c.quit:
		return false
	case c.cmds <- cmd:
		return true
	}
}

// OnEvent registers a lifecycle event handler. Must be called before the
// first session starts.
func (c *Coordinator) OnEvent(h EventHandler) {
	done := make(chan struct{})
	if !c.post(func() {
		c.handlers = append(c.handlers, h)
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-c.quit:
	}
}

// Events returns the lifecycle event stream for the UI boundary. The stream
// is created on first call; events emitted with no stream open go only to
// the registered handlers. Events are dropped rather than block the
// coordinator when the consumer lags.
func (c *Coordinator) Events() <-chan domain.SessionEvent {
	reply := make(chan chan domain.SessionEvent, 1)
	if !c.post(func() {
		if c.events == nil {
			c.events = make(chan domain.SessionEvent, 16)
		}
		reply <- c.events
	}) {
		drained := make(chan domain.SessionEvent)
		close(drained)
		return drained
	}
	select {
	case ch := <-reply:
		return ch
	case <-c.quit:
		drained := make(chan domain.SessionEvent)
		close(drained)
		return drained
	}
}

func (c *Coordinator) loop() {
	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case <-c.quit:
			return
		}
	}
}

// Close tears down any active session without emitting events and stops the
// command loop. Idempotent; methods called after Close return immediately
// instead of waiting on the stopped loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		c.cmds <- func() {
			if c.session != nil {
				c.teardown(c.session)
				c.session = nil
			}
			close(done)
		}
		<-done
		close(c.quit)
	})
}

// StartCall acquires media, opens a signaling link for the room, and sends
// an offer. The agent becomes the caller for this session.
func (c *Coordinator) StartCall(ctx context.Context, room domain.RoomID) error {
	return c.openSession(ctx, room, true)
}

// JoinRoom opens media and signaling for the room without sending an offer.
// The session answers the first inbound offer and becomes the callee.
func (c *Coordinator) JoinRoom(ctx context.Context, room domain.RoomID) error {
	return c.openSession(ctx, room, false)
}

func (c *Coordinator) openSession(ctx context.Context, room domain.RoomID, sendOffer bool) error {
	ctx, span := tracing.TraceCallOperation(ctx, "start", string(room))
	defer span.End()

	errCh := make(chan error, 1)
	posted := c.post(func() {
		if c.session != nil {
			errCh <- domain.ErrAlreadyInSession
			return
		}
		if c.presence != nil && c.presence.Current() == domain.PresenceDisabled {
			errCh <- domain.ErrAgentDisabled
			return
		}

		setupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sess := &activeSession{
			info: domain.CallSession{
				ID:        domain.SessionID(uuid.NewString()),
				RoomID:    room,
				State:     domain.NegotiationIdle,
				StartedAt: time.Now(),
			},
			cancel: cancel,
		}
		c.session = sess
		go c.setup(setupCtx, sess.info.ID, room, sendOffer, errCh)
	})
	if !posted {
		return fmt.Errorf("%w: coordinator closed", domain.ErrInvalidState)
	}

	select {
	case err := <-errCh:
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return fmt.Errorf("%w: coordinator closed", domain.ErrInvalidState)
	}
}

// setup runs the blocking acquisition steps off the coordinator loop and
// reports back through commands. Results for a session that has since been
// stopped are discarded and their resources released.
func (c *Coordinator) setup(ctx context.Context, sid domain.SessionID, room domain.RoomID, sendOffer bool, errCh chan<- error) {
	fail := func(err error) {
		c.post(func() {
			if c.current(sid) {
				c.session = nil
			}
		})
		errCh <- err
	}

	handle, err := c.media.Acquire(ctx, false)
	if err != nil {
		fail(fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err))
		return
	}

	token := ""
	if c.tokens != nil {
		if token, err = c.tokens.Token(); err != nil {
			handle.Release()
			fail(fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, err))
			return
		}
	}

	link, err := c.dialer.Connect(ctx, room, token)
	if err != nil {
		handle.Release()
		fail(fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, err))
		return
	}

	engine, err := c.engines.New(handle)
	if err != nil {
		handle.Release()
		if cerr := link.Close(); cerr != nil {
			c.logger.Warnw("closing link after engine failure", "room", room, "error", cerr)
		}
		fail(fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, err))
		return
	}

	engine.OnLocalCandidate(func(cand domain.ICECandidate) {
		c.post(func() { c.sendCandidate(sid, cand) })
	})
	engine.OnRemoteTrack(func() {
		c.post(func() { c.remoteTrackArrived(sid) })
	})
	engine.OnFailure(func(err error) {
		c.post(func() { c.failSession(sid, err) })
	})

	var offerSDP string
	if sendOffer {
		if offerSDP, err = engine.CreateOffer(ctx); err != nil {
			handle.Release()
			if cerr := engine.Close(); cerr != nil {
				c.logger.Warnw("closing engine after offer failure", "room", room, "error", cerr)
			}
			if cerr := link.Close(); cerr != nil {
				c.logger.Warnw("closing link after offer failure", "room", room, "error", cerr)
			}
			fail(fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, err))
			return
		}
	}

	discard := func() {
		handle.Release()
		if err := engine.Close(); err != nil {
			c.logger.Warnw("closing engine for stale setup", "room", room, "error", err)
		}
		if err := link.Close(); err != nil {
			c.logger.Warnw("closing link for stale setup", "room", room, "error", err)
		}
		errCh <- context.Canceled
	}

	posted := c.post(func() {
		if !c.current(sid) {
			// Stopped while we were setting up. Nothing may leak.
			discard()
			return
		}

		sess := c.session
		sess.handle = handle
		sess.link = link
		sess.engine = engine

		go c.pumpInbound(sid, link)

		if sendOffer {
			if err := link.Send(domain.NewOffer(offerSDP)); err != nil {
				c.teardown(sess)
				c.session = nil
				errCh <- fmt.Errorf("%w: %w", domain.ErrSignalingUnavailable, err)
				return
			}
			sess.info.Role = domain.RoleCaller
			sess.info.State = domain.NegotiationOffering
			c.emit(domain.SessionConnecting)
			c.watchAnswer(sid)
		}

		c.logger.Infow("session established",
			"session_id", sid,
			"room", room,
			"offer_sent", sendOffer,
		)
		errCh <- nil
	})
	if !posted {
		discard()
	}
}

// watchAnswer fails the session if the sent offer is still unanswered when
// the timeout lapses. The check runs on the loop, so an answer that arrived
// in the meantime (state past Offering) wins.
func (c *Coordinator) watchAnswer(sid domain.SessionID) {
	timeout := c.answerTimeout
	time.AfterFunc(timeout, func() {
		c.post(func() {
			if !c.current(sid) || c.session.engine == nil {
				return
			}
			if c.session.engine.State() != domain.NegotiationOffering {
				return
			}
			c.failSession(sid, fmt.Errorf("%w: no answer within %s", domain.ErrSignalingUnavailable, timeout))
		})
	})
}

// pumpInbound feeds link messages into the coordinator loop in arrival
// order. A closed link mid-session degrades the session to failed.
func (c *Coordinator) pumpInbound(sid domain.SessionID, link ports.SignalingLink) {
	for msg := range link.Inbound() {
		m := msg
		if !c.post(func() { c.handleInbound(sid, m) }) {
			return
		}
	}
	c.post(func() {
		if c.current(sid) {
			c.failSession(sid, domain.ErrNotConnected)
		}
	})
}

// StopCall tears down the active session. Every teardown step runs even if
// an earlier one fails, so a partial failure never leaks a capture device or
// an open socket. Calling it with no active session is a no-op.
func (c *Coordinator) StopCall(ctx context.Context) {
	ctx, span := tracing.TraceCallOperation(ctx, "stop", "")
	defer span.End()

	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		if c.session == nil {
			return
		}
		c.teardown(c.session)
		c.session = nil
		c.emit(domain.SessionPostProcessing)
	}) {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	case <-c.quit:
	}
}

// ToggleMute flips the local mute flag and returns the new value. Without an
// active session it reports false and changes nothing.
func (c *Coordinator) ToggleMute() bool {
	reply := make(chan bool, 1)
	if !c.post(func() {
		if c.session == nil || c.session.handle == nil {
			reply <- false
			return
		}
		muted := !c.session.handle.Muted()
		c.session.handle.SetMuted(muted)
		c.session.info.Muted = muted
		reply <- muted
	}) {
		return false
	}
	select {
	case muted := <-reply:
		return muted
	case <-c.quit:
		return false
	}
}

// Snapshot reports the active session, if any, for read-only consumers.
func (c *Coordinator) Snapshot() (domain.CallSession, bool) {
	type result struct {
		info   domain.CallSession
		active bool
	}
	reply := make(chan result, 1)
	if !c.post(func() {
		if c.session == nil {
			reply <- result{}
			return
		}
		info := c.session.info
		if c.session.engine != nil {
			info.State = c.session.engine.State()
		}
		reply <- result{info: info, active: true}
	}) {
		return domain.CallSession{}, false
	}
	select {
	case r := <-reply:
		return r.info, r.active
	case <-c.quit:
		return domain.CallSession{}, false
	}
}

func (c *Coordinator) current(sid domain.SessionID) bool {
	return c.session != nil && c.session.info.ID == sid
}

func (c *Coordinator) handleInbound(sid domain.SessionID, msg domain.SignalMessage) {
	if !c.current(sid) {
		return
	}
	sess := c.session

	switch msg.Type {
	case domain.SignalOffer:
		if c.presence != nil && c.presence.Current() == domain.PresenceDisabled {
			c.logger.Warnw("refusing inbound offer for disabled agent",
				"session_id", sid, "room", sess.info.RoomID)
			return
		}
		if sess.engine.State() != domain.NegotiationIdle {
			// Glare: both sides offered. The initiator wins; the side that
			// already sent its offer ignores the racing inbound one.
			c.logger.Infow("ignoring racing inbound offer",
				"session_id", sid, "state", sess.engine.State())
			return
		}
		if err := sess.engine.ApplyRemoteDescription(context.Background(), msg.SDP, domain.SignalOffer); err != nil {
			if errors.Is(err, domain.ErrNoLocalMedia) {
				// Policy: never answer without a live microphone. No reply.
				c.logger.Warnw("inbound offer without local media", "session_id", sid)
				return
			}
			c.failSession(sid, err)
			return
		}
		answer, err := sess.engine.CreateAnswer(context.Background())
		if err != nil {
			c.failSession(sid, err)
			return
		}
		if err := sess.link.Send(domain.NewAnswer(answer)); err != nil {
			c.failSession(sid, err)
			return
		}
		sess.info.Role = domain.RoleCallee
		sess.info.State = domain.NegotiationAwaitingConnection
		c.emit(domain.SessionConnecting)

	case domain.SignalAnswer:
		if err := sess.engine.ApplyRemoteDescription(context.Background(), msg.SDP, domain.SignalAnswer); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				c.logger.Warnw("dropping answer in unexpected state",
					"session_id", sid, "state", sess.engine.State())
				return
			}
			c.failSession(sid, err)
			return
		}
		sess.info.State = domain.NegotiationAwaitingConnection

	case domain.SignalICE:
		if msg.Candidate == nil {
			return
		}
		if err := sess.engine.AddICECandidate(*msg.Candidate); err != nil {
			c.logger.Warnw("discarding ice candidate", "session_id", sid, "error", err)
		}
	}
}

func (c *Coordinator) sendCandidate(sid domain.SessionID, cand domain.ICECandidate) {
	if !c.current(sid) || c.session.link == nil {
		return
	}
	if err := c.session.link.Send(domain.NewICE(cand)); err != nil {
		c.logger.Warnw("sending local candidate", "session_id", sid, "error", err)
	}
}

func (c *Coordinator) remoteTrackArrived(sid domain.SessionID) {
	if !c.current(sid) {
		return
	}
	c.session.info.State = domain.NegotiationConnected
	c.logger.Infow("remote track arrived", "session_id", sid, "room", c.session.info.RoomID)
	c.emit(domain.SessionOnCall)
}

// failSession degrades the session to closed and reports the failure as a
// lifecycle event; mid-session negotiation errors have no synchronous caller
// to receive them.
func (c *Coordinator) failSession(sid domain.SessionID, cause error) {
	if !c.current(sid) {
		return
	}
	c.logger.Errorw("session failed", "session_id", sid, "error", cause)
	c.teardown(c.session)
	c.session = nil
	c.emit(domain.SessionFailed)
}

// teardown releases every session resource, log-and-continue on each step.
func (c *Coordinator) teardown(sess *activeSession) {
	sess.cancel()
	if sess.engine != nil {
		if err := sess.engine.Close(); err != nil {
			c.logger.Warnw("closing negotiation engine", "session_id", sess.info.ID, "error", err)
		}
	}
	if sess.handle != nil {
		sess.handle.Release()
	}
	if sess.link != nil {
		if err := sess.link.Close(); err != nil {
			c.logger.Warnw("closing signaling link", "session_id", sess.info.ID, "error", err)
		}
	}
	sess.info.State = domain.NegotiationClosed
}

func (c *Coordinator) emit(event domain.SessionEvent) {
	for _, h := range c.handlers {
		h(event)
	}
	if c.events == nil {
		return
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warnw("dropping session event for slow consumer", "event", event)
	}
}
