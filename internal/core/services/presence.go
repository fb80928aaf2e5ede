package services

import (
	"context"
	"fmt"
	"sync"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"

	"go.uber.org/zap"
)

// PresenceMachine holds the agent's activity state. It is created at
// sign-in time defaulting to DISABLED, mutated only through its transition
// methods, and reset to DISABLED on sign-out or credential expiry.
//
// Every accepted transition is pushed to the backend asynchronously and
// best-effort: the local state is authoritative and never waits on, or rolls
// back for, the network.
type PresenceMachine struct {
	mu    sync.Mutex
	state domain.PresenceState

	syncer    ports.PresenceSyncer
	onSignOut func()
	observers []func(domain.PresenceState)

	logger *zap.SugaredLogger
}

func NewPresenceMachine(syncer ports.PresenceSyncer, logger *zap.SugaredLogger) *PresenceMachine {
	return &PresenceMachine{
		state:  domain.PresenceDisabled,
		syncer: syncer,
		logger: logger,
	}
}

// OnSignOut registers the hook invoked when the machine is forced to
// DISABLED, typically wired to the coordinator's StopCall.
func (m *PresenceMachine) OnSignOut(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSignOut = fn
}

// OnTransition registers an observer for accepted transitions. Observers run
// under the machine lock and must be fast.
func (m *PresenceMachine) OnTransition(fn func(domain.PresenceState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *PresenceMachine) Current() domain.PresenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Request applies a manual transition asked for by the operator.
func (m *PresenceMachine) Request(ctx context.Context, target domain.PresenceState) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPresence, target)
	}
	if !target.ManuallySelectable() {
		return fmt.Errorf("%w: %s is not operator-selectable", domain.ErrInvalidPresence, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.PresenceDisabled {
		return domain.ErrAgentDisabled
	}
	if m.state.InCall() {
		return domain.ErrSessionInProgress
	}
	m.transition(ctx, target)
	return nil
}

// HandleSessionEvent applies the automatic transition for a session
// lifecycle event. Events are rejected for a DISABLED agent: a disabled
// agent cannot place or receive calls.
func (m *PresenceMachine) HandleSessionEvent(ctx context.Context, event domain.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.PresenceDisabled {
		return domain.ErrAgentDisabled
	}

	switch event {
	case domain.SessionConnecting:
		m.transition(ctx, domain.PresenceConnecting)
	case domain.SessionOnCall:
		m.transition(ctx, domain.PresenceOnCall)
	case domain.SessionPostProcessing, domain.SessionFailed:
		m.transition(ctx, domain.PresencePostProcessing)
	default:
		return fmt.Errorf("unknown session event %q", event)
	}
	return nil
}

// SignIn moves a DISABLED agent to READY.
func (m *PresenceMachine) SignIn(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.PresenceDisabled {
		return
	}
	m.transition(ctx, domain.PresenceReady)
}

// SignOut forces the agent to DISABLED, ending any active call through the
// registered hook. Used on operator sign-out and on credential expiry.
func (m *PresenceMachine) SignOut(ctx context.Context) {
	m.mu.Lock()
	if m.state == domain.PresenceDisabled {
		m.mu.Unlock()
		return
	}
	hook := m.onSignOut
	m.transition(ctx, domain.PresenceDisabled)
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// transition records the new state and kicks off the backend sync. Callers
// hold the lock.
func (m *PresenceMachine) transition(ctx context.Context, target domain.PresenceState) {
	if m.state == target {
		return
	}
	from := m.state
	m.state = target
	m.logger.Infow("presence transition", "from", from, "to", target)
	for _, fn := range m.observers {
		fn(target)
	}

	if m.syncer == nil {
		return
	}
	go func() {
		if err := m.syncer.Sync(context.WithoutCancel(ctx), target); err != nil {
			m.logger.Warnw("presence sync failed", "state", target, "error", err)
		}
	}()
}
