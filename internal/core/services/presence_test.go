package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSyncer struct {
	mu     sync.Mutex
	states []domain.PresenceState
	block  chan struct{}
}

func (s *recordingSyncer) Sync(ctx context.Context, state domain.PresenceState) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *recordingSyncer) synced() []domain.PresenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PresenceState, len(s.states))
	copy(out, s.states)
	return out
}

func newMachine(t *testing.T) (*PresenceMachine, *recordingSyncer) {
	t.Helper()
	syncer := &recordingSyncer{}
	return NewPresenceMachine(syncer, zap.NewNop().Sugar()), syncer
}

func TestPresenceStartsDisabled(t *testing.T) {
	m, _ := newMachine(t)
	assert.Equal(t, domain.PresenceDisabled, m.Current())
}

func TestPresenceSignInAndManualStates(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	m.SignIn(ctx)
	assert.Equal(t, domain.PresenceReady, m.Current())

	// SignIn only lifts a DISABLED agent; it never resets a working one.
	require.NoError(t, m.Request(ctx, domain.PresenceAway))
	m.SignIn(ctx)
	assert.Equal(t, domain.PresenceAway, m.Current())

	require.NoError(t, m.Request(ctx, domain.PresenceTraining))
	require.NoError(t, m.Request(ctx, domain.PresenceReady))
	assert.Equal(t, domain.PresenceReady, m.Current())
}

func TestPresenceManualRequestValidation(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.SignIn(ctx)

	tests := []struct {
		name    string
		target  domain.PresenceState
		wantErr error
	}{
		{"unknown state", domain.PresenceState("NAPPING"), domain.ErrInvalidPresence},
		{"call state not selectable", domain.PresenceOnCall, domain.ErrInvalidPresence},
		{"calling not selectable", domain.PresenceConnecting, domain.ErrInvalidPresence},
		{"disabled not selectable", domain.PresenceDisabled, domain.ErrInvalidPresence},
		{"away allowed", domain.PresenceAway, nil},
		{"post processing allowed", domain.PresencePostProcessing, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Request(ctx, tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPresenceDisabledRejectsEverything(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.Request(ctx, domain.PresenceReady), domain.ErrAgentDisabled)
	assert.ErrorIs(t, m.HandleSessionEvent(ctx, domain.SessionConnecting), domain.ErrAgentDisabled)
	assert.Equal(t, domain.PresenceDisabled, m.Current())
}

func TestPresenceCallLifecycle(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.SignIn(ctx)

	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionConnecting))
	assert.Equal(t, domain.PresenceConnecting, m.Current())

	// Manual changes are blocked while call-driven states hold.
	assert.ErrorIs(t, m.Request(ctx, domain.PresenceAway), domain.ErrSessionInProgress)

	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionOnCall))
	assert.Equal(t, domain.PresenceOnCall, m.Current())
	assert.ErrorIs(t, m.Request(ctx, domain.PresenceReady), domain.ErrSessionInProgress)

	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionPostProcessing))
	assert.Equal(t, domain.PresencePostProcessing, m.Current())

	// After wrap-up the operator takes over again.
	require.NoError(t, m.Request(ctx, domain.PresenceReady))
	assert.Equal(t, domain.PresenceReady, m.Current())
}

func TestPresenceFailedSessionLandsInPostProcessing(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.SignIn(ctx)

	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionConnecting))
	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionFailed))
	assert.Equal(t, domain.PresencePostProcessing, m.Current())
}

func TestPresenceSignOutForcesDisabledAndRunsHook(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.SignIn(ctx)
	require.NoError(t, m.HandleSessionEvent(ctx, domain.SessionConnecting))

	hookCalls := 0
	m.OnSignOut(func() { hookCalls++ })

	m.SignOut(ctx)
	assert.Equal(t, domain.PresenceDisabled, m.Current())
	assert.Equal(t, 1, hookCalls)

	// Signing out twice does not rerun the hook.
	m.SignOut(ctx)
	assert.Equal(t, 1, hookCalls)
}

func TestPresenceSyncReportsAcceptedStates(t *testing.T) {
	m, syncer := newMachine(t)
	ctx := context.Background()

	m.SignIn(ctx)
	require.NoError(t, m.Request(ctx, domain.PresenceAway))

	assert.Eventually(t, func() bool {
		return len(syncer.synced()) == 2
	}, time.Second, 5*time.Millisecond)

	states := syncer.synced()
	assert.Contains(t, states, domain.PresenceReady)
	assert.Contains(t, states, domain.PresenceAway)
}

func TestPresenceSlowSyncerNeverBlocksTransitions(t *testing.T) {
	syncer := &recordingSyncer{block: make(chan struct{})}
	m := NewPresenceMachine(syncer, zap.NewNop().Sugar())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		m.SignIn(ctx)
		_ = m.Request(ctx, domain.PresenceAway)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transitions blocked on a stalled presence backend")
	}
	assert.Equal(t, domain.PresenceAway, m.Current())
	close(syncer.block)
}

func TestPresenceObserversSeeAcceptedTransitions(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	var seen []domain.PresenceState
	m.OnTransition(func(state domain.PresenceState) { seen = append(seen, state) })

	m.SignIn(ctx)
	_ = m.Request(ctx, domain.PresenceReady) // same state, no transition
	require.NoError(t, m.Request(ctx, domain.PresenceAway))

	assert.Equal(t, []domain.PresenceState{domain.PresenceReady, domain.PresenceAway}, seen)
}
