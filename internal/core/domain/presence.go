package domain

// PresenceState is the agent's current work state. The constant values are
// the wire strings the presence backend stores for each agent.
type PresenceState string

const (
	PresenceReady          PresenceState = "READY"
	PresencePostProcessing PresenceState = "POST_PROCESSING"
	PresenceConnecting     PresenceState = "CALLING"
	PresenceOnCall         PresenceState = "ON_CALL"
	PresenceAway           PresenceState = "AWAY"
	PresenceTraining       PresenceState = "TRAINING"
	PresenceDisabled       PresenceState = "DISABLED"
)

func (s PresenceState) Valid() bool {
	switch s {
	case PresenceReady, PresencePostProcessing, PresenceConnecting,
		PresenceOnCall, PresenceAway, PresenceTraining, PresenceDisabled:
		return true
	}
	return false
}

// ManuallySelectable reports whether an operator may request this state
// directly. Call-driven states and DISABLED are never selectable by hand.
func (s PresenceState) ManuallySelectable() bool {
	switch s {
	case PresenceReady, PresencePostProcessing, PresenceAway, PresenceTraining:
		return true
	}
	return false
}

// InCall reports whether the state is one of the call-driven states that
// block manual presence changes.
func (s PresenceState) InCall() bool {
	return s == PresenceConnecting || s == PresenceOnCall
}
