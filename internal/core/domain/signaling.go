package domain

import (
	"encoding/json"
	"fmt"
)

// SignalType discriminates signaling messages on the wire.
type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
)

// ICECandidate carries the candidate attributes in the shape peers exchange
// over the signaling channel.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalMessage is the tagged union exchanged over a SignalingLink.
// Offer and answer carry an SDP, ice carries a candidate.
type SignalMessage struct {
	Type      SignalType    `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

func NewOffer(sdp string) SignalMessage {
	return SignalMessage{Type: SignalOffer, SDP: sdp}
}

func NewAnswer(sdp string) SignalMessage {
	return SignalMessage{Type: SignalAnswer, SDP: sdp}
}

func NewICE(candidate ICECandidate) SignalMessage {
	return SignalMessage{Type: SignalICE, Candidate: &candidate}
}

// ParseSignalMessage decodes and validates one wire message.
func ParseSignalMessage(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch msg.Type {
	case SignalOffer, SignalAnswer:
		if msg.SDP == "" {
			return SignalMessage{}, fmt.Errorf("%w: %s without sdp", ErrMalformedMessage, msg.Type)
		}
	case SignalICE:
		if msg.Candidate == nil || msg.Candidate.Candidate == "" {
			return SignalMessage{}, fmt.Errorf("%w: ice without candidate", ErrMalformedMessage)
		}
	default:
		return SignalMessage{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
	return msg, nil
}
