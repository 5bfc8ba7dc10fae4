package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SignalKind is the signal_type column of a relayed message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Valid reports whether k is one of the known kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalMessage is one immutable record in a call's signaling stream.
// Seq is assigned by the relay and reflects creation order.
//
// SessionID names the CallSession that sent the message and ReplyTo the
// remote CallSession it answers, so a rejoin on the same call id can tell its
// signals apart from those of an earlier attempt.
type SignalMessage struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq,omitempty"`
	CallID    string          `json:"call_id"`
	SessionID string          `json:"session_id,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	From      string          `json:"from_participant_id"`
	To        string          `json:"to_participant_id"`
	Kind      SignalKind      `json:"signal_type"`
	Payload   json.RawMessage `json:"signal_data"`
	SentAt    time.Time       `json:"created_at"`
}

// NewSignalMessage marshals payload and stamps a fresh id and send time.
func NewSignalMessage(callID, from, to string, kind SignalKind, payload any) (SignalMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	msg := SignalMessage{
		ID:      uuid.NewString(),
		CallID:  callID,
		From:    from,
		To:      to,
		Kind:    kind,
		Payload: data,
		SentAt:  time.Now().UTC(),
	}
	return msg, msg.Validate()
}

// After reports whether m was created after other, by relay sequence when
// both carry one and by send time otherwise.
func (m SignalMessage) After(other SignalMessage) bool {
	if m.Seq > 0 && other.Seq > 0 {
		return m.Seq > other.Seq
	}
	return m.SentAt.After(other.SentAt)
}

// Validate checks the fields every relay requires.
func (m SignalMessage) Validate() error {
	switch {
	case m.CallID == "":
		return errors.New("signal: call id is required")
	case m.From == "" || m.To == "":
		return errors.New("signal: sender and recipient are required")
	case !m.Kind.Valid():
		return fmt.Errorf("signal: unknown kind %q", m.Kind)
	case len(m.Payload) == 0:
		return errors.New("signal: payload is required")
	}
	return nil
}

// SDP decodes an offer or answer payload.
func (m SignalMessage) SDP() (SDPPayload, error) {
	var sdp SDPPayload
	if err := json.Unmarshal(m.Payload, &sdp); err != nil {
		return SDPPayload{}, fmt.Errorf("decode %s: %w", m.Kind, err)
	}
	if sdp.SDP == "" {
		return SDPPayload{}, fmt.Errorf("decode %s: empty sdp", m.Kind)
	}
	return sdp, nil
}

// Candidate decodes an ice-candidate payload.
func (m SignalMessage) Candidate() (ICECandidatePayload, error) {
	var c ICECandidatePayload
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return ICECandidatePayload{}, fmt.Errorf("decode %s: %w", m.Kind, err)
	}
	return c, nil
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
// It matches the browser's RTCIceCandidateInit.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
