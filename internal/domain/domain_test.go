package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAssignRole_SymmetricAndDeterministic(t *testing.T) {
	pairs := [][2]string{
		{"a1", "b2"},
		{"b2", "a1"},
		{"user-10", "user-9"},
		{"Zed", "abe"},
		{"", "x"},
		{"same-prefix", "same-prefix-longer"},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		ra, rb := AssignRole(a, b), AssignRole(b, a)
		if (ra == RoleOfferer) == (rb == RoleOfferer) {
			t.Errorf("(%q,%q): expected exactly one offerer, got %s/%s", a, b, ra, rb)
		}
		if again := AssignRole(a, b); again != ra {
			t.Errorf("(%q,%q): role changed between runs: %s then %s", a, b, ra, again)
		}
	}
}

func TestAssignRole_SmallerIDOffers(t *testing.T) {
	if got := AssignRole("a1", "b2"); got != RoleOfferer {
		t.Errorf("expected a1 to offer, got %s", got)
	}
	if got := AssignRole("b2", "a1"); got != RoleAnswerer {
		t.Errorf("expected b2 to answer, got %s", got)
	}
}

func TestNewCallSession_Validates(t *testing.T) {
	a := CallParticipant{ID: "a1", DisplayName: "Ada"}
	b := CallParticipant{ID: "b2", DisplayName: "Bo"}

	if _, err := NewCallSession("", a, b); err == nil {
		t.Error("expected error for empty call id")
	}
	if _, err := NewCallSession("room-42", a, a); err == nil {
		t.Error("expected error for self call")
	}
	if _, err := NewCallSession("room-42", a, CallParticipant{}); err == nil {
		t.Error("expected error for missing remote id")
	}

	s, err := NewCallSession("room-42", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CreatedAt.IsZero() {
		t.Error("expected creation time to be set")
	}
	if s.Role() != RoleOfferer {
		t.Errorf("expected a1 to be offerer, got %s", s.Role())
	}
}

func TestNewCallSession_FreshIDPerAttempt(t *testing.T) {
	a := CallParticipant{ID: "a1"}
	b := CallParticipant{ID: "b2"}
	first, err := NewCallSession("room-42", a, b)
	if err != nil {
		t.Fatalf("NewCallSession: %v", err)
	}
	second, err := NewCallSession("room-42", a, b)
	if err != nil {
		t.Fatalf("NewCallSession: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("session ids %q and %q, want distinct non-empty ids", first.ID, second.ID)
	}
}

func TestSignalMessage_AfterPrefersRelaySeq(t *testing.T) {
	now := time.Now()
	older := SignalMessage{Seq: 3, SentAt: now}
	newer := SignalMessage{Seq: 4, SentAt: now.Add(-time.Minute)}
	if !newer.After(older) || older.After(newer) {
		t.Error("seq should decide when both messages carry one")
	}

	unsequenced := SignalMessage{SentAt: now.Add(time.Second)}
	if !unsequenced.After(older) {
		t.Error("send time should decide without a seq")
	}
}

func TestNewSignalMessage_RoundTripsPayload(t *testing.T) {
	msg, err := NewSignalMessage("room-42", "a1", "b2", SignalOffer, SDPPayload{Type: "offer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == "" || msg.SentAt.IsZero() {
		t.Error("expected id and send time to be stamped")
	}
	sdp, err := msg.SDP()
	if err != nil {
		t.Fatalf("decode sdp: %v", err)
	}
	if sdp.SDP != "v=0" || sdp.Type != "offer" {
		t.Errorf("unexpected sdp %+v", sdp)
	}
}

func TestSignalMessage_ValidateRejectsUnknownKind(t *testing.T) {
	msg := SignalMessage{CallID: "c", From: "a", To: "b", Kind: "hangup", Payload: []byte(`{}`)}
	if err := msg.Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSignalMessage_SDPRejectsEmpty(t *testing.T) {
	msg := SignalMessage{CallID: "c", From: "a", To: "b", Kind: SignalAnswer, Payload: []byte(`{"type":"answer"}`)}
	if _, err := msg.SDP(); err == nil {
		t.Error("expected error for empty sdp")
	}
}

func TestCallError_UnwrapsToSentinelAndCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("send offer: %w", NewCallError(KindSignalingTransport, "send", cause))

	if !errors.Is(err, ErrSignalingTransport) {
		t.Error("expected errors.Is to match the kind sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}
	if KindOf(err) != KindSignalingTransport {
		t.Errorf("expected signaling kind, got %s", KindOf(err))
	}
	if !Retryable(err) {
		t.Error("expected transport errors to be retryable")
	}
}

func TestKindOf_PlainSentinels(t *testing.T) {
	if KindOf(fmt.Errorf("open camera: %w", ErrMediaPermissionDenied)) != KindMediaPermissionDenied {
		t.Error("expected permission kind")
	}
	if Retryable(ErrMediaPermissionDenied) {
		t.Error("permission denied must not be retryable")
	}
	if Retryable(ErrPeerConnectionFailed) {
		t.Error("peer connection failure must not be retryable")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("expected unknown kind")
	}
}

func TestNegotiatorState_Status(t *testing.T) {
	cases := map[NegotiatorState]ConnectionStatus{
		StateIdle:         StatusConnecting,
		StateInitializing: StatusConnecting,
		StateNegotiating:  StatusConnecting,
		StateConnected:    StatusConnected,
		StateDisconnected: StatusDisconnected,
		StateClosed:       StatusDisconnected,
	}
	for state, want := range cases {
		if got := state.Status(); got != want {
			t.Errorf("%s: expected %s, got %s", state, want, got)
		}
	}
}
