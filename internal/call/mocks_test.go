package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skillswap/native/internal/domain"
)

// trace records the order of calls across mocks.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *trace) index(step string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.steps {
		if s == step {
			return i
		}
	}
	return -1
}

type mockTrack struct {
	id   string
	kind domain.TrackKind

	mu      sync.Mutex
	enabled bool
	stops   int
}

func newMockTrack(id string, kind domain.TrackKind) *mockTrack {
	return &mockTrack{id: id, kind: kind, enabled: true}
}

func (m *mockTrack) ID() string             { return m.id }
func (m *mockTrack) Kind() domain.TrackKind { return m.kind }

func (m *mockTrack) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *mockTrack) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *mockTrack) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *mockTrack) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type mockStream struct {
	id     string
	tracks []domain.LocalTrack
}

func (m *mockStream) ID() string                  { return m.id }
func (m *mockStream) Tracks() []domain.LocalTrack { return m.tracks }

// mockAcquirer returns a fixed media state or error.
type mockAcquirer struct {
	state domain.LocalMediaState
	err   error
	calls int
}

func (m *mockAcquirer) Acquire(ctx context.Context, prefs domain.MediaPreferences) (domain.LocalMediaState, error) {
	m.calls++
	return m.state, m.err
}

func avAcquirer() (*mockAcquirer, *mockTrack, *mockTrack) {
	audio := newMockTrack("mic", domain.TrackAudio)
	video := newMockTrack("cam", domain.TrackVideo)
	return &mockAcquirer{state: domain.LocalMediaState{
		HasVideoTrack: true,
		HasAudioTrack: true,
		Stream:        &mockStream{id: "local", tracks: []domain.LocalTrack{audio, video}},
	}}, audio, video
}

type mockRemoteTrack struct {
	id   string
	kind domain.TrackKind
}

func (m *mockRemoteTrack) ID() string             { return m.id }
func (m *mockRemoteTrack) StreamID() string       { return "remote" }
func (m *mockRemoteTrack) Kind() domain.TrackKind { return m.kind }

// mockPeer records calls for verification.
type mockPeer struct {
	trace *trace

	mu              sync.Mutex
	localTracks     []domain.LocalTrack
	recvOnly        []domain.TrackKind
	onTrack         func(domain.RemoteTrack)
	onCandidate     func(domain.ICECandidatePayload)
	onState         func(domain.PeerState)
	offers          int
	answers         int
	remote          []domain.SDPPayload
	candidates      []string
	setRemoteErr    error
	addCandidateErr error
	closes          int
}

func (m *mockPeer) AddLocalTrack(track domain.LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localTracks = append(m.localTracks, track)
	return nil
}

func (m *mockPeer) AddRecvOnly(kind domain.TrackKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvOnly = append(m.recvOnly, kind)
	return nil
}

func (m *mockPeer) SetOnRemoteTrack(fn func(domain.RemoteTrack)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

func (m *mockPeer) SetOnICECandidate(fn func(domain.ICECandidatePayload)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

func (m *mockPeer) SetOnConnectionState(fn func(domain.PeerState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

func (m *mockPeer) CreateOffer() (domain.SDPPayload, error) {
	m.trace.add("create-offer")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers++
	return domain.SDPPayload{Type: "offer", SDP: "v=0\r\noffer"}, nil
}

func (m *mockPeer) CreateAnswer() (domain.SDPPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers++
	return domain.SDPPayload{Type: "answer", SDP: "v=0\r\nanswer"}, nil
}

func (m *mockPeer) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setRemoteErr != nil {
		return m.setRemoteErr
	}
	m.remote = append(m.remote, sdp)
	return nil
}

func (m *mockPeer) AddRemoteICECandidate(c domain.ICECandidatePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addCandidateErr != nil {
		return m.addCandidateErr
	}
	m.candidates = append(m.candidates, c.Candidate)
	return nil
}

func (m *mockPeer) Close() error {
	m.trace.add("close-peer")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockPeer) emitCandidate(c string) {
	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()
	fn(domain.ICECandidatePayload{Candidate: c})
}

func (m *mockPeer) emitState(s domain.PeerState) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	fn(s)
}

func (m *mockPeer) emitTrack(t domain.RemoteTrack) {
	m.mu.Lock()
	fn := m.onTrack
	m.mu.Unlock()
	fn(t)
}

func (m *mockPeer) remoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.remote)
}

func (m *mockPeer) appliedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.candidates...)
}

func (m *mockPeer) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func peerFactory(p *mockPeer) PeerFactory {
	return func(context.Context) (domain.Peer, error) { return p, nil }
}

// mockSignaling records sends and lets the test deliver messages to the
// subscriber on the test goroutine.
type mockSignaling struct {
	trace *trace

	mu           sync.Mutex
	sent         []domain.SignalMessage
	sendErr      error
	subscribeErr error
	req          domain.SubscribeRequest
	onMessage    func(domain.SignalMessage)
	unsubscribed int
}

func (m *mockSignaling) Send(ctx context.Context, msg domain.SignalMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSignaling) Subscribe(ctx context.Context, req domain.SubscribeRequest, fn func(domain.SignalMessage)) (domain.Subscription, error) {
	m.trace.add("subscribe")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.req = req
	m.onMessage = fn
	return m, nil
}

func (m *mockSignaling) Unsubscribe() {
	m.trace.add("unsubscribe")
	m.mu.Lock()
	m.unsubscribed++
	m.onMessage = nil
	m.mu.Unlock()
}

func (m *mockSignaling) deliver(msg domain.SignalMessage) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (m *mockSignaling) sentKind(kind domain.SignalKind) []domain.SignalMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SignalMessage
	for _, s := range m.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockSignaling) setSendErr(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

var errRelayDown = errors.New("relay down")

func testSession(t *testing.T, callID, local, remote string) domain.CallSession {
	t.Helper()
	cs, err := domain.NewCallSession(callID,
		domain.CallParticipant{ID: local, DisplayName: local},
		domain.CallParticipant{ID: remote, DisplayName: remote})
	if err != nil {
		t.Fatalf("NewCallSession: %v", err)
	}
	return cs
}

func mustSignal(t *testing.T, callID, from, to string, kind domain.SignalKind, payload any) domain.SignalMessage {
	t.Helper()
	msg, err := domain.NewSignalMessage(callID, from, to, kind, payload)
	if err != nil {
		t.Fatalf("NewSignalMessage: %v", err)
	}
	return msg
}

func offerFrom(t *testing.T, from, to string) domain.SignalMessage {
	return mustSignal(t, "room-42", from, to, domain.SignalOffer, domain.SDPPayload{Type: "offer", SDP: "v=0\r\nremote-offer"})
}

func answerFrom(t *testing.T, from, to string) domain.SignalMessage {
	return mustSignal(t, "room-42", from, to, domain.SignalAnswer, domain.SDPPayload{Type: "answer", SDP: "v=0\r\nremote-answer"})
}

func candidateFrom(t *testing.T, from, to, c string) domain.SignalMessage {
	return mustSignal(t, "room-42", from, to, domain.SignalICECandidate, domain.ICECandidatePayload{Candidate: c})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
