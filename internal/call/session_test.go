package call

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"skillswap/native/internal/domain"
	"skillswap/native/internal/relay/memory"
)

func TestCall_EndToEndOverMemoryRelay(t *testing.T) {
	relay := memory.New(nil)
	ctx := context.Background()

	newSide := func(local, remote string) (*PeerSession, *mockPeer) {
		acq, _, _ := avAcquirer()
		peer := &mockPeer{}
		s := NewPeerSession(SessionConfig{
			Session:     testSession(t, "room-42", local, remote),
			Preferences: domain.MediaPreferences{WantVideo: true, WantAudio: true},
			Acquirer:    acq,
			Signaling:   relay,
			NewPeer:     peerFactory(peer),
		})
		return s, peer
	}

	b2, peerB := newSide("b2", "a1")
	a1, peerA := newSide("a1", "b2")
	defer a1.End()
	defer b2.End()

	if a1.n.Role() != domain.RoleOfferer || b2.n.Role() != domain.RoleAnswerer {
		t.Fatalf("roles = %s/%s, want a1 offering", a1.n.Role(), b2.n.Role())
	}

	if err := b2.Start(ctx); err != nil {
		t.Fatalf("b2 Start: %v", err)
	}
	if err := a1.Start(ctx); err != nil {
		t.Fatalf("a1 Start: %v", err)
	}

	waitFor(t, "b2 to apply the offer", func() bool { return peerB.remoteCount() == 1 })
	waitFor(t, "a1 to apply the answer", func() bool { return peerA.remoteCount() == 1 })

	peerA.emitCandidate("cand-a")
	peerB.emitCandidate("cand-b")
	waitFor(t, "b2 to apply a1's candidate", func() bool { return len(peerB.appliedCandidates()) == 1 })
	waitFor(t, "a1 to apply b2's candidate", func() bool { return len(peerA.appliedCandidates()) == 1 })

	peerA.emitState(domain.PeerStateConnected)
	peerB.emitState(domain.PeerStateConnected)
	if a1.Status() != domain.StatusConnected || b2.Status() != domain.StatusConnected {
		t.Fatalf("status = %s/%s, want both connected", a1.Status(), b2.Status())
	}

	history, err := relay.List(ctx, domain.SignalQuery{CallID: "room-42"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	count := map[string]int{}
	for _, m := range history {
		count[m.From+":"+string(m.Kind)]++
	}
	if count["a1:offer"] != 1 || count["b2:answer"] != 1 {
		t.Errorf("relay history = %v, want exactly one a1 offer and one b2 answer", count)
	}
	if count["b2:offer"] != 0 || count["a1:answer"] != 0 {
		t.Errorf("relay history = %v, roles crossed", count)
	}

	if err := a1.End(); err != nil {
		t.Errorf("a1 End: %v", err)
	}
	if err := b2.End(); err != nil {
		t.Errorf("b2 End: %v", err)
	}
	if n := relay.Subscribers(); n != 0 {
		t.Errorf("%d subscriptions left after End", n)
	}
}

func TestPeerSession_MutatorsBeforeStartAreNoops(t *testing.T) {
	acq, audio, video := avAcquirer()
	s := NewPeerSession(SessionConfig{
		Session:   testSession(t, "room-42", "a1", "b2"),
		Acquirer:  acq,
		Signaling: &mockSignaling{},
		NewPeer:   peerFactory(&mockPeer{}),
	})

	if s.ToggleAudio() || s.ToggleVideo() {
		t.Error("toggle before Start reported an enabled track")
	}
	if !audio.Enabled() || !video.Enabled() {
		t.Error("toggle before Start changed a track")
	}
	if s.LocalMedia().Stream != nil {
		t.Error("local media exists before Start")
	}
	if s.Status() != domain.StatusConnecting {
		t.Errorf("status = %s, want connecting", s.Status())
	}
	if err := s.End(); err != nil {
		t.Errorf("End: %v", err)
	}
	if !s.Ended() {
		t.Error("Ended = false after End")
	}
}

func TestPeerSession_EventsKeepsRecentEntries(t *testing.T) {
	acq, _, _ := avAcquirer()
	s := NewPeerSession(SessionConfig{
		Session:      testSession(t, "room-42", "a1", "b2"),
		Acquirer:     acq,
		Signaling:    &mockSignaling{},
		NewPeer:      peerFactory(&mockPeer{}),
		EventLogSize: 3,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.End()

	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("kept %d events, want 3", len(events))
	}
	last := events[len(events)-1]
	if last.Type != EventState || last.Detail != domain.StateClosed.String() {
		t.Errorf("last event = %+v, want the closed state", last)
	}
}

func TestClient_OneActiveSession(t *testing.T) {
	sig := &mockSignaling{}
	acq, _, _ := avAcquirer()
	c := NewClient(ClientConfig{
		Preferences: domain.MediaPreferences{WantAudio: true, WantVideo: true},
		Acquirer:    acq,
		Signaling:   sig,
		NewPeer:     func(context.Context) (domain.Peer, error) { return &mockPeer{}, nil },
	})
	ctx := context.Background()
	a1 := domain.CallParticipant{ID: "a1", DisplayName: "Ada"}
	b2 := domain.CallParticipant{ID: "b2", DisplayName: "Bo"}

	first, err := c.Start(ctx, "room-42", a1, b2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Start(ctx, "room-43", a1, b2); !errors.Is(err, domain.ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}
	if c.Active() != Session(first) {
		t.Error("Active is not the first session")
	}

	first.End()
	if c.Active() != nil {
		t.Error("Active is set after End")
	}
	second, err := c.Start(ctx, "room-43", a1, b2)
	if err != nil {
		t.Fatalf("Start after End: %v", err)
	}
	second.End()
}

func TestClient_FailedStartDoesNotBlock(t *testing.T) {
	acq := &mockAcquirer{err: domain.NewCallError(domain.KindMediaDeviceNotFound, "acquire", domain.ErrMediaDeviceNotFound)}
	c := NewClient(ClientConfig{
		Acquirer:  acq,
		Signaling: &mockSignaling{},
		NewPeer:   func(context.Context) (domain.Peer, error) { return &mockPeer{}, nil },
	})
	a1 := domain.CallParticipant{ID: "a1"}
	b2 := domain.CallParticipant{ID: "b2"}

	s, err := c.Start(context.Background(), "room-42", a1, b2)
	if !errors.Is(err, domain.ErrMediaDeviceNotFound) {
		t.Fatalf("Start = %v, want device not found", err)
	}
	if s == nil {
		t.Fatal("failed Start returned no session")
	}
	if domain.KindOf(s.LastError()) != domain.KindMediaDeviceNotFound {
		t.Fatalf("session last error = %v", s.LastError())
	}

	acq.err = nil
	next, err := c.Start(context.Background(), "room-42", a1, b2)
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	next.End()
}

func TestClient_RejectsInvalidParticipants(t *testing.T) {
	c := NewClient(ClientConfig{})
	a1 := domain.CallParticipant{ID: "a1"}
	if _, err := c.Start(context.Background(), "room-42", a1, a1); err == nil {
		t.Error("expected error for a self call")
	}
	if _, err := c.Start(context.Background(), "", a1, domain.CallParticipant{ID: "b2"}); err == nil {
		t.Error("expected error for an empty call id")
	}
}

func TestHostedRoom_URL(t *testing.T) {
	if got := RoomName("4f1c-99-ab"); got != "SkillSwap_4f1c_99_ab" {
		t.Errorf("RoomName = %s", got)
	}

	h := NewHostedRoom(HostedConfig{
		Session:     testSession(t, "4f1c-99", "a1", "b2"),
		Preferences: domain.MediaPreferences{WantAudio: true, WantVideo: true},
	})
	u, err := url.Parse(h.URL())
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if u.Host != DefaultHostedDomain || u.Path != "/SkillSwap_4f1c_99" {
		t.Errorf("URL = %s", u)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"config.prejoinPageEnabled":  "false",
		"config.enableLobby":         "false",
		"config.startWithAudioMuted": "false",
		"config.startWithVideoMuted": "false",
		"userInfo.displayName":       "a1",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestHostedRoom_Lifecycle(t *testing.T) {
	var opened []string
	h := NewHostedRoom(HostedConfig{
		Session:     testSession(t, "room-42", "a1", "b2"),
		Preferences: domain.MediaPreferences{WantAudio: true, WantVideo: true},
		Domain:      "meet.example.org",
		Open: func(_ context.Context, u string) error {
			opened = append(opened, u)
			return nil
		},
	})

	if h.ToggleAudio() {
		t.Error("toggle before Start reported enabled audio")
	}
	if h.Status() != domain.StatusConnecting {
		t.Errorf("status = %s, want connecting", h.Status())
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(opened) != 1 || !strings.HasPrefix(opened[0], "https://meet.example.org/SkillSwap_room_42?") {
		t.Fatalf("opened %v", opened)
	}
	if h.Status() != domain.StatusConnected {
		t.Errorf("status = %s, want connected", h.Status())
	}

	if h.ToggleAudio() {
		t.Error("first toggle should mute audio")
	}
	if !strings.Contains(h.URL(), "config.startWithAudioMuted=true") {
		t.Errorf("URL %s does not carry the mute", h.URL())
	}
	if !h.ToggleAudio() {
		t.Error("second toggle should unmute audio")
	}

	if err := h.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := h.End(); err != nil {
		t.Fatalf("second End: %v", err)
	}
	if h.Status() != domain.StatusDisconnected || !h.Ended() {
		t.Errorf("status = %s ended=%v after End", h.Status(), h.Ended())
	}
	if err := h.Start(context.Background()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Start after End = %v", err)
	}
}

func TestHostedRoom_OpenFailure(t *testing.T) {
	h := NewHostedRoom(HostedConfig{
		Session: testSession(t, "room-42", "a1", "b2"),
		Open:    func(context.Context, string) error { return errors.New("no browser") },
	})
	if err := h.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if h.Status() != domain.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", h.Status())
	}
	if h.LastError() == nil {
		t.Error("LastError is nil")
	}
}
