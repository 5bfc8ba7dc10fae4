package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

// Config configures a Peer.
type Config struct {
	// ICEServers defaults to domain.DefaultSTUNServers.
	ICEServers []domain.ICEServer
	// RegisterCodecs registers the codecs of the local capture layer. When nil
	// pion's default codecs are registered.
	RegisterCodecs func(*pion.MediaEngine) error
	// IncludeLoopback gathers and forwards loopback candidates.
	IncludeLoopback bool
	Logger          *zerolog.Logger
}

// Peer wraps a Pion PeerConnection and implements domain.Peer.
type Peer struct {
	pc              *pion.PeerConnection
	includeLoopback bool
	logger          zerolog.Logger
}

// NewPeer creates a PeerConnection with a STUN-only ICE configuration.
func NewPeer(cfg Config) (*Peer, error) {
	logger := log.With().Str("component", "webrtc").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	m := &pion.MediaEngine{}
	register := cfg.RegisterCodecs
	if register == nil {
		register = func(m *pion.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create interval pli: %w", err)
	}
	i.Add(pli)

	// A brief path outage should not drop the call outright.
	se := pion.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = domain.DefaultSTUNServers()
	}
	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:              pc,
		includeLoopback: cfg.IncludeLoopback,
		logger:          logger,
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.logger.Debug().Str("state", state.String()).Msg("ICE connection state")
	})

	return p, nil
}

type trackSource interface {
	TrackLocal() pion.TrackLocal
}

// AddLocalTrack attaches a captured track. The RTCP of its sender is drained
// so interceptors see receiver reports.
func (p *Peer) AddLocalTrack(track domain.LocalTrack) error {
	src, ok := track.(trackSource)
	if !ok {
		return fmt.Errorf("add track %s: not a pion track", track.ID())
	}
	sender, err := p.pc.AddTrack(src.TrackLocal())
	if err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	p.logger.Debug().Str("kind", string(track.Kind())).Str("track", track.ID()).Msg("local track attached")
	return nil
}

// AddRecvOnly adds a receive-only transceiver so the SDP still carries an
// m-line for a modality we do not send.
func (p *Peer) AddRecvOnly(kind domain.TrackKind) error {
	codecType := pion.RTPCodecTypeAudio
	if kind == domain.TrackVideo {
		codecType = pion.RTPCodecTypeVideo
	}
	_, err := p.pc.AddTransceiverFromKind(codecType, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	return nil
}

// SetOnRemoteTrack registers the handler for tracks from the other side.
func (p *Peer) SetOnRemoteTrack(fn func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Uint8("pt", uint8(codec.PayloadType)).
			Msg("got remote track")
		fn(&RemoteTrack{track: track})
	})
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(fn func(domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.logger.Debug().Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if !p.includeLoopback && isLoopback(init.Candidate) {
			p.logger.Debug().Msg("filtering loopback ICE candidate")
			return
		}

		p.logger.Debug().Str("candidate", init.Candidate).Msg("local ICE candidate")
		fn(domain.ICECandidatePayload{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

// SetOnConnectionState registers the handler for aggregate state changes. Pion
// keeps one handler, so this is also where the state is logged.
func (p *Peer) SetOnConnectionState(fn func(domain.PeerState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Info().Str("state", state.String()).Msg("peer connection state")
		fn(peerState(state))
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}

	p.logger.Debug().Msg("local SDP offer set")
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}

	p.logger.Debug().Msg("local SDP answer set")
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies a remote offer or answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	typ := pion.NewSDPType(sdp.Type)
	if typ != pion.SDPTypeOffer && typ != pion.SDPTypeAnswer {
		return fmt.Errorf("set remote description: unsupported type %q", sdp.Type)
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.logger.Debug().Str("type", sdp.Type).Msg("remote SDP set")
	return nil
}

// AddRemoteICECandidate adds a candidate from the other side. The caller must
// have set the remote description first.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	if candidate.Candidate == "" {
		return errors.New("add ice candidate: empty candidate")
	}
	init := pion.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	p.logger.Debug().Msg("added remote ICE candidate")
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func peerState(s pion.PeerConnectionState) domain.PeerState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case pion.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case pion.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	}
	return domain.PeerStateNew
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}

// RemoteTrack exposes a received pion track.
type RemoteTrack struct {
	track *pion.TrackRemote
}

func (t *RemoteTrack) ID() string       { return t.track.ID() }
func (t *RemoteTrack) StreamID() string { return t.track.StreamID() }

func (t *RemoteTrack) Kind() domain.TrackKind {
	if t.track.Kind() == pion.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

// Remote returns the underlying pion track for readers.
func (t *RemoteTrack) Remote() *pion.TrackRemote { return t.track }
