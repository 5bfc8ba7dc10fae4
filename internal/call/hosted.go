package call

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

// DefaultHostedDomain is the public hosted meeting service.
const DefaultHostedDomain = "meet.jit.si"

// HostedConfig configures a HostedRoom.
type HostedConfig struct {
	Session     domain.CallSession
	Preferences domain.MediaPreferences
	// Domain of the hosted provider. Empty means DefaultHostedDomain.
	Domain string
	// Open hands the room URL to whatever embeds it (a browser, a webview).
	// When nil the URL is only exposed through URL.
	Open   func(ctx context.Context, roomURL string) error
	Logger *zerolog.Logger
}

// HostedRoom is a Session that delegates the whole call to an external hosted
// room. The provider owns the devices and the connection, so the session only
// tracks the mute preferences it passes along and a coarse status.
type HostedRoom struct {
	cfg    HostedConfig
	host   string
	logger zerolog.Logger

	mu         sync.Mutex
	state      domain.NegotiatorState
	audioMuted bool
	videoMuted bool
	lastErr    error
	version    uint64

	watch *watchers
}

var _ Session = (*HostedRoom)(nil)

// NewHostedRoom creates an idle hosted-room session.
func NewHostedRoom(cfg HostedConfig) *HostedRoom {
	logger := log.With().Str("component", "hosted").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	host := cfg.Domain
	if host == "" {
		host = DefaultHostedDomain
	}
	return &HostedRoom{
		cfg:        cfg,
		host:       host,
		logger:     logger.With().Str("call_id", cfg.Session.CallID).Logger(),
		audioMuted: !cfg.Preferences.WantAudio,
		videoMuted: !cfg.Preferences.WantVideo,
		watch:      newWatchers(),
	}
}

// RoomName maps a call id onto the hosted provider's room name.
func RoomName(callID string) string {
	return "SkillSwap_" + strings.ReplaceAll(callID, "-", "_")
}

// URL returns the embed URL reflecting the current mute preferences.
func (h *HostedRoom) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.urlLocked()
}

func (h *HostedRoom) urlLocked() string {
	q := url.Values{}
	q.Set("config.prejoinPageEnabled", "false")
	q.Set("config.enableLobby", "false")
	q.Set("config.startWithAudioMuted", strconv.FormatBool(h.audioMuted))
	q.Set("config.startWithVideoMuted", strconv.FormatBool(h.videoMuted))
	if name := h.cfg.Session.Local.DisplayName; name != "" {
		q.Set("userInfo.displayName", name)
	}
	u := url.URL{
		Scheme:   "https",
		Host:     h.host,
		Path:     "/" + RoomName(h.cfg.Session.CallID),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (h *HostedRoom) Start(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case domain.StateClosed:
		h.mu.Unlock()
		return domain.ErrSessionClosed
	case domain.StateIdle:
	default:
		h.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	h.setLocked(domain.StateInitializing)
	roomURL := h.urlLocked()
	h.unlockAndPublish()

	if h.cfg.Open != nil {
		if err := h.cfg.Open(ctx, roomURL); err != nil {
			err = domain.NewCallError(domain.KindPeerConnectionFailed, "open hosted room", err)
			h.mu.Lock()
			if h.state != domain.StateClosed {
				h.lastErr = err
				h.setLocked(domain.StateDisconnected)
			}
			h.unlockAndPublish()
			return err
		}
	}

	h.mu.Lock()
	if h.state == domain.StateClosed {
		h.mu.Unlock()
		return domain.ErrSessionClosed
	}
	h.setLocked(domain.StateConnected)
	h.unlockAndPublish()
	h.logger.Info().Str("url", roomURL).Msg("hosted room opened")
	return nil
}

func (h *HostedRoom) ToggleAudio() bool { return h.toggle(&h.audioMuted) }
func (h *HostedRoom) ToggleVideo() bool { return h.toggle(&h.videoMuted) }

func (h *HostedRoom) toggle(muted *bool) bool {
	h.mu.Lock()
	if h.state == domain.StateIdle || h.state == domain.StateClosed {
		h.mu.Unlock()
		return false
	}
	*muted = !*muted
	enabled := !*muted
	h.version++
	h.unlockAndPublish()
	return enabled
}

func (h *HostedRoom) End() error {
	h.mu.Lock()
	if h.state == domain.StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.setLocked(domain.StateClosed)
	final := h.snapshotLocked()
	h.mu.Unlock()

	h.watch.close(final)
	h.logger.Info().Msg("hosted room left")
	return nil
}

func (h *HostedRoom) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == domain.StateClosed
}

// LocalMedia reports the modalities handed to the provider. The provider owns
// the capture, so Stream is always nil.
func (h *HostedRoom) LocalMedia() domain.LocalMediaState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mediaLocked()
}

func (h *HostedRoom) mediaLocked() domain.LocalMediaState {
	if h.state == domain.StateIdle || h.state == domain.StateClosed {
		return domain.LocalMediaState{}
	}
	return domain.LocalMediaState{
		HasVideoTrack: h.cfg.Preferences.WantVideo,
		HasAudioTrack: h.cfg.Preferences.WantAudio,
	}
}

// RemoteStream is always nil; remote media stays inside the hosted room.
func (h *HostedRoom) RemoteStream() *domain.RemoteStream { return nil }

func (h *HostedRoom) Status() domain.ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Status()
}

func (h *HostedRoom) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *HostedRoom) Watch() (<-chan Snapshot, func()) { return h.watch.add() }

// RetrySignaling is a no-op: the hosted provider does its own signaling.
func (h *HostedRoom) RetrySignaling(context.Context) error { return nil }

func (h *HostedRoom) setLocked(s domain.NegotiatorState) {
	h.state = s
	h.version++
}

func (h *HostedRoom) snapshotLocked() Snapshot {
	return Snapshot{
		Version: h.version,
		State:   h.state,
		Status:  h.state.Status(),
		Media:   h.mediaLocked(),
		Err:     h.lastErr,
	}
}

func (h *HostedRoom) unlockAndPublish() {
	snap := h.snapshotLocked()
	h.mu.Unlock()
	h.watch.publish(snap)
}
