package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

// ClientConfig holds what every session of a Client shares.
type ClientConfig struct {
	Preferences  domain.MediaPreferences
	Acquirer     Acquirer
	Signaling    domain.SignalingChannel
	NewPeer      PeerFactory
	ReplayWindow time.Duration
	SendTimeout  time.Duration
	EventLogSize int
	Hook         EventHook
	Logger       *zerolog.Logger
}

// Client opens call sessions for one device. At most one session owns the
// local camera and microphone at a time.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	mu     sync.Mutex
	active Session
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	logger := log.With().Str("component", "call").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{cfg: cfg, logger: logger}
}

// Start opens and starts a session for callID. It returns ErrSessionActive
// while a previous session has not been ended. When Start fails the session is
// still returned so its LastError can be shown, and it no longer blocks the
// next Start.
func (c *Client) Start(ctx context.Context, callID string, local, remote domain.CallParticipant) (*PeerSession, error) {
	cs, err := domain.NewCallSession(callID, local, remote)
	if err != nil {
		return nil, fmt.Errorf("start call: %w", err)
	}

	c.mu.Lock()
	if c.active != nil && !c.active.Ended() {
		c.mu.Unlock()
		return nil, domain.ErrSessionActive
	}
	s := NewPeerSession(SessionConfig{
		Session:      cs,
		Preferences:  c.cfg.Preferences,
		Acquirer:     c.cfg.Acquirer,
		Signaling:    c.cfg.Signaling,
		NewPeer:      c.cfg.NewPeer,
		ReplayWindow: c.cfg.ReplayWindow,
		SendTimeout:  c.cfg.SendTimeout,
		EventLogSize: c.cfg.EventLogSize,
		Hook:         c.cfg.Hook,
		Logger:       c.cfg.Logger,
	})
	c.active = s
	c.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		if endErr := s.End(); endErr != nil {
			c.logger.Warn().Err(endErr).Str("call_id", callID).Msg("release after failed start")
		}
		return s, err
	}
	return s, nil
}

// Active returns the open session, or nil.
func (c *Client) Active() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.Ended() {
		return nil
	}
	return c.active
}
