package call

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"skillswap/native/internal/domain"
)

// Session is the surface a UI drives for one call.
//
// Mutators called before Start has acquired media are no-ops, and every call
// after End is a no-op.
type Session interface {
	Start(ctx context.Context) error
	// ToggleAudio flips the local microphone track and returns whether it is
	// now enabled.
	ToggleAudio() bool
	// ToggleVideo flips the local camera track and returns whether it is now
	// enabled.
	ToggleVideo() bool
	End() error
	// Ended reports whether End has been called.
	Ended() bool

	LocalMedia() domain.LocalMediaState
	RemoteStream() *domain.RemoteStream
	Status() domain.ConnectionStatus
	LastError() error
	Watch() (<-chan Snapshot, func())
	RetrySignaling(ctx context.Context) error
}

// SessionConfig wires a PeerSession.
type SessionConfig struct {
	Session      domain.CallSession
	Preferences  domain.MediaPreferences
	Acquirer     Acquirer
	Signaling    domain.SignalingChannel
	NewPeer      PeerFactory
	ReplayWindow time.Duration
	SendTimeout  time.Duration
	// EventLogSize is the number of events kept for Events. Zero means ten.
	EventLogSize int
	Hook         EventHook
	Logger       *zerolog.Logger
}

// PeerSession is a Session backed by a direct peer connection.
type PeerSession struct {
	n   *Negotiator
	log *EventLog
}

var _ Session = (*PeerSession)(nil)

// NewPeerSession creates an idle session.
func NewPeerSession(cfg SessionConfig) *PeerSession {
	events := NewEventLog(cfg.EventLogSize)
	n := NewNegotiator(NegotiatorConfig{
		Session:      cfg.Session,
		Preferences:  cfg.Preferences,
		Acquirer:     cfg.Acquirer,
		Signaling:    cfg.Signaling,
		NewPeer:      cfg.NewPeer,
		ReplayWindow: cfg.ReplayWindow,
		SendTimeout:  cfg.SendTimeout,
		Hook:         Hooks(events.Record, cfg.Hook),
		Logger:       cfg.Logger,
	})
	return &PeerSession{n: n, log: events}
}

func (s *PeerSession) Start(ctx context.Context) error { return s.n.Start(ctx) }
func (s *PeerSession) ToggleAudio() bool               { return s.n.Toggle(domain.TrackAudio) }
func (s *PeerSession) ToggleVideo() bool               { return s.n.Toggle(domain.TrackVideo) }
func (s *PeerSession) End() error                      { return s.n.End() }
func (s *PeerSession) Ended() bool                     { return s.n.State() == domain.StateClosed }

func (s *PeerSession) LocalMedia() domain.LocalMediaState { return s.n.Snapshot().Media }
func (s *PeerSession) RemoteStream() *domain.RemoteStream { return s.n.Snapshot().Remote }
func (s *PeerSession) Status() domain.ConnectionStatus    { return s.n.Snapshot().Status }
func (s *PeerSession) LastError() error                   { return s.n.Snapshot().Err }
func (s *PeerSession) Watch() (<-chan Snapshot, func())   { return s.n.Watch() }

func (s *PeerSession) RetrySignaling(ctx context.Context) error { return s.n.RetrySignaling(ctx) }

// State returns the negotiator state.
func (s *PeerSession) State() domain.NegotiatorState { return s.n.State() }

// Stats returns the signaling counters.
func (s *PeerSession) Stats() Stats { return s.n.Stats() }

// Events returns the most recent negotiation events, oldest first.
func (s *PeerSession) Events() []Event { return s.log.Entries() }
