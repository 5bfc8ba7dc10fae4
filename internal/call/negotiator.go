// Package call drives a two-party peer call: the negotiator owns one peer
// connection and runs the offer/answer/ICE exchange over a signaling channel,
// and the session types expose it to a UI.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"skillswap/native/internal/domain"
	"skillswap/native/internal/media"
)

const (
	defaultReplayWindow = 2 * time.Minute
	defaultSendTimeout  = 10 * time.Second
)

// Acquirer obtains local media for a session.
type Acquirer interface {
	Acquire(ctx context.Context, prefs domain.MediaPreferences) (domain.LocalMediaState, error)
}

// PeerFactory creates the peer connection of one session.
type PeerFactory func(ctx context.Context) (domain.Peer, error)

// Stats counts signaling traffic of one negotiator.
type Stats struct {
	OffersSent         int
	AnswersSent        int
	CandidatesSent     int
	CandidatesBuffered int
	CandidatesApplied  int
	SignalsIgnored     int
	SendFailures       int
	PeersRebuilt       int
}

// pendingCandidate is a remote candidate held until the description of the
// session that sent it is applied.
type pendingCandidate struct {
	session   string
	candidate domain.ICECandidatePayload
}

// NegotiatorConfig wires a Negotiator.
type NegotiatorConfig struct {
	Session     domain.CallSession
	Preferences domain.MediaPreferences
	Acquirer    Acquirer
	Signaling   domain.SignalingChannel
	NewPeer     PeerFactory

	// ReplayWindow bounds how far before the session creation time the
	// signaling backlog is replayed. Zero means two minutes; a negative
	// value replays the whole backlog.
	ReplayWindow time.Duration
	// SendTimeout bounds each relay send. Zero means ten seconds.
	SendTimeout time.Duration

	Hook   EventHook
	Logger *zerolog.Logger
}

// Negotiator is the call state machine. Signaling and peer callbacks may
// arrive on any goroutine while Start is still running; every transition is
// made under one mutex and relay sends happen outside it.
type Negotiator struct {
	session      domain.CallSession
	id           string
	role         domain.Role
	prefs        domain.MediaPreferences
	acquirer     Acquirer
	signaling    domain.SignalingChannel
	newPeer      PeerFactory
	replayWindow time.Duration
	sendTimeout  time.Duration
	hook         EventHook
	logger       zerolog.Logger

	mu            sync.Mutex
	state         domain.NegotiatorState
	closed        bool
	media         domain.LocalMediaState
	peer          domain.Peer
	sub           domain.Subscription
	localDescSet  bool
	remoteDescSet bool
	remoteSession string
	remoteOffer   domain.SignalMessage
	pending       []pendingCandidate
	remote        *domain.RemoteStream
	lastErr       error
	failed        []domain.SignalMessage
	stats         Stats
	version       uint64
	events        []Event

	watch *watchers
}

// NewNegotiator creates an idle negotiator for cfg.Session.
func NewNegotiator(cfg NegotiatorConfig) *Negotiator {
	logger := log.With().Str("component", "call").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	id := cfg.Session.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With().
		Str("call_id", cfg.Session.CallID).
		Str("session", id).
		Str("self", cfg.Session.Local.ID).
		Logger()

	replay := cfg.ReplayWindow
	if replay == 0 {
		replay = defaultReplayWindow
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	return &Negotiator{
		session:      cfg.Session,
		id:           id,
		role:         cfg.Session.Role(),
		prefs:        cfg.Preferences,
		acquirer:     cfg.Acquirer,
		signaling:    cfg.Signaling,
		newPeer:      cfg.NewPeer,
		replayWindow: replay,
		sendTimeout:  sendTimeout,
		hook:         cfg.Hook,
		logger:       logger,
		watch:        newWatchers(),
	}
}

// Role reports whether this side creates the offer.
func (n *Negotiator) Role() domain.Role { return n.role }

// Start acquires media, builds the peer connection, subscribes to the
// signaling channel and, on the offering side, sends the offer. A media or
// peer failure moves the negotiator to Disconnected and is returned; a failed
// offer send is only recorded in LastError since it can be retried.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if n.state != domain.StateIdle {
		n.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	n.setStateLocked(domain.StateInitializing)
	n.unlockAndNotify()

	n.logger.Info().Str("role", n.role.String()).Str("peer", n.session.Remote.ID).Msg("starting call")

	state, err := n.acquirer.Acquire(ctx, n.prefs)
	if err != nil {
		return n.failStart("acquire media", domain.KindMediaUnknown, err, nil)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = media.Release(state)
		return domain.ErrSessionClosed
	}
	n.media = state
	n.emitLocked(EventMedia, mediaDetail(state), nil)
	n.unlockAndNotify()

	peer, err := n.newPeer(ctx)
	if err != nil {
		return n.failStart("create peer connection", domain.KindPeerConnectionFailed, err, nil)
	}
	n.bindPeer(peer)
	if err := attachTracks(peer, state); err != nil {
		return n.failStart("attach tracks", domain.KindPeerConnectionFailed, err, peer)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = peer.Close()
		return domain.ErrSessionClosed
	}
	n.peer = peer
	n.setStateLocked(domain.StateNegotiating)
	n.unlockAndNotify()

	// Subscribe before any offer exists so the other side's reply cannot be
	// missed.
	req := domain.SubscribeRequest{
		CallID:        n.session.CallID,
		ParticipantID: n.session.Local.ID,
	}
	if n.replayWindow > 0 {
		req.Since = n.session.CreatedAt.Add(-n.replayWindow)
	}
	sub, err := n.signaling.Subscribe(ctx, req, n.onSignal)
	if err != nil {
		return n.failStart("subscribe", domain.KindSignalingTransport, err, nil)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sub.Unsubscribe()
		return domain.ErrSessionClosed
	}
	n.sub = sub
	if n.role != domain.RoleOfferer {
		n.logger.Info().Msg("waiting for offer")
		n.unlockAndNotify()
		return nil
	}

	offer, err := n.peer.CreateOffer()
	if err != nil {
		n.mu.Unlock()
		return n.failStart("create offer", domain.KindPeerConnectionFailed, err, nil)
	}
	n.localDescSet = true
	msg, err := n.newMessageLocked(domain.SignalOffer, offer)
	n.unlockAndNotify()
	if err != nil {
		return n.failStart("encode offer", domain.KindPeerConnectionFailed, err, nil)
	}

	n.send(msg)
	return nil
}

// failStart records a terminal start failure. Resources already owned by the
// negotiator are released; extra is a peer not yet handed over.
func (n *Negotiator) failStart(op string, fallback domain.ErrorKind, cause error, extra domain.Peer) error {
	if extra != nil {
		_ = extra.Close()
	}

	err := asCallError(op, fallback, cause)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return err
	}
	sub, peer, state := n.sub, n.peer, n.media
	n.sub, n.peer, n.media = nil, nil, domain.LocalMediaState{}
	n.pending = nil
	n.lastErr = err
	n.emitLocked(EventError, op, err)
	n.setStateLocked(domain.StateDisconnected)
	n.unlockAndNotify()

	n.logger.Error().Err(err).Str("op", op).Msg("call start failed")

	if sub != nil {
		sub.Unsubscribe()
	}
	_ = media.Release(state)
	if peer != nil {
		_ = peer.Close()
	}
	return err
}

// bindPeer routes the callbacks of p to the negotiator. Callbacks of a peer
// that is no longer current are dropped.
func (n *Negotiator) bindPeer(p domain.Peer) {
	p.SetOnICECandidate(func(c domain.ICECandidatePayload) { n.onLocalCandidate(p, c) })
	p.SetOnConnectionState(func(s domain.PeerState) { n.onPeerState(p, s) })
	p.SetOnRemoteTrack(func(t domain.RemoteTrack) { n.onRemoteTrack(p, t) })
}

func attachTracks(peer domain.Peer, state domain.LocalMediaState) error {
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if t := state.Track(kind); t != nil {
			if err := peer.AddLocalTrack(t); err != nil {
				return err
			}
			continue
		}
		if err := peer.AddRecvOnly(kind); err != nil {
			return err
		}
	}
	return nil
}

func (n *Negotiator) onSignal(msg domain.SignalMessage) {
	n.mu.Lock()
	out, ok, retired := n.handleSignalLocked(msg)
	n.unlockAndNotify()

	for _, p := range retired {
		if err := p.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("close replaced peer")
		}
	}
	if ok {
		n.send(out)
	}
}

// handleSignalLocked applies msg and returns a reply to send, if any, and the
// peers it replaced, which the caller closes after unlocking.
//
// Signals are scoped to sessions: the offerer only takes answers and
// candidates that reply to its own session, and the answerer follows the
// newest offer until the call connects.
func (n *Negotiator) handleSignalLocked(msg domain.SignalMessage) (domain.SignalMessage, bool, []domain.Peer) {
	if n.closed || n.peer == nil || n.state.Terminal() {
		return domain.SignalMessage{}, false, nil
	}
	if msg.CallID != n.session.CallID || msg.To != n.session.Local.ID || msg.From != n.session.Remote.ID {
		n.ignoreLocked(msg, "not addressed to this session")
		return domain.SignalMessage{}, false, nil
	}
	n.emitLocked(EventSignalReceived, string(msg.Kind), nil)

	if n.role == domain.RoleOfferer && msg.Kind != domain.SignalOffer && msg.ReplyTo != n.id {
		n.ignoreLocked(msg, "reply to another session")
		return domain.SignalMessage{}, false, nil
	}

	switch msg.Kind {
	case domain.SignalOffer:
		if n.role == domain.RoleOfferer {
			n.ignoreLocked(msg, "offer received by offering peer")
			return domain.SignalMessage{}, false, nil
		}
		var retired []domain.Peer
		if n.remoteDescSet {
			switch {
			case msg.SessionID == n.remoteSession:
				n.ignoreLocked(msg, "duplicate offer")
				return domain.SignalMessage{}, false, nil
			case !msg.After(n.remoteOffer):
				n.ignoreLocked(msg, "offer older than the applied one")
				return domain.SignalMessage{}, false, nil
			case n.state == domain.StateConnected:
				n.ignoreLocked(msg, "offer after connect")
				return domain.SignalMessage{}, false, nil
			}
			var err error
			retired, err = n.rebuildLocked(msg)
			if err != nil {
				n.recordLocked("rebuild peer", domain.KindPeerConnectionFailed, err)
				return domain.SignalMessage{}, false, retired
			}
		}
		if !n.applyRemoteLocked(msg) {
			return domain.SignalMessage{}, false, retired
		}
		n.remoteOffer = msg

		answer, err := n.peer.CreateAnswer()
		if err != nil {
			n.recordLocked("create answer", domain.KindPeerConnectionFailed, err)
			return domain.SignalMessage{}, false, retired
		}
		n.localDescSet = true
		out, err := n.newMessageLocked(domain.SignalAnswer, answer)
		if err != nil {
			n.recordLocked("encode answer", domain.KindPeerConnectionFailed, err)
			return domain.SignalMessage{}, false, retired
		}
		return out, true, retired

	case domain.SignalAnswer:
		if n.role != domain.RoleOfferer {
			n.ignoreLocked(msg, "answer received by answering peer")
			return domain.SignalMessage{}, false, nil
		}
		if !n.localDescSet {
			n.ignoreLocked(msg, "answer before local offer")
			return domain.SignalMessage{}, false, nil
		}
		if n.remoteDescSet {
			n.ignoreLocked(msg, "duplicate answer")
			return domain.SignalMessage{}, false, nil
		}
		n.applyRemoteLocked(msg)

	case domain.SignalICECandidate:
		c, err := msg.Candidate()
		if err != nil {
			n.ignoreLocked(msg, err.Error())
			return domain.SignalMessage{}, false, nil
		}
		if !n.remoteDescSet || msg.SessionID != n.remoteSession {
			n.pending = append(n.pending, pendingCandidate{session: msg.SessionID, candidate: c})
			n.stats.CandidatesBuffered++
			n.emitLocked(EventCandidateBuffered, c.Candidate, nil)
			n.logger.Debug().Int("buffered", len(n.pending)).Msg("remote candidate buffered until its description")
			return domain.SignalMessage{}, false, nil
		}
		n.addCandidateLocked(c)
	}
	return domain.SignalMessage{}, false, nil
}

// rebuildLocked swaps in a fresh peer for an offer from a newer remote
// session. The returned peers are closed by the caller outside the lock.
func (n *Negotiator) rebuildLocked(offer domain.SignalMessage) ([]domain.Peer, error) {
	peer, err := n.newPeer(context.Background())
	if err != nil {
		return nil, err
	}
	n.bindPeer(peer)
	if err := attachTracks(peer, n.media); err != nil {
		return []domain.Peer{peer}, err
	}

	old := n.peer
	n.peer = peer
	n.localDescSet, n.remoteDescSet = false, false
	n.remoteSession = ""
	n.remote = nil
	n.stats.PeersRebuilt++
	n.emitLocked(EventPeerRebuilt, offer.SessionID, nil)
	n.logger.Info().Str("remote_session", offer.SessionID).Msg("newer offer, rebuilding peer")
	return []domain.Peer{old}, nil
}

// applyRemoteLocked sets the remote description carried by msg and flushes
// buffered candidates. A malformed description is recorded and leaves the
// negotiator waiting, so a retransmitted signal can still succeed.
func (n *Negotiator) applyRemoteLocked(msg domain.SignalMessage) bool {
	sdp, err := msg.SDP()
	if err != nil {
		n.recordLocked("decode "+string(msg.Kind), domain.KindPeerConnectionFailed, err)
		return false
	}
	if err := n.peer.SetRemoteDescription(sdp); err != nil {
		n.recordLocked("apply "+string(msg.Kind), domain.KindPeerConnectionFailed, err)
		return false
	}
	n.remoteDescSet = true
	n.remoteSession = msg.SessionID
	n.logger.Info().Str("kind", string(msg.Kind)).Str("remote_session", msg.SessionID).Msg("remote description set")

	pending := n.pending
	n.pending = nil
	for _, p := range pending {
		if p.session == msg.SessionID {
			n.addCandidateLocked(p.candidate)
		}
	}
	return true
}

func (n *Negotiator) addCandidateLocked(c domain.ICECandidatePayload) {
	if err := n.peer.AddRemoteICECandidate(c); err != nil {
		n.emitLocked(EventCandidateFailed, c.Candidate, err)
		n.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("remote candidate rejected")
		return
	}
	n.stats.CandidatesApplied++
	n.emitLocked(EventCandidateApplied, c.Candidate, nil)
}

func (n *Negotiator) ignoreLocked(msg domain.SignalMessage, reason string) {
	n.stats.SignalsIgnored++
	n.emitLocked(EventSignalIgnored, string(msg.Kind)+": "+reason, domain.ErrStaleOrDuplicateSignal)
	n.logger.Debug().
		Str("id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("from", msg.From).
		Str("reason", reason).
		Msg("signal ignored")
}

// recordLocked surfaces a non-terminal failure through LastError.
func (n *Negotiator) recordLocked(op string, kind domain.ErrorKind, err error) {
	n.lastErr = domain.NewCallError(kind, op, err)
	n.emitLocked(EventError, op, n.lastErr)
	n.logger.Warn().Err(err).Str("op", op).Msg("negotiation step failed")
}

func (n *Negotiator) onLocalCandidate(p domain.Peer, c domain.ICECandidatePayload) {
	n.mu.Lock()
	if n.closed || n.peer != p || n.state.Terminal() {
		n.mu.Unlock()
		return
	}
	msg, err := n.newMessageLocked(domain.SignalICECandidate, c)
	if err != nil {
		n.recordLocked("encode candidate", domain.KindPeerConnectionFailed, err)
	}
	n.unlockAndNotify()

	if err == nil {
		n.send(msg)
	}
}

func (n *Negotiator) onPeerState(p domain.Peer, s domain.PeerState) {
	n.mu.Lock()
	if n.closed || n.peer != p {
		n.mu.Unlock()
		return
	}
	switch s {
	case domain.PeerStateConnected:
		if n.state == domain.StateNegotiating {
			n.setStateLocked(domain.StateConnected)
		}
	case domain.PeerStateDisconnected, domain.PeerStateFailed:
		if !n.state.Terminal() {
			n.lastErr = domain.NewCallError(domain.KindPeerConnectionFailed, "peer connection "+s.String(), nil)
			n.emitLocked(EventError, "peer connection "+s.String(), n.lastErr)
			n.setStateLocked(domain.StateDisconnected)
		}
	}
	n.unlockAndNotify()
}

func (n *Negotiator) onRemoteTrack(p domain.Peer, t domain.RemoteTrack) {
	n.mu.Lock()
	if n.closed || n.peer != p {
		n.mu.Unlock()
		return
	}
	if n.remote == nil {
		n.remote = &domain.RemoteStream{ID: t.StreamID()}
	}
	n.remote.Tracks = append(n.remote.Tracks, t)
	n.emitLocked(EventRemoteTrack, string(t.Kind()), nil)
	n.logger.Info().Str("kind", string(t.Kind())).Str("track", t.ID()).Msg("remote track available")
	n.unlockAndNotify()
}

func (n *Negotiator) newMessageLocked(kind domain.SignalKind, payload any) (domain.SignalMessage, error) {
	msg, err := domain.NewSignalMessage(n.session.CallID, n.session.Local.ID, n.session.Remote.ID, kind, payload)
	msg.SessionID = n.id
	msg.ReplyTo = n.remoteSession
	return msg, err
}

// send relays msg. A failure is kept for RetrySignaling and surfaced as a
// retryable LastError.
func (n *Negotiator) send(msg domain.SignalMessage) {
	if err := n.transmit(msg); err != nil {
		n.mu.Lock()
		if !n.closed {
			n.failed = append(n.failed, msg)
		}
		n.unlockAndNotify()
	}
}

func (n *Negotiator) transmit(msg domain.SignalMessage) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	err := n.signaling.Send(ctx, msg)

	n.mu.Lock()
	defer n.unlockAndNotify()
	if n.closed {
		return err
	}
	if err != nil {
		n.stats.SendFailures++
		n.lastErr = asCallError("send "+string(msg.Kind), domain.KindSignalingTransport, err)
		n.emitLocked(EventError, "send "+string(msg.Kind), n.lastErr)
		n.logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("signal send failed")
		return err
	}

	switch msg.Kind {
	case domain.SignalOffer:
		n.stats.OffersSent++
	case domain.SignalAnswer:
		n.stats.AnswersSent++
	case domain.SignalICECandidate:
		n.stats.CandidatesSent++
	}
	n.emitLocked(EventSignalSent, string(msg.Kind), nil)
	n.logger.Debug().Str("kind", string(msg.Kind)).Str("id", msg.ID).Msg("signal sent")
	return nil
}

// RetrySignaling re-sends, in order, the messages whose send failed. It stops
// at the first failure and keeps that message and the rest for a later retry.
func (n *Negotiator) RetrySignaling(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return domain.ErrSessionClosed
	}
	queue := n.failed
	n.failed = nil
	n.mu.Unlock()

	for i, msg := range queue {
		if err := ctx.Err(); err != nil {
			n.requeue(queue[i:])
			return err
		}
		if err := n.transmit(msg); err != nil {
			n.requeue(queue[i:])
			return err
		}
	}

	n.mu.Lock()
	if len(n.failed) == 0 && domain.KindOf(n.lastErr) == domain.KindSignalingTransport {
		n.lastErr = nil
		n.version++
	}
	n.unlockAndNotify()
	return nil
}

func (n *Negotiator) requeue(msgs []domain.SignalMessage) {
	n.mu.Lock()
	if !n.closed {
		n.failed = append(append([]domain.SignalMessage(nil), msgs...), n.failed...)
	}
	n.mu.Unlock()
}

// Toggle flips the enabled flag of the local track of kind and returns the new
// value. It reports false when there is no such track or the session ended.
func (n *Negotiator) Toggle(kind domain.TrackKind) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	t := n.media.Track(kind)
	if t == nil {
		n.mu.Unlock()
		return false
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	n.version++
	n.logger.Debug().Str("kind", string(kind)).Bool("enabled", enabled).Msg("local track toggled")
	n.unlockAndNotify()
	return enabled
}

// End closes the session: it unsubscribes first so no callback can reach the
// peer afterwards, then stops the local tracks and closes the peer. Calling End
// again is a no-op.
func (n *Negotiator) End() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	sub, peer, state := n.sub, n.peer, n.media
	n.sub, n.peer, n.media = nil, nil, domain.LocalMediaState{}
	n.pending, n.failed = nil, nil
	n.setStateLocked(domain.StateClosed)
	final := n.snapshotLocked()
	events := n.takeEventsLocked()
	n.mu.Unlock()

	var err error
	if sub != nil {
		sub.Unsubscribe()
	}
	err = multierr.Append(err, media.Release(state))
	if peer != nil {
		err = multierr.Append(err, peer.Close())
	}

	n.dispatch(events)
	n.watch.close(final)
	n.logger.Info().Msg("call ended")
	return err
}

// State returns the current state machine position.
func (n *Negotiator) State() domain.NegotiatorState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Snapshot returns the current observable state.
func (n *Negotiator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

// Stats returns the signaling counters.
func (n *Negotiator) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Watch returns a channel carrying the latest snapshot after every change and
// a func that stops watching. The channel is closed after End.
func (n *Negotiator) Watch() (<-chan Snapshot, func()) {
	return n.watch.add()
}

func (n *Negotiator) setStateLocked(s domain.NegotiatorState) {
	if n.state == s {
		return
	}
	n.logger.Info().Str("from", n.state.String()).Str("to", s.String()).Msg("state change")
	n.state = s
	n.version++
	n.emitLocked(EventState, s.String(), nil)
}

func (n *Negotiator) emitLocked(typ EventType, detail string, err error) {
	n.version++
	if n.hook == nil {
		return
	}
	n.events = append(n.events, Event{At: time.Now(), Type: typ, Detail: detail, Err: err})
}

func (n *Negotiator) takeEventsLocked() []Event {
	events := n.events
	n.events = nil
	return events
}

func (n *Negotiator) snapshotLocked() Snapshot {
	s := Snapshot{
		Version: n.version,
		State:   n.state,
		Status:  n.state.Status(),
		Media:   n.media,
		Err:     n.lastErr,
	}
	if n.remote != nil {
		r := *n.remote
		r.Tracks = append([]domain.RemoteTrack(nil), n.remote.Tracks...)
		s.Remote = &r
	}
	return s
}

// unlockAndNotify releases the lock, then runs the hook for queued events and
// publishes the new snapshot.
func (n *Negotiator) unlockAndNotify() {
	snap := n.snapshotLocked()
	events := n.takeEventsLocked()
	n.mu.Unlock()

	n.dispatch(events)
	n.watch.publish(snap)
}

func (n *Negotiator) dispatch(events []Event) {
	for _, ev := range events {
		n.hook(ev)
	}
}

func asCallError(op string, fallback domain.ErrorKind, err error) *domain.CallError {
	var ce *domain.CallError
	if errors.As(err, &ce) {
		return ce
	}
	kind := domain.KindOf(err)
	if kind == domain.KindUnknown {
		kind = fallback
	}
	return domain.NewCallError(kind, op, err)
}

func mediaDetail(s domain.LocalMediaState) string {
	switch {
	case s.HasVideoTrack && s.HasAudioTrack:
		return "video+audio"
	case s.HasVideoTrack:
		return "video-only"
	case s.HasAudioTrack:
		return "audio-only"
	}
	return "none"
}
