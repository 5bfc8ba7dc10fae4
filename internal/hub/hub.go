// Package hub is the signaling relay server. Clients connect over WebSocket,
// transmit signals that are persisted through a SignalStore, and subscribe to
// the signals addressed to them on a call.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
	"skillswap/native/internal/signal"
)

// ErrInvalidSignal rejects a transmitted signal that is missing fields.
var ErrInvalidSignal = errors.New("invalid signal")

// Hub fans persisted signals out to the subscriptions of their call.
type Hub struct {
	store  domain.SignalStore
	logger zerolog.Logger

	// appendMu orders persist+fanout so every subscription sees a call's
	// signals in sequence order.
	appendMu sync.Mutex

	mu     sync.Mutex
	calls  map[string]map[*subscription]struct{}
	conns  map[*conn]struct{}
	closed bool
}

// New creates a hub over store. A nil logger uses the global one.
func New(store domain.SignalStore, logger *zerolog.Logger) *Hub {
	l := log.With().Str("component", "hub").Logger()
	if logger != nil {
		l = *logger
	}
	return &Hub{
		store:  store,
		logger: l,
		calls:  make(map[string]map[*subscription]struct{}),
		conns:  make(map[*conn]struct{}),
	}
}

// Transmit persists msg and pushes it to every subscription of its recipient.
func (h *Hub) Transmit(ctx context.Context, msg domain.SignalMessage) (domain.SignalMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.SignalMessage{}, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	if msg.ID == "" {
		return domain.SignalMessage{}, fmt.Errorf("%w: id is required", ErrInvalidSignal)
	}

	h.appendMu.Lock()
	defer h.appendMu.Unlock()

	stored, err := h.store.Append(ctx, msg)
	if err != nil {
		return domain.SignalMessage{}, err
	}

	h.mu.Lock()
	var targets []*subscription
	for s := range h.calls[stored.CallID] {
		if s.participant == stored.To {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.deliver(stored)
	}

	h.logger.Debug().
		Str("call_id", stored.CallID).
		Str("kind", string(stored.Kind)).
		Str("from", stored.From).
		Int64("seq", stored.Seq).
		Int("subscribers", len(targets)).
		Msg("signal relayed")
	return stored, nil
}

// subscribe registers s and replays the backlog. Live signals that arrive
// while the backlog is read are held and released after it.
func (h *Hub) subscribe(ctx context.Context, s *subscription, req domain.SubscribeRequest) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub closed")
	}
	subs, ok := h.calls[req.CallID]
	if !ok {
		subs = make(map[*subscription]struct{})
		h.calls[req.CallID] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()

	backlog, err := h.store.List(ctx, domain.SignalQuery{
		CallID: req.CallID,
		To:     req.ParticipantID,
		Since:  req.Since,
	})
	if err != nil {
		h.remove(s)
		return err
	}
	s.release(backlog)

	h.logger.Debug().
		Str("call_id", req.CallID).
		Str("participant", req.ParticipantID).
		Int("backlog", len(backlog)).
		Msg("subscribed")
	return nil
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.calls[s.callID]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.calls, s.callID)
	}
}

func (h *Hub) addConn(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) dropConn(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	for _, s := range c.takeSubscriptions() {
		h.remove(s)
	}
}

// History returns every stored signal of callID in sequence order.
func (h *Hub) History(ctx context.Context, callID string) ([]domain.SignalMessage, error) {
	return h.store.List(ctx, domain.SignalQuery{CallID: callID})
}

// Subscribers returns the number of live subscriptions on callID.
func (h *Hub) Subscribers(callID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls[callID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// subscription is one SUBSCRIBE of a connection.
type subscription struct {
	id          string
	conn        *conn
	callID      string
	participant string

	mu      sync.Mutex
	ready   bool
	held    []domain.SignalMessage
	lastSeq int64
}

func (s *subscription) deliver(m domain.SignalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		s.held = append(s.held, m)
		return
	}
	s.pushLocked(m)
}

// release sends the backlog followed by the held live signals, skipping any
// already covered by the backlog.
func (s *subscription) release(backlog []domain.SignalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range backlog {
		s.pushLocked(m)
	}
	for _, m := range s.held {
		s.pushLocked(m)
	}
	s.held = nil
	s.ready = true
}

func (s *subscription) pushLocked(m domain.SignalMessage) {
	if m.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = m.Seq
	msg := m
	s.conn.push(signal.Frame{
		Method:         signal.MethodSignal,
		SubscriptionID: s.id,
		Signal:         &msg,
	})
}
