package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

const defaultPollInterval = 200 * time.Millisecond

// Relay is a domain.SignalingChannel over a Store. Subscriptions poll for rows
// past their cursor, so several processes can share one database file.
type Relay struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger
}

var _ domain.SignalingChannel = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithPollInterval sets how often subscriptions look for new rows.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// NewRelay creates a relay over store.
func NewRelay(store *Store, opts ...Option) *Relay {
	r := &Relay{
		store:    store,
		interval: defaultPollInterval,
		logger:   log.With().Str("component", "relay").Str("relay", "sqlite").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send persists msg.
func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	stored, err := r.store.Append(ctx, msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	r.logger.Debug().
		Str("call_id", stored.CallID).
		Str("kind", string(stored.Kind)).
		Int64("seq", stored.Seq).
		Msg("signal stored")
	return nil
}

// Subscribe starts polling for messages addressed to req.ParticipantID. The
// first poll runs immediately and replays the backlog since req.Since.
func (r *Relay) Subscribe(ctx context.Context, req domain.SubscribeRequest, onMessage func(domain.SignalMessage)) (domain.Subscription, error) {
	if req.CallID == "" || req.ParticipantID == "" {
		return nil, fmt.Errorf("subscribe: call id and participant id are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s := &subscription{
		relay:  r,
		req:    req,
		fn:     onMessage,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type subscription struct {
	relay  *Relay
	req    domain.SubscribeRequest
	fn     func(domain.SignalMessage)
	cursor int64

	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *subscription) run() {
	defer close(s.exited)

	ticker := time.NewTicker(s.relay.interval)
	defer ticker.Stop()

	for {
		if !s.poll() {
			return
		}
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

// poll delivers new rows and reports whether the subscription is still live.
func (s *subscription) poll() bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	batch, err := s.relay.store.List(ctx, domain.SignalQuery{
		CallID:   s.req.CallID,
		To:       s.req.ParticipantID,
		AfterSeq: s.cursor,
		Since:    s.req.Since,
	})
	if err != nil {
		select {
		case <-s.done:
			return false
		default:
		}
		s.relay.logger.Warn().Err(err).Str("call_id", s.req.CallID).Msg("poll signals")
		return true
	}

	for _, m := range batch {
		select {
		case <-s.done:
			return false
		default:
		}
		s.cursor = m.Seq
		s.fn(m)
	}
	return true
}

// Unsubscribe stops polling and waits for an in-flight callback to return.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}
