// Package memory is an in-process signaling relay. It keeps an append-only
// log per call, so late subscribers still get the backlog.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

// Relay implements domain.SignalingChannel and domain.SignalStore.
type Relay struct {
	logger zerolog.Logger

	mu    sync.Mutex
	seq   int64
	calls map[string][]domain.SignalMessage
	ids   map[string]int64
	subs  map[*subscription]struct{}
}

var (
	_ domain.SignalingChannel = (*Relay)(nil)
	_ domain.SignalStore      = (*Relay)(nil)
)

// New creates an empty relay. A nil logger uses the global one.
func New(logger *zerolog.Logger) *Relay {
	l := log.With().Str("component", "relay").Str("relay", "memory").Logger()
	if logger != nil {
		l = *logger
	}
	return &Relay{
		logger: l,
		calls:  make(map[string][]domain.SignalMessage),
		ids:    make(map[string]int64),
		subs:   make(map[*subscription]struct{}),
	}
}

// Send appends msg to its call log and wakes the matching subscriptions.
func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	_, err := r.Append(ctx, msg)
	return err
}

// Append stores msg and returns it with its relay sequence number. Appending
// a message id that is already stored returns the stored copy.
func (r *Relay) Append(ctx context.Context, msg domain.SignalMessage) (domain.SignalMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.SignalMessage{}, err
	}
	if err := msg.Validate(); err != nil {
		return domain.SignalMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq, ok := r.ids[msg.ID]; msg.ID != "" && ok {
		for _, m := range r.calls[msg.CallID] {
			if m.Seq == seq {
				return m, nil
			}
		}
	}

	r.seq++
	msg.Seq = r.seq
	r.calls[msg.CallID] = append(r.calls[msg.CallID], msg)
	if msg.ID != "" {
		r.ids[msg.ID] = msg.Seq
	}

	for s := range r.subs {
		if s.req.CallID == msg.CallID && s.req.ParticipantID == msg.To {
			s.wake()
		}
	}

	r.logger.Debug().
		Str("call_id", msg.CallID).
		Str("kind", string(msg.Kind)).
		Int64("seq", msg.Seq).
		Msg("signal stored")
	return msg, nil
}

// List returns the stored messages matching q in sequence order.
func (r *Relay) List(ctx context.Context, q domain.SignalQuery) ([]domain.SignalMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.SignalMessage
	for _, m := range r.calls[q.CallID] {
		if !matches(m, q) {
			continue
		}
		out = append(out, m)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func matches(m domain.SignalMessage, q domain.SignalQuery) bool {
	if q.To != "" && m.To != q.To {
		return false
	}
	if m.Seq <= q.AfterSeq {
		return false
	}
	if !q.Since.IsZero() && m.SentAt.Before(q.Since) {
		return false
	}
	return true
}

// Subscribe delivers the backlog for req and then live messages to onMessage
// from a dedicated goroutine.
func (r *Relay) Subscribe(ctx context.Context, req domain.SubscribeRequest, onMessage func(domain.SignalMessage)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if req.CallID == "" || req.ParticipantID == "" {
		return nil, fmt.Errorf("subscribe: call id and participant id are required")
	}

	s := &subscription{
		relay:  r,
		req:    req,
		fn:     onMessage,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	s.wake()
	go s.run()
	return s, nil
}

// Subscribers returns the number of live subscriptions.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type subscription struct {
	relay *Relay
	req   domain.SubscribeRequest
	fn    func(domain.SignalMessage)

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	cursor int64
}

func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		q := domain.SignalQuery{
			CallID:   s.req.CallID,
			To:       s.req.ParticipantID,
			AfterSeq: s.cursor,
			Since:    s.req.Since,
		}
		batch, _ := s.relay.List(context.Background(), q)
		for _, m := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.cursor = m.Seq
			s.fn(m)
		}
	}
}

// Unsubscribe stops delivery and waits for an in-flight callback to return.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.relay.mu.Lock()
		delete(s.relay.subs, s)
		s.relay.mu.Unlock()
		close(s.done)
	})
	<-s.exited
}
