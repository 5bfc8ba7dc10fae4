// Package signal is the WebSocket client of the signaling relay server.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/domain"
)

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
)

var errClosed = errors.New("signaling connection closed")

// Option configures a Client.
type Option func(*Client)

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is a domain.SignalingChannel over one WebSocket connection to the
// relay server.
type Client struct {
	url          string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	logger       zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]*subscription
	err     error

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

var _ domain.SignalingChannel = (*Client)(nil)

// Dial connects to the relay at rawURL, e.g. ws://localhost:8080/v1/ws.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		url:          rawURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		logger:       log.With().Str("component", "signal").Logger(),
		pending:      make(map[string]chan Frame),
		subs:         make(map[string]*subscription),
		closed:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info().Str("url", rawURL).Msg("connecting to relay")
	conn, _, err := c.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %w", domain.ErrSignalingTransport, err)
	}
	c.conn = conn

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Close shuts down the connection. Subscriptions stop receiving messages but
// must still be unsubscribed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.Method, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	c.logger.Trace().RawJSON("frame", data).Msg(">>>")
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Method, err)
	}
	return nil
}

// request writes f and waits for the response with the same request id.
func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	f.RequestID = uuid.NewString()
	resp := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Frame{}, err
	}
	c.pending[f.RequestID] = resp
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(f); err != nil {
		return Frame{}, err
	}

	select {
	case r := <-resp:
		if !r.OK() {
			return r, fmt.Errorf("%s rejected: %s", f.Method, r.Message)
		}
		return r, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.closed:
		return Frame{}, errClosed
	}
}

// Send transmits msg and waits for the relay to acknowledge that it stored it.
func (c *Client) Send(ctx context.Context, msg domain.SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := c.request(ctx, Frame{Method: MethodTransmit, Signal: &msg}); err != nil {
		return fmt.Errorf("%w: send %s: %w", domain.ErrSignalingTransport, msg.Kind, err)
	}
	return nil
}

// Subscribe registers for messages addressed to req.ParticipantID on
// req.CallID. Messages are handed to onMessage from a goroutine owned by the
// subscription, so the callback may call Send.
func (c *Client) Subscribe(ctx context.Context, req domain.SubscribeRequest, onMessage func(domain.SignalMessage)) (domain.Subscription, error) {
	if req.CallID == "" || req.ParticipantID == "" {
		return nil, errors.New("subscribe: call id and participant id are required")
	}

	f := Frame{
		Method:        MethodSubscribe,
		RequestID:     uuid.NewString(),
		CallID:        req.CallID,
		ParticipantID: req.ParticipantID,
	}
	if !req.Since.IsZero() {
		since := req.Since
		f.Since = &since
	}

	s := newSubscription(c, f.RequestID, onMessage)
	resp := make(chan Frame, 1)

	// Register before writing so pushes that beat the response are kept.
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: subscribe: %w", domain.ErrSignalingTransport, err)
	}
	c.subs[s.id] = s
	c.pending[f.RequestID] = resp
	c.mu.Unlock()

	fail := func(err error) (domain.Subscription, error) {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		s.stop()
		return nil, fmt.Errorf("%w: subscribe: %w", domain.ErrSignalingTransport, err)
	}

	if err := c.writeFrame(f); err != nil {
		return fail(err)
	}
	select {
	case r := <-resp:
		if !r.OK() {
			return fail(fmt.Errorf("rejected: %s", r.Message))
		}
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-c.closed:
		return fail(errClosed)
	}

	c.mu.Lock()
	delete(c.pending, f.RequestID)
	c.mu.Unlock()

	c.logger.Debug().Str("call_id", req.CallID).Str("participant", req.ParticipantID).Msg("subscribed")
	return s, nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	var err error
	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.logger.Trace().RawJSON("frame", data).Msg("<<<")

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("unmarshal frame")
			continue
		}
		c.dispatch(f)
	}

	select {
	case <-c.closed:
	default:
		c.logger.Error().Err(err).Msg("relay connection lost")
	}

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %w", errClosed, err)
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) dispatch(f Frame) {
	switch f.Method {
	case MethodTransmitResponse, MethodSubscribeResponse, MethodUnsubscribeResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		c.mu.Unlock()
		if ok {
			ch <- f
		}

	case MethodSignal:
		if f.Signal == nil {
			return
		}
		c.mu.Lock()
		s, ok := c.subs[f.SubscriptionID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug().Str("subscription", f.SubscriptionID).Msg("signal for unknown subscription")
			return
		}
		s.push(*f.Signal)

	default:
		c.logger.Warn().Str("method", f.Method).Msg("unhandled method")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.logger.Warn().Err(err).Msg("ping failed")
				}
				return
			}
		}
	}
}

func (c *Client) removeSubscription(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// subscription queues pushed messages and delivers them in order from its own
// goroutine, dropping ids it has already delivered.
type subscription struct {
	client *Client
	id     string
	fn     func(domain.SignalMessage)

	mu     sync.Mutex
	queue  []domain.SignalMessage
	seen   map[string]struct{}
	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newSubscription(c *Client, id string, fn func(domain.SignalMessage)) *subscription {
	s := &subscription{
		client: c,
		id:     id,
		fn:     fn,
		seen:   make(map[string]struct{}),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) push(m domain.SignalMessage) {
	s.mu.Lock()
	if _, dup := s.seen[m.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[m.ID] = struct{}{}
	s.queue = append(s.queue, m)
	s.mu.Unlock()

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

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, m := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(m)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.client.removeSubscription(s.id)
		close(s.done)
	})
	<-s.exited
}

// Unsubscribe stops delivery, waits for an in-flight callback, and tells the
// relay to drop the registration.
func (s *subscription) Unsubscribe() {
	s.stop()
	if err := s.client.writeFrame(Frame{Method: MethodUnsubscribe, RequestID: uuid.NewString(), SubscriptionID: s.id}); err != nil && !errors.Is(err, errClosed) {
		s.client.logger.Debug().Err(err).Msg("unsubscribe")
	}
}
