package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"skillswap/native/internal/domain"
	"skillswap/native/internal/signal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 256 << 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Native and browser clients connect from anywhere; the relay holds no
	// cookies to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is one client WebSocket. Frames are written by writeLoop only; a
// client that stops reading is dropped once its send buffer fills.
type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*subscription
}

// ServeWS upgrades the request and serves the relay protocol until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("upgrade websocket")
		return
	}

	c := &conn{
		hub:    h,
		ws:     ws,
		logger: h.logger.With().Str("remote", r.RemoteAddr).Logger(),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
	}
	if !h.addConn(c) {
		ws.Close()
		return
	}
	c.logger.Info().Msg("client connected")

	go c.writeLoop()
	c.readLoop(r.Context())

	h.dropConn(c)
	c.close()
	c.logger.Info().Msg("client disconnected")
}

func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		var f signal.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("unmarshal frame")
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *conn) handle(ctx context.Context, f signal.Frame) {
	switch f.Method {
	case signal.MethodTransmit:
		if f.Signal == nil {
			c.push(f.Response(signal.MethodTransmitResponse, signal.CodeBadRequest, "signal is required"))
			return
		}
		if _, err := c.hub.Transmit(ctx, *f.Signal); err != nil {
			c.logger.Warn().Err(err).Str("call_id", f.Signal.CallID).Msg("transmit failed")
			c.push(f.Response(signal.MethodTransmitResponse, codeFor(err), err.Error()))
			return
		}
		c.push(f.Response(signal.MethodTransmitResponse, signal.CodeOK, ""))

	case signal.MethodSubscribe:
		if f.RequestID == "" || f.CallID == "" || f.ParticipantID == "" {
			c.push(f.Response(signal.MethodSubscribeResponse, signal.CodeBadRequest, "request_id, call_id and participant_id are required"))
			return
		}
		req := domain.SubscribeRequest{CallID: f.CallID, ParticipantID: f.ParticipantID}
		if f.Since != nil {
			req.Since = *f.Since
		}
		s := &subscription{
			id:          f.RequestID,
			conn:        c,
			callID:      f.CallID,
			participant: f.ParticipantID,
		}
		if !c.addSubscription(s) {
			c.push(f.Response(signal.MethodSubscribeResponse, signal.CodeBadRequest, "duplicate subscription id"))
			return
		}
		// The client accepts pushes that beat the response, so the backlog
		// may follow it directly.
		c.push(f.Response(signal.MethodSubscribeResponse, signal.CodeOK, ""))
		if err := c.hub.subscribe(ctx, s, req); err != nil {
			c.removeSubscription(s.id)
			c.logger.Error().Err(err).Str("call_id", f.CallID).Msg("subscribe failed")
		}

	case signal.MethodUnsubscribe:
		if s := c.removeSubscription(f.SubscriptionID); s != nil {
			c.hub.remove(s)
		}
		c.push(f.Response(signal.MethodUnsubscribeResponse, signal.CodeOK, ""))

	default:
		c.logger.Warn().Str("method", f.Method).Msg("unhandled method")
	}
}

func codeFor(err error) int {
	if errors.Is(err, ErrInvalidSignal) {
		return signal.CodeBadRequest
	}
	return signal.CodeInternal
}

func (c *conn) push(f signal.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Str("method", f.Method).Msg("marshal frame")
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn().Msg("send buffer full, dropping client")
		c.close()
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.ws.Close()
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write frame")
				c.close()
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) addSubscription(s *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.subs[s.id]; dup {
		return false
	}
	c.subs[s.id] = s
	return true
}

func (c *conn) removeSubscription(id string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[id]
	if !ok {
		return nil
	}
	delete(c.subs, id)
	return s
}

func (c *conn) takeSubscriptions() []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	c.subs = make(map[string]*subscription)
	return out
}
