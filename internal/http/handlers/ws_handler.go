package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/tropichat/relay/internal/config"
	"github.com/tropichat/relay/internal/protocol"
	"github.com/tropichat/relay/internal/relay"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 10
)

// ChatRoom is the relay as seen by a websocket connection.
type ChatRoom interface {
	Connect(out relay.Outbox) string
	Join(ctx context.Context, connID string, req protocol.JoinPayload) error
	Send(ctx context.Context, connID, content string) error
	Typing(connID string, isTyping bool)
	Disconnect(ctx context.Context, connID string)
}

type WSOptions struct {
	SendBuffer        int
	MessagesPerSecond int
	Burst             int
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

func WSOptionsFromConfig(cfg *config.Config) WSOptions {
	return WSOptions{
		SendBuffer:        cfg.WSSendBuffer,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		Burst:             cfg.WSBurst,
	}
}

type WSHub struct {
	room ChatRoom
	opts WSOptions
	log  *zap.Logger

	mu      sync.Mutex
	clients map[*outbox]struct{}
}

func NewWSHub(room ChatRoom, opts WSOptions, log *zap.Logger) *WSHub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	return &WSHub{
		room:    room,
		opts:    opts,
		log:     log,
		clients: make(map[*outbox]struct{}),
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Shutdown closes every open connection. Each read loop then runs its normal
// disconnect path.
func (h *WSHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for out := range h.clients {
		out.close()
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	out := newOutbox(h.opts.SendBuffer)
	connID := h.room.Connect(out)
	log := h.log.With(zap.String("conn_id", connID), zap.String("ip", conn.IP()))

	h.mu.Lock()
	h.clients[out] = struct{}{}
	h.mu.Unlock()

	writerDone := make(chan struct{})
	go h.writeLoop(conn, out, writerDone)

	defer func() {
		h.room.Disconnect(context.Background(), connID)

		h.mu.Lock()
		delete(h.clients, out)
		h.mu.Unlock()

		out.close()
		<-writerDone
		_ = conn.Close()
		log.Debug("websocket closed")
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst)
	log.Debug("websocket connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Info("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			out.Deliver(protocol.Error(protocol.CodeBadRequest, "Invalid message format"))
			continue
		}
		h.dispatch(connID, out, limiter, in, log)
	}
}

func (h *WSHub) dispatch(connID string, out *outbox, limiter *rate.Limiter, in protocol.Inbound, log *zap.Logger) {
	ctx := context.Background()

	switch in.Type {
	case protocol.TypeJoin:
		var req protocol.JoinPayload
		if err := in.Decode(&req); err != nil {
			out.Deliver(protocol.Error(protocol.CodeBadRequest, "Invalid join payload"))
			return
		}
		if err := h.room.Join(ctx, connID, req); err != nil {
			log.Debug("join refused", zap.Error(err))
		}

	case protocol.TypeChatMessage:
		if !limiter.Allow() {
			out.Deliver(protocol.Error(protocol.CodeRateLimited, "You are sending messages too fast"))
			return
		}
		var msg protocol.ChatPayload
		if err := in.Decode(&msg); err != nil {
			out.Deliver(protocol.Error(protocol.CodeBadRequest, "Invalid message payload"))
			return
		}
		if err := h.room.Send(ctx, connID, msg.Content); err != nil {
			log.Debug("message refused", zap.Error(err))
		}

	case protocol.TypeTyping:
		isTyping, err := in.DecodeTyping()
		if err != nil {
			out.Deliver(protocol.Error(protocol.CodeBadRequest, "Invalid typing payload"))
			return
		}
		// A stop indicator is never throttled, or peers would see the user typing forever.
		if isTyping && !limiter.Allow() {
			return
		}
		h.room.Typing(connID, isTyping)

	default:
		out.Deliver(protocol.Error(protocol.CodeBadRequest, "Unknown event type: "+in.Type))
	}
}

// writeLoop is the only writer of conn. It drains out until out is closed and
// pings the peer between frames.
func (h *WSHub) writeLoop(conn *websocket.Conn, out *outbox, done chan<- struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case ev, ok := <-out.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				out.close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				out.close()
				return
			}
		}
	}
}

// outbox is the per-connection send queue handed to the relay. Deliver never
// blocks: a client whose queue is full is cut off.
type outbox struct {
	send chan protocol.Envelope

	mu     sync.Mutex
	closed bool
}

func newOutbox(size int) *outbox {
	return &outbox{send: make(chan protocol.Envelope, size)}
}

func (o *outbox) Deliver(ev protocol.Envelope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.send <- ev:
		return true
	default:
		o.closed = true
		close(o.send)
		return false
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.send)
	}
}
