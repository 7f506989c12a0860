package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tropichat/relay/internal/protocol"
	"go.uber.org/zap"
)

const liveWriteWait = 10 * time.Second

// Live is a client connected to a relay over a websocket.
type Live struct {
	conn   *websocket.Conn
	log    *zap.Logger
	broker *broker

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay websocket at url (ws:// or wss://).
func Dial(ctx context.Context, url string, log *zap.Logger) (*Live, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	l := &Live{
		conn:   conn,
		log:    log,
		broker: newBroker(),
		done:   make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *Live) readLoop() {
	defer func() {
		l.broker.close()
		close(l.done)
	}()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Warn("relay connection lost", zap.Error(err))
			}
			return
		}

		var ev protocol.Inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			l.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		l.broker.publish(ev)
	}
}

func (l *Live) write(ctx context.Context, ev protocol.Envelope) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(liveWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(deadline)
	if err := l.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}

func (l *Live) Join(ctx context.Context, req protocol.JoinPayload) error {
	return l.write(ctx, protocol.Envelope{Type: protocol.TypeJoin, Payload: req})
}

func (l *Live) Send(ctx context.Context, content string) error {
	return l.write(ctx, protocol.Envelope{Type: protocol.TypeChatMessage, Payload: protocol.ChatPayload{Content: content}})
}

func (l *Live) Typing(ctx context.Context, isTyping bool) error {
	return l.write(ctx, protocol.Envelope{Type: protocol.TypeTyping, Payload: protocol.TypingPayload{IsTyping: isTyping}})
}

func (l *Live) Subscribe(types ...string) (<-chan protocol.Inbound, func()) {
	return l.broker.subscribe(types...)
}

// Done is closed once the connection to the relay is gone.
func (l *Live) Done() <-chan struct{} {
	return l.done
}

func (l *Live) Close() error {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()

		select {
		case <-l.done:
		case <-time.After(2 * time.Second):
		}
		_ = l.conn.Close()
		<-l.done
	})
	return nil
}
