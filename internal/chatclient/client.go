// Package chatclient talks to the relay from the client side. Live speaks the
// websocket protocol to a running server; Simulated stands in for one with mock
// users and canned replies.
package chatclient

import (
	"context"
	"errors"

	"github.com/tropichat/relay/internal/protocol"
)

var (
	ErrClosed    = errors.New("chat client closed")
	ErrNotJoined = errors.New("not joined")
)

// Client is implemented by Live and Simulated.
type Client interface {
	Join(ctx context.Context, req protocol.JoinPayload) error
	Send(ctx context.Context, content string) error
	Typing(ctx context.Context, isTyping bool) error
	// Subscribe returns a channel of server events of the given types (all
	// types when none are given) and a func that cancels the subscription.
	// The channel is closed on cancel or when the client closes.
	Subscribe(types ...string) (<-chan protocol.Inbound, func())
	Close() error
}

var (
	_ Client = (*Live)(nil)
	_ Client = (*Simulated)(nil)
)
