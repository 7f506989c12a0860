package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types mirrored from the relay.
const (
	EventChatMessage = "chat_message"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Username is the display name the event is about, or "" if absent.
func (e Event) Username() string {
	s, _ := e.Payload["username"].(string)
	return s
}

// Content is the message text of a chat_message event.
func (e Event) Content() string {
	s, _ := e.Payload["content"].(string)
	return s
}

// Validate checks that the event is one the relay emits and carries the
// fields consumers rely on.
func (e Event) Validate() error {
	switch e.Type {
	case EventChatMessage:
		if e.Username() == "" || e.Content() == "" {
			return fmt.Errorf("%w: %s needs username and content", ErrMalformedEvent, e.Type)
		}
	case EventUserJoined, EventUserLeft:
		if e.Username() == "" {
			return fmt.Errorf("%w: %s needs username", ErrMalformedEvent, e.Type)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	return nil
}

// DecodeEvent parses one mirrored event off the wire and validates it.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
