package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher mirrors relay events onto a Redis pub/sub channel as JSON.
type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

// Publish refuses events that a subscriber would reject, so a bad payload
// fails at the relay instead of downstream.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, stream, data).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		p.log.Debug("mirrored event has no subscribers", zap.String("stream", stream), zap.String("type", event.Type))
	}
	return nil
}

type RedisSubscriber struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, log *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

// Subscribe delivers chat events from stream to handler on a background
// goroutine until ctx is cancelled. Handler calls are sequential, in publish
// order. Frames that are not valid chat events are logged and skipped.
func (s *RedisSubscriber) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	sub := s.client.Subscribe(ctx, stream)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	go s.consume(ctx, sub, stream, handler)
	return nil
}

func (s *RedisSubscriber) consume(ctx context.Context, sub *redis.PubSub, stream string, handler func(Event)) {
	defer sub.Close()
	frames := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			if ev, ok := s.decode(stream, msg.Payload); ok {
				handler(ev)
			}
		}
	}
}

func (s *RedisSubscriber) decode(stream, payload string) (Event, bool) {
	ev, err := DecodeEvent([]byte(payload))
	switch {
	case err == nil:
		return ev, true
	case errors.Is(err, ErrUnknownEvent):
		s.log.Debug("skipping unknown chat event", zap.String("stream", stream), zap.Error(err))
	default:
		s.log.Warn("dropping malformed chat event", zap.String("stream", stream), zap.Error(err))
	}
	return Event{}, false
}
