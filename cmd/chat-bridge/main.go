package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tropichat/relay/internal/config"
	"github.com/tropichat/relay/internal/db"
	"github.com/tropichat/relay/internal/events"
	"github.com/tropichat/relay/internal/services"
	"go.uber.org/zap"
)

// Chat Bridge: subscribes to the relay's mirrored events in Redis and
// forwards each one to BRIDGE_WEBHOOK_URL.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.RedisURL == "" || cfg.BridgeWebhookURL == "" {
		log.Fatal("REDIS_URL and BRIDGE_WEBHOOK_URL are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	webhook := services.NewWebhookClient(cfg.BridgeWebhookURL, log)

	err = subscriber.Subscribe(ctx, cfg.EventsStream, func(event events.Event) {
		fctx, fcancel := context.WithTimeout(ctx, 20*time.Second)
		defer fcancel()
		if err := webhook.Forward(fctx, event); err != nil {
			log.Warn("failed to forward event", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.String("stream", cfg.EventsStream), zap.Error(err))
	}

	log.Info("chat-bridge started", zap.String("stream", cfg.EventsStream))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down chat-bridge")
	cancel()
}
