package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tropichat/relay/internal/config"
	"github.com/tropichat/relay/internal/db"
	"github.com/tropichat/relay/internal/events"
	apphttp "github.com/tropichat/relay/internal/http"
	"github.com/tropichat/relay/internal/http/handlers"
	"github.com/tropichat/relay/internal/relay"
	"github.com/tropichat/relay/internal/repositories"
	"github.com/tropichat/relay/internal/verify"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		messages relay.MessageStore
		users    relay.UserDirectory
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		log.Warn("using in-memory storage, history is lost on restart")
		messages = repositories.NewMemoryMessageStore()
		users = repositories.NewMemoryUserDirectory()
	default:
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}

		messages = repositories.NewMessageRepo(pool)
		users = repositories.NewUserRepo(pool)
	}

	// Redis (optional)
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	var publisher events.Publisher = events.NopPublisher{}
	if rdb != nil {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	// Relay
	room := relay.New(relay.OptionsFromConfig(cfg), verify.New(), messages, users, publisher, log)
	defer room.Close()

	// Handlers
	walletHandler := handlers.NewWalletHandler(cfg.ChallengeSecret, cfg.AppName, cfg.ChallengeTTL, log)
	userHandler := handlers.NewUserHandler(room, log)
	messageHandler := handlers.NewMessageHandler(room, log)
	wsHub := handlers.NewWSHub(room, handlers.WSOptionsFromConfig(cfg), log)

	app := apphttp.NewApp()
	apphttp.SetupRouter(app, cfg, log, rdb, walletHandler, userHandler, messageHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		wsHub.Shutdown()
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting relay server",
		zap.String("addr", addr),
		zap.String("storage", cfg.StorageDriver),
		zap.String("auth_policy", cfg.AuthPolicy),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
