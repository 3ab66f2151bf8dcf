package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	clts "polywatch/clients"
	"polywatch/config"
	"polywatch/internal/app"
	"polywatch/internal/resilience"
	"polywatch/internal/store"
)

func main() {
	_ = godotenv.Load()

	envConfig := config.Load()

	logger, err := newLogger(envConfig.IsProd)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting polywatch", zap.Bool("isProd", envConfig.IsProd))

	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("configuration invalid")
	}
	if envConfig.Store.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if len(envConfig.Markets.EventSlugs) == 0 {
		logger.Fatal("MARKET_EVENT_SLUGS is required")
	}

	liveConfig := config.NewLiveConfig(envConfig)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	db, err := store.Connect(logger, envConfig.Store.DatabaseURL)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	redis, err := store.NewRedis(logger, envConfig.Store.RedisAddr, envConfig.Store.RedisPassword)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	defer redis.Close()

	breakers := resilience.NewBreakerManager(logger, resilience.DefaultBreakerSettings())
	clients := clts.NewClients(logger, envConfig, breakers)
	defer clients.Close()

	logger.Info("clients ready",
		zap.Int("notifierChannels", clients.Notifier.Count()),
		zap.Bool("websocket", clients.MarketWS != nil),
		zap.String("eventSlugs", strings.Join(envConfig.Markets.EventSlugs, ",")),
	)

	runner := app.NewRunner(logger, liveConfig, clients, db, redis)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}

func newLogger(isProd bool) (*zap.Logger, error) {
	if isProd {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
