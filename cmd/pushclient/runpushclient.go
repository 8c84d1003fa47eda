package main

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-client/internal/registration"
	"github.com/tinywideclouds/go-push-client/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-client/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-client/pkg/push"
	"github.com/tinywideclouds/go-push-client/pushclient"
	"github.com/tinywideclouds/go-push-client/pushclient/config"

	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-client")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Subscription Store (Decorated) ---
	var store push.Store = fsStore.NewStore(fsClient, cfg.InstallationID)
	logger.Info("Subscription store initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedStore(store, redisClient, 24*time.Hour)
		logger.Info("Subscription store upgraded", "type", "redis_cached_firestore")
	}

	// --- Bridge Connection & Manager ---
	conn := registration.NewHTTPConnection(
		cfg.BaseURL(), cfg.SenderID, cfg.BridgeType,
		&http.Client{Timeout: 30 * time.Second}, logger,
	)

	manager, err := pushclient.New(cfg, store, conn, logger)
	if err != nil {
		logger.Error("Manager creation failed", "err", err)
		os.Exit(1)
	}

	ok, err := manager.VerifyConnection(ctx)
	if err != nil {
		logger.Error("Connection verification failed", "err", err)
		os.Exit(1)
	}
	if !ok {
		logger.Warn("Device identifier rotated; subscribers must re-subscribe")
	}

	// --- Inbound Pipeline (optional) ---
	if cfg.SubscriptionID == "" {
		logger.Info("No subscription configured; manager is ready for direct use.")
		return
	}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	consumer, err := messagepipeline.NewGooglePubsubConsumer(cfg.PubsubConsumerConfig, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	handler := func(_ context.Context, msg *push.DecryptedMessage) error {
		logger.Info("Push message decrypted",
			"channel_id", msg.ChannelID,
			"encoding", msg.Encoding,
			"plaintext_bytes", len(msg.Plaintext),
		)
		return nil
	}

	stream, err := pushclient.NewStream(cfg, consumer, manager, handler, logger)
	if err != nil {
		logger.Error("Stream creation failed", "err", err)
		os.Exit(1)
	}

	if err := stream.Start(ctx); err != nil {
		logger.Error("Stream start failed", "err", err)
		os.Exit(1)
	}
	logger.Info("Push client running.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stream.Stop(shutdownCtx); err != nil {
		logger.Error("Stream shutdown failed", "err", err)
	}
	logger.Info("Push client shutdown complete.")
}
