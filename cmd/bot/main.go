package main

import (
	"fmt"
	"time"

	"github.com/pirate-talk/bot/internal/channel/messenger"
	"github.com/pirate-talk/bot/internal/channel/slackbot"
	"github.com/pirate-talk/bot/internal/conversation"
	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/speech"
	"github.com/pirate-talk/bot/internal/storage"
	"github.com/pirate-talk/bot/internal/webhook"
	"github.com/pirate-talk/bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.Database.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Postgres.Host,
			Port:     cfg.Database.Postgres.Port,
			User:     cfg.Database.Postgres.User,
			Password: cfg.Database.Postgres.Password,
			DBName:   cfg.Database.Postgres.DBName,
			SSLMode:  cfg.Database.Postgres.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	case "redis":
		logger.Info("Using Redis storage")
		store, err = storage.NewRedisStorage(storage.RedisConfig{
			Addr:     cfg.Database.Redis.Addr,
			Password: cfg.Database.Redis.Password,
			DB:       cfg.Database.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	default:
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	}
	defer store.Close()

	// Initialize the dialog engine backend
	var eng engine.Engine
	switch cfg.Engine.Backend {
	case "openai":
		eng = engine.NewOpenAIEngine(engine.OpenAIConfig{
			APIKey:      cfg.Engine.OpenAI.APIKey,
			Model:       cfg.Engine.OpenAI.Model,
			MaxTokens:   cfg.Engine.OpenAI.MaxTokens,
			Temperature: cfg.Engine.OpenAI.Temperature,
		}, logger)
	default:
		eng = engine.NewWatsonEngine(engine.WatsonConfig{
			URL:         cfg.Engine.Watson.URL,
			Username:    cfg.Engine.Watson.Username,
			Password:    cfg.Engine.Watson.Password,
			WorkspaceID: cfg.Engine.Watson.WorkspaceID,
			Version:     cfg.Engine.Watson.Version,
		}, logger)
	}

	convConfig := conversation.Config{
		ReentryNode:     cfg.Conversation.ReentryNode,
		MaxJumpDepth:    cfg.Conversation.MaxJumpDepth,
		DeliveryTimeout: time.Duration(cfg.Conversation.DeliveryTimeoutSeconds) * time.Second,
		WorkspaceID:     cfg.Engine.Watson.WorkspaceID,
	}

	server := webhook.NewServer(logger)

	if cfg.Slack.Enabled {
		adapter := slackbot.New(cfg.Slack.Token, logger)
		registry := conversation.NewRegistry()
		dispatcher := conversation.NewDispatcher(registry, eng, adapter, convConfig, logger)
		correlator := conversation.NewCorrelator(registry, eng, store, convConfig, logger)
		server.MountSlack(webhook.NewSlackHandler(dispatcher, correlator, adapter, logger))
		logger.Info("Slack channel enabled")
	}

	if cfg.Facebook.Enabled {
		adapter := messenger.New(cfg.Facebook.PageToken, cfg.Facebook.WebserverHostname, logger)
		registry := conversation.NewRegistry()
		dispatcher := conversation.NewDispatcher(registry, eng, adapter, convConfig, logger)
		correlator := conversation.NewCorrelator(registry, eng, store, convConfig, logger)
		transcripts := conversation.NewTranscripts(eng, store, convConfig, logger)
		recognizer := speech.NewAzureRecognizer(cfg.Speech.AzureKey, cfg.Speech.AzureRegion, logger)
		server.MountFacebook(webhook.NewFacebookHandler(
			dispatcher, correlator, transcripts, recognizer, adapter,
			cfg.Facebook.VerifyToken, cfg.Speech.AutoAcceptConfidence, logger))
		logger.Info("Facebook channel enabled")
	}

	if err := server.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
