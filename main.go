package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trading-bot/config"
	"adaptive-trading-bot/internal/adaptation"
	"adaptive-trading-bot/internal/ai/llm"
	"adaptive-trading-bot/internal/api"
	"adaptive-trading-bot/internal/cache"
	"adaptive-trading-bot/internal/database"
	"adaptive-trading-bot/internal/effectiveness"
	"adaptive-trading-bot/internal/events"
	"adaptive-trading-bot/internal/knowledge"
	"adaptive-trading-bot/internal/learning"
	"adaptive-trading-bot/internal/logging"
	"adaptive-trading-bot/internal/reflection"
	"adaptive-trading-bot/internal/vault"
)

func main() {
	genConfig := flag.Bool("gen-config", false, "write a sample config.json and exit")
	flag.Parse()

	if *genConfig {
		if err := config.GenerateSampleConfig("config.json"); err != nil {
			log.Fatalf("Failed to write sample config: %v", err)
		}
		log.Println("Wrote config.json")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)
	logger.Info("Starting adaptive trading bot")

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	repo := database.NewRepository(db)

	// Redis snapshot cache, optional
	var cacheSvc *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Cache unavailable, continuing without it", "error", err)
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
		}
	}

	// Knowledge store and its consumers
	eventBus := events.NewEventBus()
	store := knowledge.NewStore(repo, logger)
	if err := store.Load(ctx); err != nil {
		logger.Error("Failed to load knowledge store", "error", err)
		os.Exit(1)
	}

	scorer := knowledge.NewScorer(store, logger)
	library := knowledge.NewLibrary(store, logger)
	if cfg.KnowledgeConfig.SeedPatterns {
		library.SeedDefaults()
	}

	// LLM credentials come from Vault when enabled, config otherwise
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Error("Failed to create vault client", "error", err)
		os.Exit(1)
	}
	apiKey := cfg.LLMConfig.APIKey
	if vaultClient.IsEnabled() {
		key, err := vaultClient.GetLLMKey(ctx, cfg.LLMConfig.Provider)
		if err != nil {
			logger.Warn("Failed to fetch LLM key from vault, falling back to config", "error", err)
		} else {
			apiKey = key
		}
	} else if apiKey != "" {
		vaultClient.SetLocalKey(cfg.LLMConfig.Provider, apiKey)
	}

	llmClient := llm.NewClient(&llm.ClientConfig{
		Provider:    llm.Provider(cfg.LLMConfig.Provider),
		APIKey:      apiKey,
		Model:       cfg.LLMConfig.Model,
		MaxTokens:   cfg.LLMConfig.MaxTokens,
		Temperature: cfg.LLMConfig.Temperature,
		Timeout:     time.Duration(cfg.LLMConfig.TimeoutSecs) * time.Second,
	})
	if !llmClient.IsConfigured() {
		logger.Warn("LLM client not configured, reflection will run without insights")
	}

	// Learning loop
	adapter := adaptation.NewEngine(repo, store, scorer, eventBus, logger)
	reflector := reflection.NewEngine(repo, llmClient, adapter, eventBus, logger, reflection.Config{
		Interval:             time.Duration(cfg.KnowledgeConfig.ReflectionIntervalMins) * time.Minute,
		TradeTrigger:         cfg.KnowledgeConfig.ReflectionTradeTrigger,
		FirstReflectionAfter: cfg.KnowledgeConfig.FirstReflectionTrades,
		LookbackHours:        cfg.KnowledgeConfig.LookbackHours,
	})

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	monitor := effectiveness.NewMonitor(repo, store, scorer, eventBus, zlog, effectiveness.Config{
		MeasureAfter: time.Duration(cfg.KnowledgeConfig.EffectivenessDelayHrs) * time.Hour,
		ForceAfter:   time.Duration(cfg.KnowledgeConfig.EffectivenessForceHrs) * time.Hour,
		MinTrades:    cfg.KnowledgeConfig.MinTradesToMeasure,
	})

	updater := learning.NewQuickUpdater(scorer, library, repo, reflector, eventBus, logger)

	service := learning.NewService(reflector, monitor, logger, learning.ServiceConfig{
		TickInterval:          time.Duration(cfg.KnowledgeConfig.TickIntervalSecs) * time.Second,
		EffectivenessInterval: time.Duration(cfg.KnowledgeConfig.EffectivenessEveryMins) * time.Minute,
	})
	service.Start(ctx)
	defer service.Stop()

	// API
	api.InitWebSocket(eventBus)
	server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, api.Deps{
		Repo:        repo,
		Store:       store,
		Scorer:      scorer,
		Library:     library,
		Reflection:  reflector,
		Adaptations: adapter,
		Monitor:     monitor,
		Updater:     updater,
		Service:     service,
		Cache:       cacheSvc,
		EventBus:    eventBus,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	eventBus.Publish(events.Event{
		Type: events.EventBotStarted,
		Data: map[string]interface{}{"version": "1.0"},
	})

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	eventBus.Publish(events.Event{Type: events.EventBotStopped})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}
