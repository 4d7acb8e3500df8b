// Tripwire event-trigger daemon: consumes broker events, evaluates
// user-defined rules through traditional, LLM, and hybrid engines, and
// delivers notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/tripwire/pkg/api"
	"github.com/codeready-toolchain/tripwire/pkg/config"
	"github.com/codeready-toolchain/tripwire/pkg/engine"
	"github.com/codeready-toolchain/tripwire/pkg/llm"
	"github.com/codeready-toolchain/tripwire/pkg/messaging"
	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/notification"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting tripwire",
		"http_port", cfg.HTTPPort,
		"queue", cfg.RabbitMQQueue,
		"model", cfg.OpenAIModel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared store.
	rdb, err := storage.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	keys := storage.NewKeys(cfg.KeyPrefix)
	ruleStore := storage.NewRuleStore(rdb, keys)
	contextStore := storage.NewContextStore(rdb, keys, cfg.ContextWindow(), cfg.ContextMaxEvents)
	idempotency := storage.NewIdempotencyStore(rdb, keys)
	llmCache := storage.NewLLMCacheStore(rdb, keys)
	notifyQueue := storage.NewNotificationQueue(rdb, keys)
	dedup := storage.NewDedupStore(rdb, keys)
	rate := storage.NewRateCounter(rdb, keys)

	// Evaluation engines.
	evaluator := engine.NewEvaluator()
	traditional := engine.NewTraditionalEngine(evaluator)
	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAITimeout)
	llmEngine := llm.NewEngine(llmClient, llmCache, contextStore)
	modeStore := llm.NewModeStore(rdb, keys)
	modeManager := llm.NewModeManager(modeStore)
	router := engine.NewRouter(traditional, llmEngine, modeManager)

	// Notification path.
	defaultLimits := models.DefaultRateLimit()
	defaultLimits.CooldownSeconds = cfg.NotificationDefaultCooldown
	limiter := notification.NewLimiter(dedup, rate, defaultLimits)
	dispatcher := notification.NewDispatcher(limiter, notifyQueue)
	channels := []notification.Channel{
		notification.NewTelegramChannel(cfg.TelegramBotToken),
		notification.NewWeComChannel(),
		notification.NewEmailChannel(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom),
		notification.NewSlackChannel(cfg.SlackToken),
	}
	notifyWorker := notification.NewWorker(notifyQueue, channels, cfg.NotificationMaxRetry)
	notifyWorker.Start(ctx)

	// Event pipeline.
	handler := messaging.NewHandler(idempotency, contextStore, ruleStore, router, llmEngine, modeManager, dispatcher)
	consumer := messaging.NewConsumer(cfg.RabbitMQURL, cfg.RabbitMQQueue, cfg.Prefetch, handler)
	consumer.Start(ctx)

	sweeper := llm.NewSweeper(rdb, keys, modeStore, ruleStore, handler.HandleBatchFlush, cfg.BatchSweepInterval)
	sweeper.Start(ctx)

	// Rule mutations from any instance, for operator visibility.
	go func() {
		for update := range ruleStore.Subscribe(ctx) {
			slog.Info("Rule update received", "action", update.Action, "rule_id", update.RuleID)
		}
	}()

	// Control plane.
	apiServer := api.NewServer(ruleStore, contextStore, evaluator, rdb, cfg.Debug)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	consumer.Stop()
	sweeper.Stop()
	notifyWorker.Stop()
	cancel()
	slog.Info("Shutdown complete")
}
