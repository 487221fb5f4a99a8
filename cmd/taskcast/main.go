// Taskcast server — task tracking and event streaming over HTTP with SSE,
// optional Redis-backed sharing across instances, and a Postgres archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/taskcast/taskcast/pkg/api"
	"github.com/taskcast/taskcast/pkg/broadcast"
	"github.com/taskcast/taskcast/pkg/cleanup"
	"github.com/taskcast/taskcast/pkg/config"
	"github.com/taskcast/taskcast/pkg/database"
	"github.com/taskcast/taskcast/pkg/engine"
	"github.com/taskcast/taskcast/pkg/models"
	"github.com/taskcast/taskcast/pkg/store"
	"github.com/taskcast/taskcast/pkg/version"
	"github.com/taskcast/taskcast/pkg/webhook"
)

const cleanupInterval = time.Minute

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("TASKCAST_CONFIG", ""),
		"Path to config file (default: taskcast.config.{yaml,yml,json})")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	slog.Info("Starting taskcast", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("Failed to resolve working directory", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath, cwd)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	configureLogging(cfg.LogLevel)

	// 2. Assemble the short-term store
	shortTerm, err := buildShortTermStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize short-term store", "error", err)
		os.Exit(1)
	}

	// 3. Assemble the broadcast provider
	provider, closeBroadcast, err := buildBroadcastProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize broadcast provider", "error", err)
		os.Exit(1)
	}
	defer closeBroadcast()

	// 4. Optional long-term archive
	var longTerm store.LongTermStore
	var dbClient *database.Client
	if entry := longTermEntry(cfg); entry != nil {
		dbClient, err = connectPostgres(ctx, entry)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		longTerm = database.NewLongTermStore(dbClient.DB())
		slog.Info("Long-term store enabled", "provider", entry.Provider)
	}

	// 5. Webhook delivery
	var deliveryOpts []webhook.DeliveryOption
	if cfg.Webhook != nil && cfg.Webhook.DefaultRetry != nil {
		deliveryOpts = append(deliveryOpts, webhook.WithDefaultRetry(*cfg.Webhook.DefaultRetry))
	}
	delivery := webhook.NewDelivery(deliveryOpts...)

	// 6. Hooks and engine
	hooks := &engine.Hooks{
		OnTaskFailed: func(task models.Task) {
			slog.Warn("Task failed", "task_id", task.ID, "type", task.Type)
		},
		OnTaskTimeout: func(task models.Task) {
			slog.Warn("Task timed out", "task_id", task.ID, "type", task.Type)
		},
		OnUnhandledError: func(taskID string, err error) {
			slog.Error("Unhandled task error", "task_id", taskID, "error", err)
		},
		OnEventDropped: func(event models.TaskEvent, reason string) {
			slog.Warn("Event dropped from long-term store",
				"task_id", event.TaskID, "event_id", event.ID, "reason", reason)
		},
		OnWebhookFailed: func(taskID, url string, err error) {
			slog.Warn("Webhook delivery failed", "task_id", taskID, "url", url, "error", err)
		},
	}

	eng := engine.New(engine.Options{
		ShortTerm: shortTerm,
		LongTerm:  longTerm,
		Broadcast: provider,
		Hooks:     hooks,
		Webhooks:  delivery,
	})
	slog.Info("Engine initialized")

	// 7. Cleanup service; per-task rules need the sweep even without
	// global rules
	var globalRules []models.CleanupRule
	if cfg.Cleanup != nil {
		globalRules = cfg.Cleanup.Rules
	}
	cleanupSvc := cleanup.NewService(shortTerm, globalRules, cleanupInterval)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 8. Authorization
	authorizer, err := buildAuthorizer(cfg)
	if err != nil {
		slog.Error("Failed to initialize authorization", "error", err)
		os.Exit(1)
	}

	// 9. HTTP server
	serverOpts := []api.Option{api.WithHooks(hooks)}
	if dbClient != nil {
		serverOpts = append(serverOpts, api.WithDatabase(dbClient.DB()))
	}
	server := api.NewServer(eng, authorizer, serverOpts...)

	port := getEnv("PORT", "8080")
	if cfg.Port != nil {
		port = fmt.Sprintf("%d", *cfg.Port)
	}
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func buildShortTermStore(_ context.Context, cfg *config.Config) (store.ShortTermStore, error) {
	entry := adapterEntry(cfg, func(a *config.AdaptersConfig) *config.AdapterEntry { return a.ShortTerm })
	if entry == nil || entry.Provider == "" || entry.Provider == "memory" {
		slog.Info("Short-term store: in-memory")
		return store.NewMemoryStore(), nil
	}
	if entry.Provider != "redis" {
		return nil, fmt.Errorf("unknown short-term provider %q", entry.Provider)
	}

	client, err := redisClient(entry.URL)
	if err != nil {
		return nil, err
	}
	slog.Info("Short-term store: redis", "url", entry.URL)
	return store.NewRedisStore(client), nil
}

func buildBroadcastProvider(ctx context.Context, cfg *config.Config) (broadcast.Provider, func(), error) {
	entry := adapterEntry(cfg, func(a *config.AdaptersConfig) *config.AdapterEntry { return a.Broadcast })
	if entry == nil || entry.Provider == "" || entry.Provider == "memory" {
		slog.Info("Broadcast provider: in-memory")
		return broadcast.NewMemoryProvider(), func() {}, nil
	}
	if entry.Provider != "redis" {
		return nil, nil, fmt.Errorf("unknown broadcast provider %q", entry.Provider)
	}

	client, err := redisClient(entry.URL)
	if err != nil {
		return nil, nil, err
	}
	provider, err := broadcast.NewRedisProvider(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Broadcast provider: redis", "url", entry.URL)
	return provider, func() {
		if err := provider.Close(); err != nil {
			slog.Error("Error closing broadcast provider", "error", err)
		}
	}, nil
}

func longTermEntry(cfg *config.Config) *config.AdapterEntry {
	entry := adapterEntry(cfg, func(a *config.AdaptersConfig) *config.AdapterEntry { return a.LongTerm })
	if entry == nil || entry.Provider == "" || entry.Provider == "none" {
		return nil
	}
	return entry
}

func connectPostgres(ctx context.Context, entry *config.AdapterEntry) (*database.Client, error) {
	if entry.Provider != "postgres" {
		return nil, fmt.Errorf("unknown long-term provider %q", entry.Provider)
	}
	if entry.URL != "" {
		return database.NewClientFromDSN(ctx, entry.URL, "taskcast")
	}
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return database.NewClient(ctx, dbConfig)
}

func adapterEntry(cfg *config.Config, pick func(*config.AdaptersConfig) *config.AdapterEntry) *config.AdapterEntry {
	if cfg.Adapters == nil {
		return nil
	}
	return pick(cfg.Adapters)
}

func redisClient(url string) (*redis.Client, error) {
	if url == "" {
		url = getEnv("REDIS_URL", "redis://localhost:6379")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func buildAuthorizer(cfg *config.Config) (*api.Authorizer, error) {
	if cfg.Auth == nil || cfg.Auth.Mode == "" || cfg.Auth.Mode == "none" {
		return api.NewNoneAuthorizer(), nil
	}
	if cfg.Auth.Mode != "jwt" {
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	if cfg.Auth.JWT == nil {
		return nil, fmt.Errorf("jwt auth mode requires an auth.jwt section")
	}

	token := api.TokenConfig{
		Secret:       cfg.Auth.JWT.Secret,
		PublicKeyPEM: cfg.Auth.JWT.PublicKey,
		Issuer:       cfg.Auth.JWT.Issuer,
		Audience:     cfg.Auth.JWT.Audience,
	}
	if token.PublicKeyPEM == "" && cfg.Auth.JWT.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.Auth.JWT.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading public key file: %w", err)
		}
		token.PublicKeyPEM = string(pem)
	}
	return api.NewTokenAuthorizer(token)
}
