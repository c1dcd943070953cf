package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/chats"
	"github.com/parley-ai/parley/internal/clock"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/database"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/middleware"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/prompt"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/quota"
	iredis "github.com/parley-ai/parley/internal/redis"
	"github.com/parley-ai/parley/internal/server"
	"github.com/parley-ai/parley/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional: without it the API runs, domain events are dropped.
	var eventsClient *events.Client
	if cfg.NATS.URL != "" {
		eventsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
	} else {
		slog.Warn("NATS not configured, domain events disabled")
	}
	publisher := events.NewPublisher(eventsClient)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)

	// Providers
	registry := buildRegistry(cfg.Providers)

	// Quota gate
	gate := quota.NewGate(quota.NewRepository(pool), quota.ResetPolicy{
		Offset: cfg.Quota.ResetOffset,
		Hour:   cfg.Quota.ResetHour,
		Minute: cfg.Quota.ResetMinute,
	})

	// Chats
	titler, titleModel := fastModel(registry)
	chatRepo := chats.NewPostgresRepository(pool)
	chatSvc := chats.NewService(chatRepo, titler, titleModel)
	chatHandler := chats.NewHandler(chatSvc)

	// Streams
	transport := stream.NewRedisTransport(redisClient, cfg.Stream.BufferTTL)
	coordinator := stream.NewCoordinator(
		stream.NewPostgresHandleRepo(pool),
		transport,
		chatRepo,
		cfg.Stream.GraceWindow,
	)

	// Orchestrator
	var enhancer *prompt.Enhancer
	if titler != nil {
		enhancer = &prompt.Enhancer{Provider: titler, Model: titleModel}
	}
	orch := orchestrator.New(orchestrator.Config{
		Gate:         gate,
		Chats:        chatSvc,
		Assembler:    &prompt.Assembler{TokenBudget: cfg.Prompt.TokenBudget},
		Enhancer:     enhancer,
		Registry:     registry,
		Coordinator:  coordinator,
		Publisher:    publisher,
		Clock:        clock.Real(),
		SystemPrompt: cfg.Prompt.SystemPrompt,
	})
	orchHandler := orchestrator.NewHandler(orch)

	// Router
	generateLimiter := middleware.NewRateLimiter(redisClient, "generate", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec)
	router := api.NewRouter(pool, eventsClient, api.RouterConfig{
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		GenerateRateLimiter: generateLimiter.Middleware,
	}, api.HandlerSet{
		CreateChat:          chatHandler.Create,
		ListChats:           chatHandler.List,
		GetChat:             chatHandler.Get,
		UpdateChat:          chatHandler.Update,
		DeleteChat:          chatHandler.Delete,
		ListMessages:        chatHandler.Messages,
		OwnershipMiddleware: chatHandler.OwnershipMiddleware,

		SendMessage:  orchHandler.SendMessage,
		ResumeStream: orchHandler.ResumeStream,
		QuotaStatus:  orchHandler.QuotaStatus,
		ListModels:   orchHandler.Models,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// buildRegistry wires one adapter per configured vendor. A vendor without
// an API key is skipped, so deployments can run on any subset.
func buildRegistry(cfg config.ProvidersConfig) *provider.Registry {
	var providers []provider.Provider

	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, provider.NewAnthropicProvider(cfg.AnthropicAPIKey, []provider.ModelInfo{
			{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", Upstream: "claude-sonnet-4-20250514"},
			{ID: "anthropic/claude-3-5-haiku", Name: "Claude 3.5 Haiku", Upstream: "claude-3-5-haiku-20241022"},
		}))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, provider.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, "", []provider.ModelInfo{
			{ID: "openai/gpt-4o", Name: "GPT-4o", Upstream: "gpt-4o"},
			{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Upstream: "gpt-4o-mini"},
		}))
	}
	if cfg.OpenRouterAPIKey != "" {
		baseURL := cfg.OpenRouterBaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		providers = append(providers, provider.NewOpenAIProvider("openrouter", cfg.OpenRouterAPIKey, baseURL, []provider.ModelInfo{
			{ID: "deepseek/deepseek-chat-v3-0324:free", Name: "DeepSeek Chat v3 (free)", Upstream: "deepseek/deepseek-chat-v3-0324:free"},
		}))
	}

	return provider.NewRegistry(providers...)
}

// fastModel picks the cheapest registered model for auxiliary calls (chat
// titles, prompt enhancement). Preference order mirrors cost.
func fastModel(registry *provider.Registry) (provider.Provider, string) {
	for _, id := range []string{
		"deepseek/deepseek-chat-v3-0324:free",
		"openai/gpt-4o-mini",
		"anthropic/claude-3-5-haiku",
	} {
		if p, info, err := registry.Lookup(id); err == nil {
			return p, info.Upstream
		}
	}
	return nil, ""
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
