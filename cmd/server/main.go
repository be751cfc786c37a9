// Cohe Chat completion proxy server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/cohe-chat/internal/api"
	"github.com/ashureev/cohe-chat/internal/config"
	"github.com/ashureev/cohe-chat/internal/health"
	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/identity"
	"github.com/ashureev/cohe-chat/internal/middleware"
	"github.com/ashureev/cohe-chat/internal/provider"
	"github.com/ashureev/cohe-chat/internal/ratelimit"
	"github.com/ashureev/cohe-chat/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "provider", cfg.Provider, "locale", cfg.Locale)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	translator, err := i18n.New(cfg.Locale)
	if err != nil {
		slog.Error("Failed to load translations", "error", err)
		os.Exit(1)
	}

	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	var llm provider.Provider
	switch cfg.Provider {
	case config.ProviderGemini:
		llm, err = provider.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
		if err != nil {
			slog.Error("Failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
	default:
		llm = provider.NewCohere(provider.CohereConfig{
			APIKey: cfg.CohereAPIKey,
			URL:    cfg.CohereURL,
			Model:  cfg.Model,
			Client: upstreamClient,
		}, logger)
	}
	if !llm.Configured() {
		slog.Warn("Provider API key not set, chat requests will fail", "provider", llm.Name())
	}

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	go limiter.Run(ctx)
	slog.Info("Rate limiter started", "max", cfg.RateLimit.RequestsPerWindow, "window", cfg.RateLimit.Window)

	handler := api.NewHandler(llm, translator, api.Options{
		MaxPromptChars: cfg.MaxPromptChars,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	handler.RegisterHealth(r)
	handler.RegisterRoutes(r, middleware.RateLimit(limiter, identity.ClientIP, translator, logger))
	r.Handle("/*", web.Handler())

	// Completions stream for a long time, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var healthSrv *health.Server
	if cfg.GRPCHealthPort != "" {
		healthSrv = health.NewServer(logger)
		healthSrv.SetServing(llm.Configured())
		go func() {
			if err := healthSrv.Run(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
