package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepseek-chat/internal/config"
	"deepseek-chat/internal/database"
	"deepseek-chat/internal/handlers"
	"deepseek-chat/internal/middleware"
	"deepseek-chat/internal/observability/metrics"
	"deepseek-chat/internal/retry"
	"deepseek-chat/internal/router"
	"deepseek-chat/internal/services"
	"deepseek-chat/internal/web"
	"deepseek-chat/pkg/logging"
)

const pageTitle = "DeepSeek 智能分析助手"

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("🚀 Starting DeepSeek chat relay...", "env", cfg.Env)
	logger.Info("✓ Environment variables loaded")

	if !cfg.APIKeyConfigured() {
		logger.Warn("DEEPSEEK_API_KEY is not set; POST /chat will answer 500 until it is configured")
	}

	// ──── Step 2: Metrics Registry ────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	chatMetrics := metrics.NewChatMetrics(reg)
	logger.Info("✓ Metrics registry initialized")

	// ──── Step 3: Rate Limit Store ────
	var store middleware.RateStore
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Error("✗ Redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = middleware.NewRedisStore(redisClient, time.Minute)
		logger.Info("✓ Redis connected, rate limits shared across replicas")
	} else {
		memStore := middleware.NewMemoryStore(time.Minute)
		defer memStore.Close()
		store = memStore
		logger.Info("✓ In-memory rate limit store initialized")
	}
	rateLimiter := middleware.NewRateLimiter(store, cfg.RateLimitPerMinute, logger, chatMetrics)

	// ──── Step 4: Initialize DeepSeek Client ────
	deepseekService := services.NewDeepSeekService(services.DeepSeekConfig{
		APIKey:         cfg.DeepSeekAPIKey,
		APIURL:         cfg.DeepSeekAPIURL,
		Model:          cfg.DeepSeekModel,
		Temperature:    cfg.DeepSeekTemperature,
		MaxTokens:      cfg.DeepSeekMaxTokens,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxConnections: cfg.MaxConnections,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Multiplier:  2,
		},
		Logger:  logger,
		Metrics: chatMetrics,
	})
	logger.Info("✓ DeepSeek client initialized",
		"model", cfg.DeepSeekModel,
		"max_connections", cfg.MaxConnections,
		"max_attempts", cfg.RetryMaxAttempts,
	)

	// ──── Step 5: Initialize Handlers ────
	tmpl, err := web.Templates()
	if err != nil {
		logger.Error("✗ Template parsing failed", "error", err)
		os.Exit(1)
	}
	pageHandler := handlers.NewPageHandler(tmpl, "index.html", web.PageData{
		Title:    pageTitle,
		Model:    cfg.DeepSeekModel,
		Endpoint: "/chat",
	}, logger)
	chatHandler := handlers.NewChatHandler(deepseekService, cfg.ChatRequestTimeout, logger, chatMetrics)
	healthHandler := handlers.NewHealthHandler(deepseekService)

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		logger,
		pageHandler,
		chatHandler,
		healthHandler,
		rateLimiter,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cfg.TrustProxy,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	if cfg.TrustProxy {
		logger.Info("Client addresses taken from X-Forwarded-For / X-Real-IP")
	}
	logger.Info(fmt.Sprintf("✓ DeepSeek chat ready on http://localhost:%s", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	<-done
}
