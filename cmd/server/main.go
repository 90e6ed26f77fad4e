package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/darkodi/shorts/internal/cache"
	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/events"
	"github.com/darkodi/shorts/internal/handler"
	"github.com/darkodi/shorts/internal/idgen"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/middleware"
	"github.com/darkodi/shorts/internal/render"
	"github.com/darkodi/shorts/internal/repository"
	"github.com/darkodi/shorts/internal/service"
	"github.com/darkodi/shorts/internal/stats"
	"github.com/darkodi/shorts/internal/task"
	"github.com/darkodi/shorts/internal/validator"
)

func main() {
	// ============================================================
	// LOAD CONFIGURATION
	// ============================================================
	// A missing .env file is fine; real environment variables still apply
	_ = godotenv.Load()

	fmt.Println("📋 Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if cfg.IsDevelopment() {
		fmt.Printf("   Environment: %s\n", cfg.App.Environment)
		fmt.Printf("   Port: %s\n", cfg.Server.Port)
		fmt.Printf("   Database: %s\n", cfg.Database.Driver)
		fmt.Printf("   Base URL: %s\n", cfg.App.BaseURL)
	}

	// ============================================================
	// Initialize logger
	// ============================================================
	log := logger.New(cfg.Log)

	log.Info("starting shorts",
		"name", cfg.App.Name,
		"level", cfg.Log.Level,
		"format", cfg.Log.Format,
		"environment", cfg.App.Environment)

	// ============================================================
	// INITIALIZE LAYERS
	// ============================================================
	if cfg.Database.Driver == config.DriverSQLite {
		if err := ensureDir(cfg.Database.URL); err != nil {
			log.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
	}

	log.Info("connecting to database...", "driver", cfg.Database.Driver)
	repo, err := repository.NewShortRepository(&cfg.Database, log)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	// ============================================================
	// INITIALIZE REDIS CACHE
	// ============================================================
	log.Info("connecting to Redis...")
	redisCache, err := cache.NewRedisCache(&cfg.Redis)
	if err != nil {
		log.Error("failed to configure Redis", "error", err)
		os.Exit(1)
	}
	// An unreachable Redis is not fatal
	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Warn("Redis unreachable, serving from the database only", "error", err)
	} else {
		log.Info("Redis connected successfully!")
	}
	cancelPing()

	ids, err := idgen.New(cfg.IDs.Node)
	if err != nil {
		log.Error("failed to create id generator", "error", err)
		os.Exit(1)
	}

	tasks := task.NewRunner(&cfg.Tasks, log)

	publisher, err := events.NewPublisher(&cfg.Events, cfg.App.Name, log)
	if err != nil {
		log.Warn("goto events disabled", "error", err)
		publisher = events.NopPublisher{}
	}

	recorder := stats.NewRecorder(repo, tasks, publisher, log)

	urlValidator := validator.NewURLValidator().
		WithMaxLength(cfg.App.MaxURLLength).
		WithBlockedDomains(cfg.App.BlockedDomains...)

	fmt.Println("⚙️  Initializing service...")
	svc := service.NewShortService(repo, redisCache, ids, recorder, tasks, service.Options{
		BaseURL:   cfg.App.BaseURL,
		CacheTTL:  cfg.Cache.TTL,
		Validator: urlValidator,
	}, log)

	renderer, err := render.New()
	if err != nil {
		log.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	fmt.Println("🌐 Setting up HTTP handlers...")
	h := handler.NewShortHandler(svc, recorder, renderer,
		handler.HealthChecks{Database: repo, Cache: redisCache},
		cfg.App.Name, log).WithValidator(urlValidator)
	router := h.SetupRoutes()

	// ============================================================
	// BUILD MIDDLEWARE CHAIN
	// ============================================================
	middlewares := []middleware.Middleware{
		middleware.RequestID,
		middleware.RecoveryWithLogger(log),
		middleware.LoggingWithLogger(log),
	}
	var rateLimiter *middleware.RateLimiter
	// Add rate limiter if enabled
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, log)
		middlewares = append(middlewares, rateLimiter.Middleware())
		log.Info("rate limiter enabled",
			"rate", cfg.RateLimit.Rate,
			"burst", cfg.RateLimit.Burst,
		)
	}

	wrappedRouter := middleware.Chain(router, middlewares...)

	// ============================================================
	// CREATE SERVER WITH CONFIG TIMEOUTS
	// ============================================================
	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      wrappedRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel to track server errors
	serverErr := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		if cfg.IsDevelopment() {
			fmt.Printf("🚀 Server starting on http://localhost%s\n", addr)
			fmt.Println("───────────────────────────────────────")
			fmt.Println("Endpoints:")
			fmt.Println("  GET  /                - Main page")
			fmt.Println("  POST /shorts          - Create short URL")
			fmt.Println("  GET  /{id}            - Redirect to long URL")
			fmt.Println("  GET  /api/shorts/goto - Most visited URLs")
			fmt.Println("  GET  /health          - Health check")
			fmt.Println("───────────────────────────────────────")
			fmt.Println("Press Ctrl+C to shutdown gracefully")
		}
		log.Info("server starting", "addr", "http://localhost"+addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// ============================================================
	// WAIT FOR SHUTDOWN OR ERROR
	// ============================================================
	exitCode := 0
	select {
	case err := <-serverErr:
		log.Error("server error", "error", err)
		exitCode = 1

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		// force close if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Error("forced shutdown failed", "error", err)
		}
	}
	if rateLimiter != nil {
		rateLimiter.Stop()
	}

	// Drain detached tasks before closing the stores they write to
	if err := tasks.Close(ctx); err != nil {
		log.Warn("pending tasks dropped", "error", err)
	}
	if err := publisher.Close(); err != nil {
		log.Error("failed to close event publisher", "error", err)
	}
	if err := redisCache.Close(); err != nil {
		log.Error("failed to close Redis client", "error", err)
	}
	if err := repo.Close(); err != nil {
		log.Error("failed to close database", "error", err)
	}

	cancel()

	log.Info("server stopped")
	os.Exit(exitCode)
}

// ensureDir creates the parent directory of a sqlite database file
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
