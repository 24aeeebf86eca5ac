// tripd - Conversational Trip Planning Server
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

	"github.com/avezina/tripd/internal/api"
	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/config"
	"github.com/avezina/tripd/internal/embedding"
	"github.com/avezina/tripd/internal/middleware"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "mock_mode", cfg.MockMode())

	// Initialize preference storage.
	var embedder embedding.Embedder
	if e := embedding.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel); e != nil {
		embedder = e
	} else {
		slog.Info("No OpenAI API key, preference similarity falls back to text matching")
	}

	storeOpts := prefstore.Options{
		DedupSimilarity:  cfg.DedupSim,
		RetrieveMinScore: cfg.RetrieveMin,
		RetrieveDedup:    cfg.RetrieveDedup,
		AdminToken:       cfg.AdminToken,
	}
	sqlStore, err := prefstore.NewSQLite(cfg.DBPath, embedder, storeOpts)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	prefs := prefstore.NewResilient(sqlStore)
	defer func() {
		if closeErr := prefs.Close(); closeErr != nil {
			slog.Error("Failed to close preference store", "error", closeErr)
		}
	}()
	slog.Info("Preference store ready", "db_path", cfg.DBPath)

	// Initialize tool adapters.
	health := tools.NewHealth()
	toolPolicy := tools.RetryPolicy{
		Retries: cfg.ToolRetries,
		Backoff: cfg.RetryBackoff,
		Timeout: cfg.ToolTimeout,
	}
	modelPolicy := tools.RetryPolicy{
		Retries: cfg.ToolRetries,
		Backoff: cfg.RetryBackoff,
		Timeout: cfg.ModelTimeout,
	}
	geocoder := tools.NewAMapGeocoder(cfg.AMapAPIKey, toolPolicy, health)
	weather := tools.NewAMapWeather(cfg.AMapAPIKey, geocoder, toolPolicy, health)
	llm := tools.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, modelPolicy, health)

	// Assemble the assistant.
	sessions := session.NewManager(cfg.SessionTTL)
	graph := planner.New(weather, geocoder, llm, prefs, risk.New(), cfg.MaxTripDays, cfg.RetrieveTopK)
	asst := assistant.New(sessions, prefs, router.New(llm), graph, health)

	origins := middleware.Origins{"*"}
	handler := api.NewHandler(asst)
	wsHandler := api.NewWebSocketHandler(asst, origins)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	handler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Planning turns can run long when external tools retry.
		WriteTimeout: 2 * cfg.ModelTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartReaper(ctx, cfg.ReapInterval)
	slog.Info("Session reaper started", "session_ttl", cfg.SessionTTL, "interval", cfg.ReapInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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
