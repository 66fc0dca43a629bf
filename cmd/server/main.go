// Dex - conversational language tutor server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/dex/internal/agent"
	"github.com/ashureev/dex/internal/api"
	"github.com/ashureev/dex/internal/config"
	"github.com/ashureev/dex/internal/health"
	"github.com/ashureev/dex/internal/identity"
	"github.com/ashureev/dex/internal/llm"
	"github.com/ashureev/dex/internal/middleware"
	"github.com/ashureev/dex/internal/session"
	"github.com/ashureev/dex/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("Failed to close log file", "error", err)
		}
	}()

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	sessions, err := session.Open(cfg.SessionDir, cfg.SessionTTL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()
	sessions.StartGCWorker(ctx, cfg.SessionGCInterval)
	slog.Info("Session store ready", "dir", cfg.SessionDir, "session_ttl", cfg.SessionTTL)

	gateway, err := llm.NewGateway(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	conversationLogger, err := agent.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		return err
	}

	svc, err := agent.NewService(agent.Deps{
		Gateway:           gateway,
		Store:             repo,
		Log:               conversationLogger,
		Model:             cfg.LLM.Model,
		ChatTemperature:   cfg.LLM.ChatTemperature,
		ReviewTemperature: cfg.LLM.ReviewTemperature,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	checker := health.NewChecker(5 * time.Second)
	checker.Register("database", repo)
	checker.Register("sessions", sessions)

	// Initialize handlers.
	chatHandler := agent.NewHandler(svc, sessions, cfg, cfg.IsDevelopment())
	defer chatHandler.Close()
	apiHandler := api.NewHandler(repo, repo, sessions)
	healthHandler := api.NewHealthHandler(checker)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	apiHandler.RegisterRoutes(r)

	// No WriteTimeout: /ws/chat connections are long-lived and model calls are
	// bounded by MODEL_TIMEOUT instead.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		grpcHealth := health.NewGRPCServer(checker, 15*time.Second)
		go func() {
			slog.Info("gRPC health listening", "addr", cfg.GRPCHealthAddr)
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
