package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ashureev/supercoder/internal/api"
	"github.com/ashureev/supercoder/internal/artifact"
	"github.com/ashureev/supercoder/internal/config"
	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/identity"
	"github.com/ashureev/supercoder/internal/llm"
	"github.com/ashureev/supercoder/internal/middleware"
	"github.com/ashureev/supercoder/internal/runner"
	"github.com/ashureev/supercoder/internal/store"
	"github.com/ashureev/supercoder/internal/transcript"
	"github.com/ashureev/supercoder/web"
)

// sseConnectsPerMinute caps how often one user may open an event stream.
const sseConnectsPerMinute = 10

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, "json", slog.LevelInfo)

			slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer func() {
				if closeErr := repo.Close(); closeErr != nil {
					slog.Error("Failed to close repository", "error", closeErr)
				}
			}()

			if err := repo.Ping(context.Background()); err != nil {
				return fmt.Errorf("database health check: %w", err)
			}
			slog.Info("Database connected")

			gen, err := llm.NewOpenAIClient(llm.Config{
				APIKey:         cfg.OpenAIKey,
				BaseURL:        cfg.OpenAIBaseURL,
				Model:          cfg.Model,
				Temperature:    cfg.Temperature,
				RequestTimeout: cfg.GenTimeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("initialize generator: %w", err)
			}
			slog.Info("Generator ready", "model", cfg.Model)

			run, err := buildRunner(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize executor: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var pinger api.Pinger
			if dockerRun, ok := run.(*runner.DockerRunner); ok {
				pinger = dockerRun
				if err := dockerRun.Ping(ctx); err != nil {
					return fmt.Errorf("docker health check: %w", err)
				}
				if reaped, err := dockerRun.ReapStale(ctx); err != nil {
					slog.Warn("Failed to reap stale exec containers", "error", err)
				} else if reaped > 0 {
					slog.Info("Reaped stale exec containers", "count", reaped)
				}
				slog.Info("Docker executor ready", "image", cfg.ExecImage)
			}

			transcriptLog, err := transcript.NewLogger(transcript.Config{
				Enabled:    cfg.Transcript.Enabled,
				Dir:        cfg.Transcript.Dir,
				GlobalFile: cfg.Transcript.GlobalPath,
				QueueSize:  cfg.Transcript.QueueSize,
			}, logger)
			if err != nil {
				return fmt.Errorf("initialize transcript logger: %w", err)
			}
			defer transcriptLog.Close()

			hub := events.NewHub(logger)

			launcher := api.NewLauncher(gen, run, repo, hub, transcriptLog, api.LauncherConfig{
				ArtifactDir:  cfg.ArtifactDir,
				ArtifactName: cfg.ArtifactName,
				FormatCmd:    cfg.FormatCmd,
				MaxActive:    cfg.MaxActiveSessions,
			}, logger)

			// Initialize handlers.
			base := api.NewHandler(repo, hub)
			healthHandler := api.NewHealthHandler(repo, pinger)
			examplesHandler := api.NewExamplesHandler()
			sessionHandler := api.NewSessionHandler(base, launcher, cfg.TargetLanguage, cfg.Executor, cfg.MaxAttempts)
			sseLimiter := api.NewRateLimiter(sseConnectsPerMinute, time.Minute)
			defer sseLimiter.Stop()
			sseHandler := api.NewSSEHandler(base, sseLimiter)
			wsHandler := api.NewWSHandler(base, launcher, cfg.FrontendURL, cfg.IsDevelopment())

			// Setup router.
			r := chi.NewRouter()

			// Global middleware.
			r.Use(chiMiddleware.RequestID)
			r.Use(chiMiddleware.RealIP)
			r.Use(chiMiddleware.Logger)
			r.Use(chiMiddleware.Recoverer)
			r.Use(chiMiddleware.Heartbeat("/health"))
			r.Use(middleware.CORS([]string{cfg.FrontendURL}))
			r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

			healthHandler.RegisterHealth(r)

			r.Route("/api/v1", func(r chi.Router) {
				examplesHandler.RegisterRoutes(r)
				sessionHandler.RegisterRoutes(r)
				r.Get("/sessions/{sessionID}/events", sseHandler.Stream)
				r.Get("/sessions/{sessionID}/ws", wsHandler.ServeHTTP)
			})

			r.Handle("/metrics", promhttp.Handler())

			// Serve embedded frontend (SPA catch-all).
			r.Handle("/*", web.Handler())

			// SSE connections need an unbounded write window; keepalives
			// hold them open.
			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      r,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 0,
				IdleTimeout:  120 * time.Second,
			}

			store.StartRetentionWorker(ctx, repo, cfg.SessionRetention, cfg.RetentionInterval, func(sessionID string) {
				hub.DropSession(sessionID)
				if err := artifact.CleanupDir(launcher.ArtifactDir(sessionID)); err != nil {
					slog.Warn("Failed to remove artifacts of expired session",
						"session_id", sessionID, "error", err)
				}
			})
			slog.Info("Retention worker started", "retention", cfg.SessionRetention)

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
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			// Running engines hold their own contexts; cancel them so
			// their sessions land in the store as aborted, not stale.
			launcher.StopAll(5 * time.Second)

			slog.Info("Server stopped successfully")
			return nil
		},
	}
}
