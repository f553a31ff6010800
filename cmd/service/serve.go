// cmd/service/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github-activity-sync/internal/accounts"
	"github-activity-sync/internal/aggregate"
	"github-activity-sync/internal/api"
	"github-activity-sync/internal/classifier"
	"github-activity-sync/internal/clock"
	"github-activity-sync/internal/config"
	"github-activity-sync/internal/credentials"
	"github-activity-sync/internal/database"
	"github-activity-sync/internal/github"
	"github-activity-sync/internal/jobs"
	"github-activity-sync/internal/syncer"
)

const shutdownGrace = 30 * time.Second

func serveCmd() *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runServe(cfg, logger, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func runServe(cfg *config.Config, logger *slog.Logger, migrateFirst bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateFirst {
		m, err := database.NewMigrator(pool)
		if err != nil {
			return err
		}
		if err := m.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
		logger.Info("Database migrations applied successfully")
	}

	store := database.NewStore(pool)
	clk := clock.Real{}

	enc, err := credentials.NewTokenEncryptor(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token encryption: %w", err)
	}
	creds := credentials.NewStore(store, enc, logger)

	reconciler := syncer.NewReconciler(store, creds, github.NewQuotaRegistry(clk, cfg.GithubMaxRateLimitWait), syncer.Config{
		GithubBaseURL:     cfg.GithubBaseURL,
		MaxAttempts:       cfg.GithubMaxAttempts,
		BackoffBase:       cfg.GithubBackoffBase,
		DefaultSince:      cfg.SyncDefaultSinceTime,
		RepoConcurrency:   cfg.SyncRepoConcurrency,
		DetailConcurrency: cfg.SyncDetailConcurrency,
		IncludeForks:      cfg.SyncIncludeForks,
	}, clk, logger)

	var pass jobs.ClassificationPass
	if cfg.AIEnabled() {
		llm := classifier.NewOpenAIClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AITimeout)
		cls := classifier.New(llm, classifier.Config{
			Model:             cfg.AIModel,
			RequestsPerMinute: cfg.AIRequestsPerMinute,
			Timeout:           cfg.AITimeout,
		}, logger)
		pass = classifier.NewPass(store, cls, classifier.PassConfig{
			Concurrency: cfg.AIConcurrency,
			RetryAfter:  cfg.AIDegradedRetryAfter,
		}, clk, logger)
		logger.Info("Commit classification enabled", "model", cfg.AIModel)
	} else {
		logger.Info("AI_API_KEY not set, commit classification disabled")
	}

	engine := aggregate.NewEngine(store, clk, logger)
	manager := jobs.NewManager(store, reconciler, pass, engine, clk, logger)
	scheduler := jobs.NewScheduler(store, manager, jobs.SchedulerConfig{
		Tick:            cfg.SyncSchedulerTick,
		DefaultInterval: cfg.SyncDefaultInterval,
		JobTimeout:      cfg.SyncJobTimeout,
	}, clk, logger)
	svc := accounts.NewService(store, creds, engine, logger)

	go scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(svc, manager, engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	manager.Shutdown(shutdownCtx)
	logger.Info("Shutdown complete")
	return nil
}
