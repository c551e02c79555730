package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akovalyov/receipt-tracker/internal/config"
	"github.com/akovalyov/receipt-tracker/internal/entitlement"
	"github.com/akovalyov/receipt-tracker/internal/extract"
	"github.com/akovalyov/receipt-tracker/internal/fetch"
	"github.com/akovalyov/receipt-tracker/internal/jobs/inmemory"
	"github.com/akovalyov/receipt-tracker/internal/logger"
	"github.com/akovalyov/receipt-tracker/internal/pipeline"
	store "github.com/akovalyov/receipt-tracker/internal/store/bigquery"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateParser(); err != nil {
		log.Fatal().Err(err).Msg("Invalid parser configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := store.NewRepository(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create receipt repository")
	}
	defer repo.Close()

	extractor, err := extract.NewClient(cfg.Parser.APIKey, log,
		extract.WithModel(cfg.Parser.Model),
		extract.WithProbe(cfg.Parser.Probe))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extraction client")
	}

	// In production, the in-memory queue would be replaced with Cloud Tasks
	// or Pub/Sub behind the same interfaces.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Queue.BufferSize, cfg.Queue.Workers, cfg.Queue.MaxRetries, jobStore)

	orchestrator := pipeline.NewOrchestrator(
		fetch.New(log, cfg.Storage.CredentialsFile),
		extractor,
		repo,
		entitlement.New(cfg.Entitlement.BaseURL, cfg.Entitlement.APIKey, log),
		jobStore,
		log,
	)

	log.Info().Msg("Starting worker service")

	if err := jobQueue.Start(ctx, orchestrator.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
