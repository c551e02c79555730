package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/akovalyov/receipt-tracker/internal/api/handlers"
	"github.com/akovalyov/receipt-tracker/internal/api/middleware"
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

	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - receipt uploads will be disabled")
	}

	ctx := context.Background()

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

	usage := entitlement.New(cfg.Entitlement.BaseURL, cfg.Entitlement.APIKey, log)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Queue.BufferSize, cfg.Queue.Workers, cfg.Queue.MaxRetries, jobStore)

	orchestrator := pipeline.NewOrchestrator(
		fetch.New(log, cfg.Storage.CredentialsFile),
		extractor,
		repo,
		usage,
		jobStore,
		log,
	)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Queue.Workers).Msg("Starting extraction workers")
		if err := jobQueue.Start(workerCtx, orchestrator.Handler()); err != nil {
			log.Error().Err(err).Msg("Extraction workers stopped with error")
		}
	}()

	// Initialize handlers
	receiptsHandler := handlers.NewReceiptsHandler(repo, jobQueue, cfg.Storage.Bucket, cfg.Storage.CredentialsFile, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Receipts endpoints
	mux.HandleFunc("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			receiptsHandler.ListReceipts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/upload-url", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.CreateUploadURL(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/upload/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			receiptID := strings.TrimPrefix(r.URL.Path, "/api/receipts/upload/")
			if receiptID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Receipt ID is required")
				return
			}
			receiptsHandler.UploadReceipt(w, r, receiptID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			receiptsHandler.ListReceipts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/extract", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.EnqueueExtraction(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			receiptID := strings.TrimPrefix(r.URL.Path, "/api/receipts/")
			if receiptID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Receipt ID is required")
				return
			}
			receiptsHandler.GetReceipt(w, r, receiptID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(cfg.Auth.Token)(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
