package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/akovalyov/receipt-tracker/internal/config"
	"github.com/akovalyov/receipt-tracker/internal/entitlement"
	"github.com/akovalyov/receipt-tracker/internal/extract"
	"github.com/akovalyov/receipt-tracker/internal/fetch"
	"github.com/akovalyov/receipt-tracker/internal/jobs"
	"github.com/akovalyov/receipt-tracker/internal/jobs/inmemory"
	"github.com/akovalyov/receipt-tracker/internal/logger"
	"github.com/akovalyov/receipt-tracker/internal/pipeline"
	store "github.com/akovalyov/receipt-tracker/internal/store/bigquery"
	"github.com/akovalyov/receipt-tracker/internal/upload"
)

// scan uploads a local receipt PDF (or takes an existing URL) and runs the
// extraction pipeline synchronously, printing the resulting summary.
func main() {
	log := logger.New()

	var (
		filePath = flag.String("file", "", "Path to a local receipt PDF to upload and scan")
		docURL   = flag.String("url", "", "URL of an already uploaded receipt (gs:// or http)")
		userID   = flag.String("user", "", "User ID to attribute the receipt to")
	)
	flag.Parse()

	if *filePath == "" && *docURL == "" {
		log.Fatal().Msg("Usage: scan -file /path/to/receipt.pdf [-user USER_ID] | scan -url gs://bucket/receipt.pdf")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateParser(); err != nil {
		log.Fatal().Err(err).Msg("Invalid parser configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	url := *docURL
	filename := "receipt.pdf"
	if *filePath != "" {
		if cfg.Storage.Bucket == "" {
			log.Fatal().Msg("storage.bucket must be configured to upload local files")
		}
		filename = filepath.Base(*filePath)
		objectName := upload.ObjectName(*filePath, time.Now())

		log.Info().Str("bucket", cfg.Storage.Bucket).Str("object", objectName).Msg("Uploading receipt")

		url, err = upload.File(ctx, cfg.Storage.CredentialsFile, cfg.Storage.Bucket, objectName, *filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Upload failed")
		}
		fmt.Printf("Uploaded %s to %s\n", *filePath, url)
	}

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

	receiptID := uuid.New().String()
	row := &store.ReceiptRow{
		ReceiptID:        receiptID,
		UserID:           *userID,
		OriginalFilename: filename,
		GCSURI:           url,
		FileMimeType:     "application/pdf",
		Status:           store.StatusPending,
		UploadTS:         time.Now(),
	}
	if err := repo.InsertReceipt(ctx, row); err != nil {
		log.Fatal().Err(err).Msg("Failed to record receipt")
	}

	jobStore := inmemory.NewStore()
	orchestrator := pipeline.NewOrchestrator(
		fetch.New(log, cfg.Storage.CredentialsFile),
		extractor,
		repo,
		entitlement.New(cfg.Entitlement.BaseURL, cfg.Entitlement.APIKey, log),
		jobStore,
		log,
	)

	job := &jobs.ExtractReceiptJob{
		JobID:      uuid.New().String(),
		ReceiptID:  receiptID,
		URL:        url,
		Status:     jobs.JobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: 0,
	}

	log.Info().Str("receipt_id", receiptID).Str("url", url).Msg("Starting extraction")

	result, err := orchestrator.Process(ctx, job)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	fmt.Println(result.Summary)
}
