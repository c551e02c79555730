package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/akovalyov/receipt-tracker/internal/api/middleware"
	"github.com/akovalyov/receipt-tracker/internal/jobs"
	store "github.com/akovalyov/receipt-tracker/internal/store/bigquery"
)

// ReceiptsHandler handles receipt-related endpoints.
type ReceiptsHandler struct {
	repo        store.ReceiptRepository
	publisher   jobs.Publisher
	bucket      string
	credentials string
	log         zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(repo store.ReceiptRepository, publisher jobs.Publisher, bucket, credentialsFile string, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		repo:        repo,
		publisher:   publisher,
		bucket:      bucket,
		credentials: credentialsFile,
		log:         log,
	}
}

// ListReceipts handles GET /api/receipts. With a q parameter it searches by
// merchant name instead of listing everything.
func (h *ReceiptsHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		receipts []*store.ReceiptRow
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		receipts, err = h.repo.SearchReceipts(ctx, q)
	} else {
		receipts, err = h.repo.ListReceipts(ctx)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list receipts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list receipts")
		return
	}

	if receipts == nil {
		receipts = []*store.ReceiptRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

// GetReceipt handles GET /api/receipts/{id}.
func (h *ReceiptsHandler) GetReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	row, err := h.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if row == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, row)
}

// CreateUploadURL handles POST /api/receipts/upload-url
func (h *ReceiptsHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Filename is required")
		return
	}

	// Generate unique object name
	objectName := fmt.Sprintf("receipts/%s/%s", time.Now().Format("2006/01/02"), uuid.New().String()+"-"+req.Filename)
	gcsURI := fmt.Sprintf("gs://%s/%s", h.bucket, objectName)
	receiptID := uuid.New().String()

	// For local development with user credentials, return direct upload URL
	// In production with service accounts, this would use signed URLs
	uploadURL := fmt.Sprintf("/api/receipts/upload/%s?object_name=%s&filename=%s", receiptID, url.QueryEscape(objectName), url.QueryEscape(req.Filename))

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"upload_url":  uploadURL,
		"gcs_uri":     gcsURI,
		"object_name": objectName,
		"receipt_id":  receiptID,
	})
}

// UploadReceipt handles POST /api/receipts/upload/{id}. It streams the body
// to GCS, records the receipt as PENDING, and enqueues extraction. A failed
// enqueue does not fail the upload; the extraction can be requested again
// through the extract endpoint.
func (h *ReceiptsHandler) UploadReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	// Get object name from query parameter (passed from CreateUploadURL)
	objectName := r.URL.Query().Get("object_name")
	if objectName == "" {
		middleware.WriteError(w, http.StatusBadRequest, "object_name is required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	gcsURI := fmt.Sprintf("gs://%s/%s", h.bucket, objectName)

	var opts []option.ClientOption
	if h.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(h.credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create storage client")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	defer client.Close()

	wc := client.Bucket(h.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	written, err := io.Copy(wc, r.Body)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to write to GCS")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	if err := wc.Close(); err != nil {
		h.log.Error().Err(err).Msg("Failed to close GCS writer")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	h.log.Info().
		Str("receipt_id", receiptID).
		Str("gcs_uri", gcsURI).
		Int64("bytes", written).
		Msg("File uploaded successfully")

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "receipt.pdf"
	}
	if idx := strings.Index(filename, "?"); idx > 0 {
		filename = filename[:idx]
	}
	filename = filepath.Base(filename)

	row := &store.ReceiptRow{
		ReceiptID:        receiptID,
		UserID:           r.URL.Query().Get("user_id"),
		CompanyID:        r.URL.Query().Get("company_id"),
		OriginalFilename: filename,
		GCSURI:           gcsURI,
		FileMimeType:     contentType,
		Status:           store.StatusPending,
		UploadTS:         time.Now(),
	}

	if err := h.repo.InsertReceipt(ctx, row); err != nil {
		h.log.Error().Err(err).Msg("Failed to insert receipt metadata")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save receipt metadata")
		return
	}

	job := &jobs.ExtractReceiptJob{
		ReceiptID: receiptID,
		URL:       gcsURI,
	}
	if err := h.publisher.PublishExtractReceipt(ctx, job); err != nil {
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to enqueue extraction job")
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"receipt_id": receiptID,
		"gcs_uri":    gcsURI,
		"job_id":     job.JobID,
		"status":     "uploaded",
	})
}

// EnqueueExtraction handles POST /api/receipts/extract
func (h *ReceiptsHandler) EnqueueExtraction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID string `json:"receipt_id"`
		URL       string `json:"url"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ReceiptID == "" || req.URL == "" {
		middleware.WriteError(w, http.StatusBadRequest, "receipt_id and url are required")
		return
	}

	ctx := r.Context()

	job := &jobs.ExtractReceiptJob{
		ReceiptID: req.ReceiptID,
		URL:       req.URL,
	}

	if err := h.publisher.PublishExtractReceipt(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue extraction job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue extraction job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("receipt_id", req.ReceiptID).Msg("Extraction job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"receipt_id": req.ReceiptID,
		"status":     string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		ReceiptID: query.Get("receipt_id"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
