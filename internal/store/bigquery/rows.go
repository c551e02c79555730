package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

const receiptsTable = "receipts"

// ReceiptRow represents a receipt record in BigQuery. Extraction results are
// written back onto the same row the upload created.
type ReceiptRow struct {
	ReceiptID string `bigquery:"receipt_id" json:"receipt_id"`
	UserID    string `bigquery:"user_id" json:"user_id"`
	CompanyID string `bigquery:"company_id" json:"company_id,omitempty"`

	GCSURI           string `bigquery:"gcs_uri" json:"gcs_uri"`
	OriginalFilename string `bigquery:"original_filename" json:"original_filename"`
	FileMimeType     string `bigquery:"file_mime_type" json:"file_mime_type"`

	Status      string                 `bigquery:"status" json:"status"`
	UploadTS    time.Time              `bigquery:"upload_ts" json:"upload_ts"`
	ProcessedTS bigquery.NullTimestamp `bigquery:"processed_ts" json:"processed_ts,omitempty"`

	DisplayName string `bigquery:"display_name" json:"display_name,omitempty"`
	Summary     string `bigquery:"summary" json:"summary,omitempty"`

	MerchantName    string `bigquery:"merchant_name" json:"merchant_name,omitempty"`
	MerchantAddress string `bigquery:"merchant_address" json:"merchant_address,omitempty"`
	MerchantContact string `bigquery:"merchant_contact" json:"merchant_contact,omitempty"`

	TransactionDate bigquery.NullDate `bigquery:"transaction_date" json:"transaction_date,omitempty"`
	ReceiptNumber   string            `bigquery:"receipt_number" json:"receipt_number,omitempty"`
	PaymentMethod   string            `bigquery:"payment_method" json:"payment_method,omitempty"`

	Subtotal  float64 `bigquery:"subtotal" json:"subtotal"`
	Tax       float64 `bigquery:"tax" json:"tax"`
	Total     float64 `bigquery:"total" json:"total"`
	Currency  string  `bigquery:"currency" json:"currency,omitempty"`
	ItemCount int     `bigquery:"item_count" json:"item_count"`

	// ItemsJSON holds the normalized line items as a JSON array.
	ItemsJSON bigquery.NullJSON `bigquery:"items" json:"items,omitempty"`
}

// Receipt processing statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)
