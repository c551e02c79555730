package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/akovalyov/receipt-tracker/internal/receipt"
)

// PersistenceError wraps a failed database mutation. The pipeline treats it
// as retryable at the job level; no usage event is reported after one.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ReceiptRepository provides receipt persistence and dashboard queries.
type ReceiptRepository interface {
	// InsertReceipt inserts a new receipt row (status PENDING) at upload time.
	InsertReceipt(ctx context.Context, row *ReceiptRow) error

	// SaveExtraction writes all normalized fields plus the derived display
	// name and summary onto the receipt record, and returns the owning
	// user id.
	SaveExtraction(ctx context.Context, receiptID string, rec *receipt.Receipt) (string, error)

	// MarkFailed sets status=FAILED on the receipt record.
	MarkFailed(ctx context.Context, receiptID string) error

	// GetReceipt retrieves a single receipt by id, or nil if absent.
	GetReceipt(ctx context.Context, receiptID string) (*ReceiptRow, error)

	// ListReceipts retrieves receipts newest-first.
	ListReceipts(ctx context.Context) ([]*ReceiptRow, error)

	// SearchReceipts retrieves receipts whose merchant name matches the query.
	SearchReceipts(ctx context.Context, query string) ([]*ReceiptRow, error)
}

// Repository is the BigQuery-backed ReceiptRepository. It holds a shared
// client to avoid creating a new connection for each operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	dataset   string
}

// NewRepository creates a Repository with a shared BigQuery client.
// credentialsFile may be empty to use Application Default Credentials.
func NewRepository(ctx context.Context, projectID, dataset, credentialsFile string) (*Repository, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, projectID: projectID, dataset: dataset}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// InsertReceipt inserts a single ReceiptRow via the streaming inserter.
func (r *Repository) InsertReceipt(ctx context.Context, row *ReceiptRow) error {
	inserter := r.client.Dataset(r.dataset).Table(receiptsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return &PersistenceError{Op: "InsertReceipt", Err: err}
	}
	return nil
}

// SaveExtraction writes the normalized receipt onto its record in one
// mutation and returns the owning user id.
func (r *Repository) SaveExtraction(ctx context.Context, receiptID string, rec *receipt.Receipt) (string, error) {
	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return "", &PersistenceError{Op: "SaveExtraction: encoding items", Err: err}
	}

	var txDate bigquery.NullDate
	if parsed, err := time.Parse("2006-01-02", rec.Transaction.Date); err == nil {
		txDate = bigquery.NullDate{Date: civil.DateOf(parsed), Valid: true}
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET status = @status,
		    processed_ts = @processed_ts,
		    display_name = @display_name,
		    summary = @summary,
		    merchant_name = @merchant_name,
		    merchant_address = @merchant_address,
		    merchant_contact = @merchant_contact,
		    transaction_date = @transaction_date,
		    receipt_number = @receipt_number,
		    payment_method = @payment_method,
		    subtotal = @subtotal,
		    tax = @tax,
		    total = @total,
		    currency = @currency,
		    item_count = @item_count,
		    items = PARSE_JSON(@items)
		WHERE receipt_id = @receipt_id
	`, r.projectID, r.dataset, receiptsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: StatusCompleted},
		{Name: "processed_ts", Value: time.Now()},
		{Name: "display_name", Value: rec.DisplayName()},
		{Name: "summary", Value: rec.Summary()},
		{Name: "merchant_name", Value: rec.Merchant.Name},
		{Name: "merchant_address", Value: rec.Merchant.Address},
		{Name: "merchant_contact", Value: rec.Merchant.Contact},
		{Name: "transaction_date", Value: txDate},
		{Name: "receipt_number", Value: rec.Transaction.ReceiptNumber},
		{Name: "payment_method", Value: rec.Transaction.PaymentMethod},
		{Name: "subtotal", Value: rec.Totals.Subtotal},
		{Name: "tax", Value: rec.Totals.Tax},
		{Name: "total", Value: rec.Totals.Total},
		{Name: "currency", Value: rec.Totals.Currency},
		{Name: "item_count", Value: len(rec.Items)},
		{Name: "items", Value: string(itemsJSON)},
		{Name: "receipt_id", Value: receiptID},
	}

	if err := r.runMutation(ctx, q); err != nil {
		return "", &PersistenceError{Op: "SaveExtraction", Err: err}
	}

	row, err := r.GetReceipt(ctx, receiptID)
	if err != nil {
		return "", &PersistenceError{Op: "SaveExtraction: reading owner", Err: err}
	}
	if row == nil {
		return "", &PersistenceError{Op: "SaveExtraction", Err: fmt.Errorf("receipt %s not found after update", receiptID)}
	}
	return row.UserID, nil
}

// MarkFailed sets status=FAILED on the receipt record.
func (r *Repository) MarkFailed(ctx context.Context, receiptID string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET status = @status,
		    processed_ts = @processed_ts
		WHERE receipt_id = @receipt_id
	`, r.projectID, r.dataset, receiptsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: StatusFailed},
		{Name: "processed_ts", Value: time.Now()},
		{Name: "receipt_id", Value: receiptID},
	}

	if err := r.runMutation(ctx, q); err != nil {
		return &PersistenceError{Op: "MarkFailed", Err: err}
	}
	return nil
}

// GetReceipt retrieves a single receipt by id. Returns nil when absent.
func (r *Repository) GetReceipt(ctx context.Context, receiptID string) (*ReceiptRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM `+"`%s.%s.%s`"+`
		WHERE receipt_id = @receipt_id
		LIMIT 1
	`, r.projectID, r.dataset, receiptsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "receipt_id", Value: receiptID},
	}

	rows, err := r.readRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetReceipt: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ListReceipts retrieves all receipts, newest uploads first.
func (r *Repository) ListReceipts(ctx context.Context) ([]*ReceiptRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM `+"`%s.%s.%s`"+`
		ORDER BY upload_ts DESC
	`, r.projectID, r.dataset, receiptsTable))

	rows, err := r.readRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListReceipts: %w", err)
	}
	return rows, nil
}

// SearchReceipts retrieves receipts whose merchant name contains the query,
// case-insensitively.
func (r *Repository) SearchReceipts(ctx context.Context, query string) ([]*ReceiptRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM `+"`%s.%s.%s`"+`
		WHERE LOWER(merchant_name) LIKE CONCAT('%%', LOWER(@q), '%%')
		ORDER BY upload_ts DESC
	`, r.projectID, r.dataset, receiptsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "q", Value: query},
	}

	rows, err := r.readRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SearchReceipts: %w", err)
	}
	return rows, nil
}

func (r *Repository) runMutation(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (r *Repository) readRows(ctx context.Context, q *bigquery.Query) ([]*ReceiptRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}

	var receipts []*ReceiptRow
	for {
		var row ReceiptRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating: %w", err)
		}
		receipts = append(receipts, &row)
	}
	return receipts, nil
}

var _ ReceiptRepository = (*Repository)(nil)
