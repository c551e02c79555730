package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/akovalyov/receipt-tracker/internal/retry"
)

// DefaultTimeout bounds each download attempt. The in-flight request is
// canceled when it elapses; the backoff schedule between attempts is not
// counted against it.
const DefaultTimeout = 30 * time.Second

// pdfSignature is the expected magic prefix of a PDF file.
var pdfSignature = []byte("%PDF-")

// ErrEmptyDocument is returned when the fetched document has zero bytes.
var ErrEmptyDocument = errors.New("fetch: document is empty")

// Error describes a failed document download.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher downloads receipt documents from HTTP(S) URLs or gs:// URIs.
type Fetcher struct {
	Timeout time.Duration

	client     *http.Client
	exec       *retry.Executor
	gcsOptions []option.ClientOption
	log        zerolog.Logger
}

// New creates a Fetcher. credentialsFile may be empty, in which case gs://
// URIs are resolved with Application Default Credentials.
func New(log zerolog.Logger, credentialsFile string) *Fetcher {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return &Fetcher{
		Timeout:    DefaultTimeout,
		client:     &http.Client{},
		exec:       retry.New(log),
		gcsOptions: opts,
		log:        log,
	}
}

// Fetch retrieves the document bytes at url. The GET is wrapped by the
// backoff executor; each attempt is bounded by Timeout. A successful fetch
// with zero bytes fails with ErrEmptyDocument. A missing PDF signature is
// logged but does not abort processing.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	var err error
	if strings.HasPrefix(url, "gs://") {
		data, err = f.fetchGCS(ctx, url)
	} else {
		data, err = f.fetchHTTP(ctx, url)
	}
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	if !bytes.HasPrefix(data, pdfSignature) {
		f.log.Warn().Str("url", url).Msg("Document does not look like a PDF, processing anyway")
	}

	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	err := f.exec.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, f.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &Error{URL: url, Err: err}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return &Error{URL: url, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &Error{URL: url, StatusCode: resp.StatusCode}
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return &Error{URL: url, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// fetchGCS resolves a gs://bucket/object URI through the storage client.
func (f *Fetcher) fetchGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return nil, &Error{URL: gcsURI, Err: errors.New("invalid GCS URI (no object path)")}
	}
	bucketName, objectPath := parts[0], parts[1]

	var data []byte
	err := f.exec.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, f.Timeout)
		defer cancel()

		client, err := storage.NewClient(ctx, f.gcsOptions...)
		if err != nil {
			return &Error{URL: gcsURI, Err: fmt.Errorf("creating storage client: %w", err)}
		}
		defer client.Close()

		rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
		if err != nil {
			return &Error{URL: gcsURI, Err: fmt.Errorf("reading object %s/%s: %w", bucketName, objectPath, err)}
		}
		defer rc.Close()

		data, err = io.ReadAll(rc)
		if err != nil {
			return &Error{URL: gcsURI, Err: fmt.Errorf("reading bytes: %w", err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}
