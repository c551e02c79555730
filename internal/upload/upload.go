// Package upload pushes local receipt files into the GCS bucket the
// extraction pipeline reads from.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const uploadTimeout = 2 * time.Minute

// ObjectName builds the bucket object name for a local file, namespaced by
// upload date so repeated filenames never collide.
func ObjectName(filePath string, now time.Time) string {
	return fmt.Sprintf("receipts/%s/%s-%s", now.Format("2006/01/02"), uuid.New().String(), filepath.Base(filePath))
}

// File uploads a local file to the bucket under the given object name and
// returns its gs:// URI. An empty credentialsFile falls back to Application
// Default Credentials.
func File(ctx context.Context, credentialsFile, bucket, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("File: opening %q: %w", filePath, err)
	}
	defer f.Close()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("File: creating storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("File: copying to bucket writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("File: finalizing upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}
