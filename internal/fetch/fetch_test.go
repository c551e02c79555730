package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastFetcher returns a fetcher whose retry sleeps are skipped.
func fastFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := New(zerolog.Nop(), "")
	f.exec.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 fake receipt content"))
	}))
	defer srv.Close()

	f := fastFetcher(t)
	data, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Contains(t, string(data), "fake receipt content")
}

func TestFetch_EmptyDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := fastFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestFetch_NonPDFSignatureNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely-not-a-pdf"))
	}))
	defer srv.Close()

	f := fastFetcher(t)
	data, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFetch_ServerErrorRetriedThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := fastFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, int32(5), calls.Load())
}

func TestFetch_TransientFailureRecovered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7 recovered"))
	}))
	defer srv.Close()

	f := fastFetcher(t)
	data, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Contains(t, string(data), "recovered")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_TimeoutCancelsRequest(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := fastFetcher(t)
	f.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	var fe *Error
	assert.ErrorAs(t, err, &fe)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetch_CallerDeadlineDuringBackoffKeepsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Real sleeps: the first backoff wait outlives the caller's deadline.
	f := New(zerolog.Nop(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL)

	require.Error(t, err)
	var fe *Error
	assert.ErrorAs(t, err, &fe, "the download failure should not be replaced by the context error")
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_InvalidGCSURI(t *testing.T) {
	f := fastFetcher(t)
	_, err := f.Fetch(context.Background(), "gs://bucket-only")

	var fe *Error
	require.ErrorAs(t, err, &fe)
}
