package entitlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackUsage(t *testing.T) {
	var got usageEvent
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/usage", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", zerolog.Nop())
	err := c.TrackUsage(context.Background(), "user-1", FeatureScan)

	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, FeatureScan, got.Feature)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestTrackUsage_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	err := c.TrackUsage(context.Background(), "user-1", FeatureScan)

	assert.Error(t, err)
}

func TestTrackUsage_Unconfigured(t *testing.T) {
	c := New("", "", zerolog.Nop())
	assert.NoError(t, c.TrackUsage(context.Background(), "user-1", FeatureScan))
}
