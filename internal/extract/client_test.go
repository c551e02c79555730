package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, generate func(ctx context.Context, pdf []byte) (string, error)) *Client {
	t.Helper()
	c, err := NewClient("test-key", zerolog.Nop())
	require.NoError(t, err)
	c.exec.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c.generate = generate
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("", zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestExtract_Success(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, pdf []byte) (string, error) {
		return `{"merchant":{"name":"Acme"},"totals":{"total":12.5}}`, nil
	})

	parsed, err := c.Extract(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)

	root, ok := parsed.(map[string]any)
	require.True(t, ok)
	merchant := root["merchant"].(map[string]any)
	assert.Equal(t, "Acme", merchant["name"])
}

func TestExtract_StripsCodeFences(t *testing.T) {
	c := newTestClient(t, func(ctx context.Context, pdf []byte) (string, error) {
		return "```json\n{\"merchant\":{\"name\":\"Acme\"}}\n```", nil
	})

	parsed, err := c.Extract(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)
	root := parsed.(map[string]any)
	assert.Contains(t, root, "merchant")
}

func TestExtract_ParseError(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(ctx context.Context, pdf []byte) (string, error) {
		calls++
		return "I could not read this receipt, sorry!", nil
	})

	_, err := c.Extract(context.Background(), []byte("%PDF-"))

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	// Malformed output is retried locally; a repeated call may yield valid JSON.
	assert.Equal(t, 5, calls)
}

func TestExtract_ProviderErrorClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"unauthorized", errors.New("googleapi: Error 401: unauthorized"), ReasonUnauthorized},
		{"forbidden", errors.New("googleapi: Error 403: permission denied"), ReasonForbidden},
		{"rate limited", errors.New("googleapi: Error 429: quota exceeded"), ReasonRateLimited},
		{"network", errors.New("dial tcp: connection refused"), ReasonNetwork},
		{"unknown", errors.New("something odd happened"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(ctx context.Context, pdf []byte) (string, error) {
				return "", tt.err
			})

			_, err := c.Extract(context.Background(), nil)

			var ee *ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.want, ee.Reason)
		})
	}
}

func TestExtract_TransientFailureRecovered(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(ctx context.Context, pdf []byte) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("rate limit exceeded")
		}
		return `{"items":[]}`, nil
	})

	parsed, err := c.Extract(context.Background(), []byte("%PDF-"))
	require.NoError(t, err)
	assert.NotNil(t, parsed)
	assert.Equal(t, 3, calls)
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", "Here is the JSON:\n{\"a\":1}", `{"a":1}`},
		{"trailing prose", "{\"a\":1}\nHope that helps!", `{"a":1}`},
		{"whitespace", "  \n {\"a\":1} \n ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}
