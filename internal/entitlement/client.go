package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// FeatureScan is the usage event reported after each successful extraction.
const FeatureScan = "scan"

// Client reports feature usage to the entitlement service. Calls are
// best-effort: the pipeline logs failures and never rolls back a committed
// write because of them.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New creates an entitlement client. An empty baseURL disables reporting.
func New(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type usageEvent struct {
	UserID     string    `json:"user_id"`
	Feature    string    `json:"feature"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TrackUsage reports one usage event for the given user.
func (c *Client) TrackUsage(ctx context.Context, userID, feature string) error {
	if c.baseURL == "" {
		c.log.Debug().Str("user_id", userID).Str("feature", feature).Msg("Entitlement service not configured, skipping usage report")
		return nil
	}

	body, err := json.Marshal(usageEvent{
		UserID:     userID,
		Feature:    feature,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("entitlement: encoding usage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/usage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("entitlement: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("entitlement: posting usage event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("entitlement: usage event rejected with status %d", resp.StatusCode)
	}
	return nil
}
