package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/akovalyov/receipt-tracker/internal/retry"
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	// probeTimeout bounds the best-effort connectivity probe.
	probeTimeout = 10 * time.Second

	// probeRateLimitDelay is the fixed extra wait inserted when the probe
	// itself reports rate limiting.
	probeRateLimitDelay = 15 * time.Second
)

// Client extracts structured receipt data from PDF bytes via Gemini.
type Client struct {
	apiKey string
	model  string
	probe  bool

	exec *retry.Executor
	log  zerolog.Logger

	// generate issues one GenerateContent call. Injectable for tests.
	generate func(ctx context.Context, pdf []byte) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithProbe enables the best-effort connectivity probe before extraction.
func WithProbe(enabled bool) Option {
	return func(c *Client) { c.probe = enabled }
}

// WithGenerateFunc replaces the model transport (for testing).
func WithGenerateFunc(fn func(ctx context.Context, pdf []byte) (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.generate = fn
		}
	}
}

// NewClient creates an extraction client. Fails with ErrMissingAPIKey when no
// credential is supplied; no network call is made here.
func NewClient(apiKey string, log zerolog.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		apiKey: apiKey,
		model:  DefaultModel,
		exec:   retry.New(log),
		log:    log,
	}
	c.generate = c.generateContent

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Extract sends the document to the model and returns the decoded JSON value
// of its response. Exactly one logical request is issued, wrapped by the
// backoff executor. Provider failures come back as *ExtractionError,
// syntactically invalid output as *ParseError.
func (c *Client) Extract(ctx context.Context, pdf []byte) (any, error) {
	if c.probe {
		c.probeConnectivity(ctx)
	}

	var parsed any
	err := c.exec.Do(ctx, func(ctx context.Context) error {
		text, err := c.generate(ctx, pdf)
		if err != nil {
			return &ExtractionError{Reason: classify(err), Err: err}
		}

		clean := cleanModelJSON(text)
		if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
			return &ParseError{Raw: text, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

// probeConnectivity issues a tiny text-only request to check the provider is
// reachable. Failures are logged only; a rate-limited probe inserts one fixed
// extra delay before the real call.
func (c *Client) probeConnectivity(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := genai.NewClient(probeCtx, &genai.ClientConfig{
		APIKey:      c.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Connectivity probe could not create client")
		return
	}

	_, err = client.Models.GenerateContent(probeCtx, c.model, genai.Text("ping"), nil)
	if err == nil {
		return
	}

	c.log.Warn().Err(err).Msg("Connectivity probe failed")
	if retry.IsRateLimited(err) {
		c.log.Warn().Dur("delay", probeRateLimitDelay).Msg("Probe reports rate limiting, backing off before extraction")
		if sleepErr := c.exec.Sleep(ctx, probeRateLimitDelay); sleepErr != nil && !errors.Is(sleepErr, context.Canceled) {
			c.log.Warn().Err(sleepErr).Msg("Probe backoff interrupted")
		}
	}
}

// generateContent performs the real Gemini call with the inline PDF blob and
// the fixed extraction prompt.
func (c *Client) generateContent(ctx context.Context, pdf []byte) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      c.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: receiptPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdf,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
