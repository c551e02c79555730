package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECEIPTS_PARSER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "receipts", cfg.BigQuery.Dataset)
	assert.Equal(t, "gemini-2.5-flash", cfg.Parser.Model)
	assert.Equal(t, 100, cfg.Queue.BufferSize)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
}

func TestLoadPrefixedEnvOverride(t *testing.T) {
	t.Setenv("RECEIPTS_PARSER_API_KEY", "prefixed-key")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prefixed-key", cfg.Parser.APIKey)
	assert.NoError(t, cfg.ValidateParser())
}

func TestLoadPlainGeminiKeyFallback(t *testing.T) {
	t.Setenv("RECEIPTS_PARSER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "plain-env-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "plain-env-key", cfg.Parser.APIKey)
	assert.NoError(t, cfg.ValidateParser())
}

func TestLoadPrefixedKeyWinsOverFallback(t *testing.T) {
	t.Setenv("RECEIPTS_PARSER_API_KEY", "prefixed-key")
	t.Setenv("GEMINI_API_KEY", "plain-env-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prefixed-key", cfg.Parser.APIKey)
}

func TestValidateParserMissingKey(t *testing.T) {
	t.Setenv("RECEIPTS_PARSER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.ErrorIs(t, cfg.ValidateParser(), ErrMissingAPIKey)
}
