package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingAPIKey is returned when no Gemini API key is configured.
// Extraction cannot run without a credential, so this is raised at startup
// before any network call.
var ErrMissingAPIKey = errors.New("config: parser API key is not set (RECEIPTS_PARSER_API_KEY or GEMINI_API_KEY)")

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	BigQuery    BigQueryConfig    `mapstructure:"bigquery"`
	Parser      ParserConfig      `mapstructure:"parser"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig holds GCS settings for uploaded receipts.
type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// BigQueryConfig holds the dataset where receipts are persisted.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Dataset         string `mapstructure:"dataset"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ParserConfig holds Gemini extraction settings.
type ParserConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// Probe enables the best-effort connectivity check before extraction.
	Probe bool `mapstructure:"probe"`
}

// QueueConfig holds extraction queue settings.
type QueueConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
}

// EntitlementConfig holds the usage-tracking service settings.
type EntitlementConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AuthConfig holds the bearer token accepted by the API.
// Empty token disables authentication (local development only).
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// Load reads configuration from an optional config.yaml and environment
// variables with the RECEIPTS_ prefix. Environment variables win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECEIPTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/receipt-tracker")

	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	// Storage defaults
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.credentials_file", "")

	// BigQuery defaults
	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "receipts")
	v.SetDefault("bigquery.credentials_file", "")

	// Parser defaults
	v.SetDefault("parser.api_key", "")
	v.SetDefault("parser.model", "gemini-2.5-flash")
	v.SetDefault("parser.probe", true)

	// Queue defaults
	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.max_retries", 3)

	// Entitlement defaults
	v.SetDefault("entitlement.base_url", "")
	v.SetDefault("entitlement.api_key", "")

	// Auth defaults
	v.SetDefault("auth.token", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Parser.APIKey == "" {
		// The genai SDK also honors GEMINI_API_KEY directly. The variable has
		// no RECEIPTS_ prefix, so it is read from the process environment
		// rather than through viper's prefixed lookup.
		cfg.Parser.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	return &cfg, nil
}

// ValidateParser checks that extraction can run with this configuration.
func (c *Config) ValidateParser() error {
	if c.Parser.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}
