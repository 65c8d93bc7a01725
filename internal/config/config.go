// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kosmos/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: generation model, embedder model, temperature, max output tokens
//   - Storage: PostgreSQL + pgvector connection (see storage.go)
//   - Pipeline: retrieval top-k, similarity floor, context and history budgets
//   - Resilience: outbound rate limit, retry attempts, per-call timeouts
//
// Security: sensitive values (password, API key) are masked in MarshalJSON/String.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kosmos-bio/kosmos/internal/rag"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation
	// Learning). The pgvector schema uses 768 dimensions; see vector.Dimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultContextBudgetTokens bounds the assembled retrieval context.
	DefaultContextBudgetTokens = 6000

	// DefaultHistoryBudgetTokens bounds conversation history sent to the model.
	DefaultHistoryBudgetTokens = 2000
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Retrieval pipeline configuration
	TopK                int     `mapstructure:"top_k" json:"top_k"`
	MinScore            float32 `mapstructure:"min_score" json:"min_score"`
	ContextBudgetTokens int     `mapstructure:"context_budget_tokens" json:"context_budget_tokens"`
	HistoryBudgetTokens int     `mapstructure:"history_budget_tokens" json:"history_budget_tokens"`

	// Resilience configuration for outbound AI calls
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	RateWaitTimeout time.Duration `mapstructure:"rate_wait_timeout" json:"rate_wait_timeout"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`

	// Per-external-call timeouts, one budget per dependency
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" json:"query_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`
	RequestDeadline time.Duration `mapstructure:"request_deadline" json:"request_deadline"`

	// Storage configuration (see storage.go for helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP serve configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurstIP int      `mapstructure:"rate_burst_ip" json:"rate_burst_ip"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kosmos")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 8192)

	// Pipeline defaults
	v.SetDefault("top_k", rag.DefaultTopK)
	v.SetDefault("min_score", 0.0)
	v.SetDefault("context_budget_tokens", DefaultContextBudgetTokens)
	v.SetDefault("history_budget_tokens", DefaultHistoryBudgetTokens)

	// Resilience defaults: 1 outbound AI call/sec sustained, burst 4
	v.SetDefault("rate_limit_rps", 1.0)
	v.SetDefault("rate_limit_burst", 4)
	v.SetDefault("rate_wait_timeout", 15*time.Second)
	v.SetDefault("max_retries", 3)

	// Timeout defaults
	v.SetDefault("embed_timeout", 10*time.Second)
	v.SetDefault("query_timeout", 10*time.Second)
	v.SetDefault("generate_timeout", 60*time.Second)
	v.SetDefault("request_deadline", 2*time.Minute)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kosmos")
	v.SetDefault("postgres_password", "kosmos_dev_password")
	v.SetDefault("postgres_db_name", "kosmos")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Serve defaults
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst_ip", 60)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "KOSMOS_MODEL_NAME")
	mustBind("embedder_model", "KOSMOS_EMBEDDER_MODEL")
	mustBind("top_k", "KOSMOS_TOP_K")
	mustBind("context_budget_tokens", "KOSMOS_CONTEXT_BUDGET")
	mustBind("rate_limit_rps", "KOSMOS_RATE_LIMIT_RPS")
	mustBind("cors_origins", "KOSMOS_CORS_ORIGINS")
	mustBind("trust_proxy", "KOSMOS_TRUST_PROXY")
	mustBind("rate_burst_ip", "KOSMOS_RATE_BURST")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer secrets show the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash". Names already containing "/" are
// returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}
