// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (FOLIO_ prefix, runtime override)
//  2. Config file (~/.folio/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model
//   - Storage: PostgreSQL connection (see storage.go)
//   - Chat: history window, retrieval depth, session expiry
//   - Server: listen address, rate limiting
//
// Sensitive data (passwords) are never logged. Validation lives in
// validation.go with sentinel errors checked via errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration problems.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidHistoryLimit indicates the history window is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidRetrievalTopK indicates the retrieval depth is out of range.
	ErrInvalidRetrievalTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidSessionTTL indicates the session expiry window is invalid.
	ErrInvalidSessionTTL = errors.New("invalid session ttl")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	// DefaultModelName is the default chat model.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedder model.
	// text-embedding-004 outputs 768 dimensions, matching the pgvector
	// schema; see docindex.VectorDimension.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultHistoryLimit is the number of prior turns included in the
	// prompt. Older turns remain stored but are dropped from the window.
	DefaultHistoryLimit = 12

	// MaxHistoryLimit bounds the history window to keep prompts small.
	MaxHistoryLimit = 100

	// DefaultRetrievalTopK is the number of document chunks retrieved per
	// message for grounding context.
	DefaultRetrievalTopK = 3

	// MaxRetrievalTopK bounds retrieval depth.
	MaxRetrievalTopK = 10

	// DefaultSessionTTL is the sliding expiry window for chat sessions.
	// Extended on every successful exchange.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultReapInterval is how often expired sessions are reclaimed.
	DefaultReapInterval = 10 * time.Minute

	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = "127.0.0.1:3500"
)

// DatadogConfig configures OTLP trace export to a local Datadog Agent.
type DatadogConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // e.g. "text-embedding-004"
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`       // only used when provider is "ollama"

	// Persona configuration
	PersonaPath string `mapstructure:"persona_path" json:"persona_path"` // path to the persona instruction file

	// Chat configuration
	HistoryLimit  int           `mapstructure:"history_limit" json:"history_limit"`
	RetrievalTopK int           `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
	ReapInterval  time.Duration `mapstructure:"reap_interval" json:"reap_interval"`

	// Server configuration
	Addr      string  `mapstructure:"addr" json:"addr"`
	RateRPS   float64 `mapstructure:"rate_rps" json:"rate_rps"`     // sustained chat requests per second
	RateBurst int     `mapstructure:"rate_burst" json:"rate_burst"` // burst allowance

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE: never serialized
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Observability configuration
	Datadog DatadogConfig `mapstructure:"datadog" json:"datadog"`
}

// configDirName is the directory under the user home holding config.yaml.
const configDirName = ".folio"

// Load reads configuration from defaults, the optional config file, and the
// environment (FOLIO_ prefix). DATABASE_URL, when set, overrides the
// individual postgres_* settings.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, configDirName))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing config file is fine: defaults + env take over.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("persona_path", "persona.md")
	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("reap_interval", DefaultReapInterval)
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("rate_rps", 5.0)
	v.SetDefault("rate_burst", 10)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "folio")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "folio")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.agent_host", "localhost:4318")
	v.SetDefault("datadog.service_name", "folio")
	v.SetDefault("datadog.environment", "dev")
}
