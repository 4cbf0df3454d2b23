// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (REFDESK_ prefix, runtime override)
//  2. Config file (~/.refdesk/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider selection, model, embedder, temperature, max tokens
//   - Storage: PostgreSQL connection for the vector index
//   - RAG: chunking, retrieval and context-budget tuning
//   - Corpus: location of the markdown reference documents
//
// Sensitive fields (the Postgres password) are masked in MarshalJSON and
// must never be logged. Validation lives in validation.go and uses
// sentinel errors so callers can match with errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.Provider.
// Each provider declares its own default model and embedder in defaults().
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`       // "gemini" (default), "openai", "ollama"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`   // empty = provider default
	Temperature float64 `mapstructure:"temperature" json:"temperature"` // 0.0-2.0
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`   // generation output cap
	OllamaHost  string  `mapstructure:"ollama_host" json:"ollama_host"` // only used when provider is "ollama"

	// Embedding configuration. EmbedderDimension must match the dimension
	// the index was built with; a mismatch is a configuration error, not a
	// runtime condition to paper over.
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Retrieval tuning. TopK and RelevanceFloor are deliberately plain
	// configuration: the ordering and floor contracts hold for any values.
	TopK            int     `mapstructure:"top_k" json:"top_k"`
	RelevanceFloor  float64 `mapstructure:"relevance_floor" json:"relevance_floor"`
	MaxContextToken int     `mapstructure:"max_context_tokens" json:"max_context_tokens"`
	HistoryTurns    int     `mapstructure:"history_turns" json:"history_turns"`

	// Chunking (used by the rebuild command only)
	ChunkSize    int     `mapstructure:"chunk_size" json:"chunk_size"`       // target chunk length in runes
	ChunkOverlap float64 `mapstructure:"chunk_overlap" json:"chunk_overlap"` // overlap fraction, e.g. 0.15

	// Corpus location (markdown files with front-matter)
	CorpusDir string `mapstructure:"corpus_dir" json:"corpus_dir"`

	// Upstream call timeouts. Embedding and generation carry independent
	// timeouts; exceeding either degrades the request instead of hanging.
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`

	// Retry policy for rate-limited provider calls
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// providerDefaults maps each provider to its default chat model and
// embedder, mirroring the upstream SDK defaults.
var providerDefaults = map[string]struct {
	Model    string
	Embedder string
	Dim      int
}{
	ProviderGemini: {Model: "gemini-2.0-flash", Embedder: "text-embedding-004", Dim: 768},
	ProviderOpenAI: {Model: "gpt-4o-mini", Embedder: "text-embedding-3-small", Dim: 1536},
	ProviderOllama: {Model: "llama3.3", Embedder: "nomic-embed-text", Dim: 768},
}

// Load reads configuration from file and environment.
// Environment variables use the REFDESK_ prefix, e.g. REFDESK_PROVIDER.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".refdesk"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env are enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyProviderDefaults fills model/embedder fields left empty with the
// selected provider's defaults.
func (c *Config) applyProviderDefaults() {
	d, ok := providerDefaults[c.Provider]
	if !ok {
		return // Validate rejects unknown providers
	}
	if c.ModelName == "" {
		c.ModelName = d.Model
	}
	if c.EmbedderModel == "" {
		c.EmbedderModel = d.Embedder
	}
	if c.EmbedderDimension == 0 {
		c.EmbedderDimension = d.Dim
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("temperature", 0.1)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("top_k", 4)
	v.SetDefault("relevance_floor", 0.3)
	v.SetDefault("max_context_tokens", 4000)
	v.SetDefault("history_turns", 5)

	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 0.15)
	v.SetDefault("corpus_dir", "corpus")

	v.SetDefault("embed_timeout", 15*time.Second)
	v.SetDefault("generate_timeout", 60*time.Second)
	v.SetDefault("max_retries", 2)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "refdesk")
	v.SetDefault("postgres_db_name", "refdesk")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// PostgresURL returns the postgres:// connection URL used by migrations
// and the pgx pool. The password is URL-escaped.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "********"
	}
	return json.Marshal(masked)
}
