package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration validation.
// Wrap with fmt.Errorf("%w: details", ErrXxx) so callers can errors.Is.
var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is not positive.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidRelevanceFloor indicates the relevance floor is outside [0, 1).
	ErrInvalidRelevanceFloor = errors.New("invalid relevance_floor")

	// ErrInvalidChunking indicates chunk size/overlap settings are unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidPostgres indicates the PostgreSQL settings are unusable.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// validSSLModes are the libpq sslmode values we accept.
var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// Validate checks the configuration for internally consistent, in-range
// values. It returns the first violation found, wrapped around the
// matching sentinel error.
func (c *Config) Validate() error {
	if _, ok := providerDefaults[c.Provider]; !ok {
		return fmt.Errorf("%w: %q (choose one of: gemini, openai, ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %.2f (must be in [0, 2])", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.EmbedderDimension < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: %d (must be in [1, 50])", ErrInvalidTopK, c.TopK)
	}

	if c.RelevanceFloor < 0 || c.RelevanceFloor >= 1 {
		return fmt.Errorf("%w: %.2f (must be in [0, 1))", ErrInvalidRelevanceFloor, c.RelevanceFloor)
	}

	if c.ChunkSize < 100 {
		return fmt.Errorf("%w: chunk_size %d (must be >= 100)", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= 0.5 {
		return fmt.Errorf("%w: chunk_overlap %.2f (must be in [0, 0.5))", ErrInvalidChunking, c.ChunkOverlap)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgres)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}
