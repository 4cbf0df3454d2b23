// Package embed wraps the configured Genkit embedder behind a small
// provider type that enforces the index dimension and a per-call timeout.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmptyEmbedding indicates the provider returned no vector for the input.
var ErrEmptyEmbedding = errors.New("provider returned empty embedding")

// TimeoutError reports an embedding call that exceeded its deadline. It is
// a distinct type so callers can treat slow embedding as a degraded
// upstream rather than a generic failure.
type TimeoutError struct {
	Model   string
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("embedding with %s timed out after %v: %v", e.Model, e.Elapsed, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Provider generates embeddings with a fixed model and dimension.
// It is safe for concurrent use.
type Provider struct {
	embedder ai.Embedder
	model    string
	dim      int
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Provider. model is the embedder model identifier recorded
// in the index metadata; dim is the expected vector dimension.
func New(embedder ai.Embedder, model string, dim int, timeout time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		embedder: embedder,
		model:    model,
		dim:      dim,
		timeout:  timeout,
		logger:   logger,
	}
}

// Model returns the embedder model identifier.
func (p *Provider) Model() string { return p.model }

// Dimension returns the vector dimension this provider produces.
func (p *Provider) Dimension() int { return p.dim }

// Embed returns the embedding vector for text. The call is bounded by the
// configured timeout; on deadline it returns a *TimeoutError.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Model: p.model, Elapsed: time.Since(start), Err: err}
		}
		return nil, fmt.Errorf("generating embedding with %s: %w", p.model, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != p.dim {
		return nil, fmt.Errorf("embedder %s returned dimension %d, expected %d", p.model, len(vec), p.dim)
	}

	p.logger.Debug("generated embedding",
		"model", p.model,
		"input_length", len(text),
		"elapsed", time.Since(start),
	)
	return vec, nil
}
