// Package retrieval turns a user question into the ranked set of corpus
// chunks that ground the answer.
//
// Follow-up questions are condensed with the recent conversation before
// embedding: the previous user questions are prepended so a bare "what
// about refunds?" still lands near the right documents. Condensation is
// deterministic text assembly, not an LLM call.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/refdesk/refdesk/internal/index"
	"github.com/refdesk/refdesk/internal/session"
)

// Embedder generates the query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers nearest-neighbor queries against the index.
type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Entry, error)
}

// Config bounds a retrieval pass.
type Config struct {
	TopK           int     // maximum results returned
	RelevanceFloor float64 // results scoring below this are dropped
	HistoryTurns   int     // past questions folded into the query
}

// Retriever embeds questions and searches the index. Safe for concurrent
// use; it holds no per-query state.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns at most TopK chunks relevant to question, highest score
// first, with everything below the relevance floor removed. history may be
// nil for a fresh conversation. An empty result is a valid outcome, not an
// error: it means the corpus has nothing relevant and the caller must not
// fabricate an answer.
func (r *Retriever) Retrieve(ctx context.Context, question string, history []session.Turn) ([]index.Entry, error) {
	query := condense(question, history, r.cfg.HistoryTurns)

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch slightly so floor filtering does not starve the result
	// set when borderline chunks sit just above the cutoff.
	entries, err := r.searcher.Query(ctx, vec, r.cfg.TopK*2)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.Score >= r.cfg.RelevanceFloor {
			kept = append(kept, e)
		}
	}
	if len(kept) > r.cfg.TopK {
		kept = kept[:r.cfg.TopK]
	}

	r.logger.Debug("retrieved chunks",
		"question_length", len(question),
		"candidates", len(entries),
		"kept", len(kept),
	)
	return kept, nil
}

// condense folds up to n recent user questions into the query text so the
// embedding carries conversational context. The current question comes
// last and dominates.
func condense(question string, history []session.Turn, n int) string {
	if len(history) == 0 || n <= 0 {
		return question
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	var b strings.Builder
	for _, t := range history {
		if t.Question == "" {
			continue
		}
		b.WriteString(t.Question)
		b.WriteString("\n")
	}
	b.WriteString(question)
	return b.String()
}
