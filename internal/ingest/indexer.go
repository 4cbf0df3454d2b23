// Package ingest builds the vector index from the documentation corpus:
// load, chunk, embed, and atomically publish.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/refdesk/refdesk/internal/corpus"
	"github.com/refdesk/refdesk/internal/index"
)

// Embedder generates chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Rebuilder atomically replaces the index contents.
type Rebuilder interface {
	Rebuild(ctx context.Context, embedderModel string, fill func(ctx context.Context, st *index.Staging) error) error
}

// Result summarizes a completed rebuild.
type Result struct {
	Documents int
	Chunks    int
	Duration  time.Duration
}

// Indexer rebuilds the index from a corpus directory.
type Indexer struct {
	chunker  *corpus.Chunker
	embedder Embedder
	store    Rebuilder
	logger   *slog.Logger
}

// New creates an Indexer.
func New(chunker *corpus.Chunker, embedder Embedder, store Rebuilder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Rebuild loads every document under dir, chunks and embeds them, and
// swaps the result in as the live index. Any failure aborts the whole
// rebuild and leaves the previous index untouched; the error names the
// document that failed.
func (ix *Indexer) Rebuild(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()

	docs, err := corpus.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	var chunkCount int
	err = ix.store.Rebuild(ctx, ix.embedder.Model(), func(ctx context.Context, st *index.Staging) error {
		for _, doc := range docs {
			n, err := ix.indexDocument(ctx, st, doc)
			if err != nil {
				return fmt.Errorf("indexing document %q: %w", doc.ID, err)
			}
			chunkCount += n
			ix.logger.Debug("indexed document", "id", doc.ID, "chunks", n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Documents: len(docs),
		Chunks:    chunkCount,
		Duration:  time.Since(start),
	}
	ix.logger.Info("corpus indexed",
		"documents", res.Documents,
		"chunks", res.Chunks,
		"duration", res.Duration,
	)
	return res, nil
}

func (ix *Indexer) indexDocument(ctx context.Context, st *index.Staging, doc corpus.Document) (int, error) {
	chunks, err := ix.chunker.Chunk(doc)
	if err != nil {
		return 0, err
	}

	for _, c := range chunks {
		vec, err := ix.embedder.Embed(ctx, c.Text)
		if err != nil {
			return 0, fmt.Errorf("embedding chunk %q: %w", c.ID, err)
		}
		meta := index.Metadata{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Category:   doc.Category,
			Source:     doc.Source,
			Position:   c.Position,
		}
		if err := st.Add(ctx, c.ID, vec, c.Text, meta); err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}
