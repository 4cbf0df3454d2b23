// Package index implements the vector index on PostgreSQL + pgvector.
//
// The index stores (chunk id, embedding, content, metadata) rows and
// answers nearest-neighbor queries by cosine distance. For a corpus of
// this scale (tens of documents, thousands of chunks) the sequential scan
// pgvector performs without an ANN index is exact and fast enough; an
// ivfflat/HNSW index would be an optimization, not a correctness change.
//
// Scores are normalized to [0, 1]: score = max(0, 1 - cosine distance),
// which is cosine similarity with anticorrelation clamped to zero. The
// relevance floor therefore reads directly as a similarity threshold.
// Ties are broken by insertion order via the seq column, which is
// assigned once on first insert and never rewritten by upserts.
//
// The index is read-only at query time and safe to share across sessions.
// Full corpus replacement goes through Rebuild, which stages rows in a
// side table and publishes them with a transactional swap so in-flight
// queries never observe a partially rebuilt index.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// queryTimeout bounds a single vector search so a slow scan cannot block
// the request pipeline indefinitely.
const queryTimeout = 10 * time.Second

// ErrModelMismatch indicates the index was built with a different embedder
// model than the one configured. Querying across embedding spaces is a
// configuration error, never silently tolerated.
var ErrModelMismatch = errors.New("index built with a different embedder model")

// DimensionMismatchError reports a vector whose dimension does not match
// the index configuration.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match index dimension %d", e.Got, e.Want)
}

// Metadata is the per-chunk metadata stored alongside the embedding and
// surfaced in citations.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Source     string `json:"source"`
	Position   int    `json:"position"`
}

// Entry is a single nearest-neighbor query result.
type Entry struct {
	ChunkID  string
	Content  string
	Metadata Metadata
	Score    float64 // normalized similarity in [0, 1], highest first
}

// Store manages the chunks table. It is safe for concurrent use; all
// mutation goes through Upsert/Delete/Rebuild, queries are read-only.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger
}

// New creates a Store for an index of the given embedding dimension.
func New(pool *pgxpool.Pool, dim int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, dim: dim, logger: logger}
}

// EnsureVersion verifies the index metadata matches the configured
// embedder model. An empty index (no metadata row) passes; the row is
// written by Rebuild.
func (s *Store) EnsureVersion(ctx context.Context, embedderModel string) error {
	var stored string
	err := s.pool.QueryRow(ctx, `SELECT embedder_model FROM index_meta`).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index metadata: %w", err)
	}

	if stored != embedderModel {
		return fmt.Errorf("%w: index has %q, configured %q", ErrModelMismatch, stored, embedderModel)
	}
	return nil
}

// Upsert inserts or replaces the row for a chunk id. Re-upserting the same
// id with the same vector is an observable no-op: seq is assigned on first
// insert only, so query ordering and tie-breaking are unchanged.
func (s *Store) Upsert(ctx context.Context, chunkID string, vec []float32, content string, meta Metadata) error {
	if len(vec) != s.dim {
		return &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	embedding := pgvector.NewVector(vec)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chunks (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`,
		chunkID, content, embedding, metaJSON)
	if err != nil {
		return fmt.Errorf("upserting chunk %q: %w", chunkID, err)
	}

	s.logger.Debug("upserted chunk", "id", chunkID, "content_length", len(content))
	return nil
}

// Query returns the k nearest stored vectors by cosine distance, each with
// a normalized similarity score, highest first. An empty index yields an
// empty result, not an error.
func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]Entry, error) {
	if len(vec) != s.dim {
		return nil, &DimensionMismatchError{Want: s.dim, Got: len(vec)}
	}
	if k <= 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	embedding := pgvector.NewVector(vec)
	rows, err := s.pool.Query(queryCtx, `
		SELECT id, content, metadata, GREATEST(0, 1 - (embedding <=> $1)) AS score
		FROM chunks
		ORDER BY embedding <=> $1, seq
		LIMIT $2`,
		embedding, k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON []byte
		if err := rows.Scan(&e.ChunkID, &e.Content, &metaJSON, &e.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "chunk_id", e.ChunkID, "error", err)
		}
		e.Score = clamp01(e.Score)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	return entries, nil
}

// Delete removes a chunk by id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, chunkID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, chunkID); err != nil {
		return fmt.Errorf("deleting chunk %q: %w", chunkID, err)
	}
	s.logger.Debug("deleted chunk", "id", chunkID)
	return nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(count), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
