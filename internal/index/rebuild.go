package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Staging receives rows during a rebuild. It writes to a side table that
// becomes the live chunks table only when the rebuild commits.
type Staging struct {
	tx  pgx.Tx
	dim int
}

// Add inserts a chunk into the staging table.
func (st *Staging) Add(ctx context.Context, chunkID string, vec []float32, content string, meta Metadata) error {
	if len(vec) != st.dim {
		return &DimensionMismatchError{Want: st.dim, Got: len(vec)}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	_, err = st.tx.Exec(ctx, `
		INSERT INTO chunks_staging (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)`,
		chunkID, content, pgvector.NewVector(vec), metaJSON)
	if err != nil {
		return fmt.Errorf("staging chunk %q: %w", chunkID, err)
	}
	return nil
}

// Rebuild replaces the entire index atomically. fill is called with a
// Staging sink; when it returns nil the staged rows are swapped in and the
// index metadata is updated, all within a single transaction. On any error
// the transaction rolls back and the live index is untouched.
//
// Concurrent queries keep reading the old chunks table until the commit,
// at which point they observe the complete new corpus, never a mix.
func (s *Store) Rebuild(ctx context.Context, embedderModel string, fill func(ctx context.Context, st *Staging) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rebuild transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("rebuild rollback", "error", err)
		}
	}()

	// Fresh staging table with the same shape as chunks. It owns its own
	// seq sequence (LIKE would share the old table's sequence, which dies
	// with DROP TABLE below), so insertion order carries over the swap.
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS chunks_staging`); err != nil {
		return fmt.Errorf("dropping stale staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE chunks_staging (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			embedding  vector NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			seq        BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	if err := fill(ctx, &Staging{tx: tx, dim: s.dim}); err != nil {
		return err
	}

	// Publish: the rename pair is transactional DDL, so readers see either
	// the old table or the new one, never an intermediate state.
	if _, err := tx.Exec(ctx, `DROP TABLE chunks`); err != nil {
		return fmt.Errorf("dropping old chunks table: %w", err)
	}
	if _, err := tx.Exec(ctx, `ALTER TABLE chunks_staging RENAME TO chunks`); err != nil {
		return fmt.Errorf("publishing staging table: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO index_meta (id, embedder_model, dimension, built_at)
		VALUES (TRUE, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET embedder_model = EXCLUDED.embedder_model,
		    dimension = EXCLUDED.dimension,
		    built_at = EXCLUDED.built_at`,
		embedderModel, s.dim); err != nil {
		return fmt.Errorf("updating index metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rebuild: %w", err)
	}

	s.logger.Info("index rebuilt", "embedder_model", embedderModel, "dimension", s.dim)
	return nil
}
