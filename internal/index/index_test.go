package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refdesk/refdesk/internal/testutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return New(db.Pool, 3, testutil.DiscardLogger())
}

func meta(docID string, pos int) Metadata {
	return Metadata{DocumentID: docID, Title: docID, Source: docID + ".md", Position: pos}
}

func TestQueryOrderingAndScores(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Cosine similarity against the query vector (1,0,0): identical = 1,
	// partial = 0.6, opposite = -1. Scores clamp anticorrelation to zero.
	require.NoError(t, s.Upsert(ctx, "same:0", []float32{1, 0, 0}, "identical", meta("same", 0)))
	require.NoError(t, s.Upsert(ctx, "part:0", []float32{0.6, 0.8, 0}, "partial", meta("part", 0)))
	require.NoError(t, s.Upsert(ctx, "opp:0", []float32{-1, 0, 0}, "opposite", meta("opp", 0)))

	entries, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Highest similarity first, scores normalized to [0,1].
	assert.Equal(t, "same:0", entries[0].ChunkID)
	assert.InDelta(t, 1.0, entries[0].Score, 1e-6)
	assert.Equal(t, "part:0", entries[1].ChunkID)
	assert.InDelta(t, 0.6, entries[1].Score, 1e-6)
	assert.Equal(t, "opp:0", entries[2].ChunkID)
	assert.InDelta(t, 0.0, entries[2].Score, 1e-6)

	assert.Equal(t, "same", entries[0].Metadata.DocumentID)
}

func TestQueryTieBreakByInsertionOrder(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	vec := []float32{0, 1, 0}
	require.NoError(t, s.Upsert(ctx, "first:0", vec, "first", meta("first", 0)))
	require.NoError(t, s.Upsert(ctx, "second:0", vec, "second", meta("second", 0)))
	require.NoError(t, s.Upsert(ctx, "third:0", vec, "third", meta("third", 0)))

	entries, err := s.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Identical distances: insertion order decides.
	assert.Equal(t, "first:0", entries[0].ChunkID)
	assert.Equal(t, "second:0", entries[1].ChunkID)
	assert.Equal(t, "third:0", entries[2].ChunkID)
}

func TestUpsertIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	vec := []float32{0, 1, 0}
	require.NoError(t, s.Upsert(ctx, "a:0", vec, "content", meta("a", 0)))
	require.NoError(t, s.Upsert(ctx, "b:0", vec, "content", meta("b", 0)))

	// Re-upserting a:0 must not move it behind b:0 in tie-breaking.
	require.NoError(t, s.Upsert(ctx, "a:0", vec, "content", meta("a", 0)))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a:0", entries[0].ChunkID)
	assert.Equal(t, "b:0", entries[1].ChunkID)
}

func TestUpsertReplacesContent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "a:0", []float32{1, 0, 0}, "old", meta("a", 0)))
	require.NoError(t, s.Upsert(ctx, "a:0", []float32{1, 0, 0}, "new", meta("a", 0)))

	entries, err := s.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Content)
}

func TestDimensionMismatch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var dimErr *DimensionMismatchError

	err := s.Upsert(ctx, "a:0", []float32{1, 0}, "content", meta("a", 0))
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Query(ctx, []float32{1, 0, 0, 0}, 1)
	require.ErrorAs(t, err, &dimErr)
}

func TestDeleteAndCount(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "a:0", []float32{1, 0, 0}, "content", meta("a", 0)))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Delete(ctx, "a:0"))
	require.NoError(t, s.Delete(ctx, "a:0")) // deleting a missing id is fine

	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEnsureVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// No metadata row yet: any model passes.
	require.NoError(t, s.EnsureVersion(ctx, "text-embedding-004"))

	err := s.Rebuild(ctx, "text-embedding-004", func(ctx context.Context, st *Staging) error {
		return st.Add(ctx, "a:0", []float32{1, 0, 0}, "content", meta("a", 0))
	})
	require.NoError(t, err)

	require.NoError(t, s.EnsureVersion(ctx, "text-embedding-004"))
	require.ErrorIs(t, s.EnsureVersion(ctx, "some-other-model"), ErrModelMismatch)
}

func TestRebuildReplacesIndexAtomically(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "old:0", []float32{1, 0, 0}, "old content", meta("old", 0)))

	err := s.Rebuild(ctx, "text-embedding-004", func(ctx context.Context, st *Staging) error {
		if err := st.Add(ctx, "new:0", []float32{1, 0, 0}, "new content", meta("new", 0)); err != nil {
			return err
		}
		return st.Add(ctx, "new:1", []float32{0, 1, 0}, "more content", meta("new", 1))
	})
	require.NoError(t, err)

	entries, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new:0", entries[0].ChunkID)
}

func TestRebuildFailureLeavesIndexUntouched(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "old:0", []float32{1, 0, 0}, "old content", meta("old", 0)))

	fillErr := errors.New("embedding provider exploded")
	err := s.Rebuild(ctx, "text-embedding-004", func(ctx context.Context, st *Staging) error {
		if err := st.Add(ctx, "new:0", []float32{0, 1, 0}, "half done", meta("new", 0)); err != nil {
			return err
		}
		return fillErr
	})
	require.ErrorIs(t, err, fillErr)

	// The old index is fully intact, no partial state visible.
	entries, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "old:0", entries[0].ChunkID)
	assert.Equal(t, "old content", entries[0].Content)

	// And a later rebuild still works.
	require.NoError(t, s.Rebuild(ctx, "text-embedding-004", func(ctx context.Context, st *Staging) error {
		return st.Add(ctx, "new:0", []float32{1, 0, 0}, "done", meta("new", 0))
	}))
}

func TestRebuildStagingDimensionCheck(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var dimErr *DimensionMismatchError
	err := s.Rebuild(ctx, "text-embedding-004", func(ctx context.Context, st *Staging) error {
		return st.Add(ctx, "a:0", []float32{1}, "content", meta("a", 0))
	})
	require.ErrorAs(t, err, &dimErr)
}

func TestQueryEmptyIndex(t *testing.T) {
	s := setupStore(t)

	entries, err := s.Query(context.Background(), []float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
