package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refdesk/refdesk/internal/session"
)

func available(markers ...int) []session.Citation {
	out := make([]session.Citation, len(markers))
	for i, m := range markers {
		out[i] = session.Citation{Marker: m, ChunkID: "doc:0"}
	}
	return out
}

func TestExtractCitations(t *testing.T) {
	t.Parallel()

	got := extractCitations("Refunds take 5-10 days [1], but cards vary [2].", available(1, 2, 3))
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Marker)
	assert.Equal(t, 2, got[1].Marker)
}

func TestExtractCitationsDropsHallucinated(t *testing.T) {
	t.Parallel()

	// [9] has no corresponding source and must not surface.
	got := extractCitations("See [1] and also [9].", available(1, 2))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Marker)
}

func TestExtractCitationsDeduplicates(t *testing.T) {
	t.Parallel()

	got := extractCitations("First [2], again [2], then [1].", available(1, 2))
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Marker)
	assert.Equal(t, 1, got[1].Marker)
}

func TestExtractCitationsNone(t *testing.T) {
	t.Parallel()

	assert.Empty(t, extractCitations("No markers here.", available(1)))
	assert.Empty(t, extractCitations("Orphan [1].", nil))
	assert.Empty(t, extractCitations("Not a citation [abc].", available(1)))
}
