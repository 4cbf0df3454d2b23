package corpus

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSingleChunk(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 0.15)
	doc := Document{ID: "refunds", Text: "Refunds are returned to the original payment method."}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "refunds:0", chunks[0].ID)
	assert.Equal(t, "refunds", chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, 0, chunks[0].OverlapRunes)
	assert.Equal(t, doc.Text, chunks[0].Text)
}

func TestChunkerEmptyDocument(t *testing.T) {
	t.Parallel()

	c := NewChunker(1000, 0.15)

	_, err := c.Chunk(Document{ID: "empty", Text: "   \n\n  "})
	require.Error(t, err)

	var chunkErr *ChunkingError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, "empty", chunkErr.DocumentID)
}

func TestChunkerReconstruction(t *testing.T) {
	t.Parallel()

	// Paragraphs separated by blank lines, so normalization is identity
	// and reconstruction must be exact.
	var paras []string
	for i := 0; i < 30; i++ {
		paras = append(paras, fmt.Sprintf(
			"Paragraph %d covers settlement timing and describes how funds move between accounts in detail.", i))
	}
	text := strings.Join(paras, "\n\n")

	c := NewChunker(300, 0.15)
	chunks, err := c.Chunk(Document{ID: "settlement", Text: text})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Removing each chunk's overlap prefix and rejoining yields the
	// original text: chunking is lossless.
	cores := make([]string, len(chunks))
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, fmt.Sprintf("settlement:%d", i), ch.ID)
		cores[i] = ch.Core()
	}
	assert.Equal(t, text, strings.Join(cores, "\n\n"))

	for i, ch := range chunks {
		n := utf8.RuneCountInString(ch.Text)
		assert.LessOrEqual(t, n, 2*300+int(0.15*300)+2, "chunk %d exceeds size cap", i)
		if i > 0 {
			// The overlap prefix is a verbatim suffix of the previous core.
			require.Positive(t, ch.OverlapRunes)
			runes := []rune(ch.Text)
			prefix := string(runes[:ch.OverlapRunes-2])
			assert.True(t, strings.HasSuffix(cores[i-1], prefix),
				"chunk %d overlap %q is not a suffix of the previous core", i, prefix)
		}
	}
}

func TestChunkerDeterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Disputes must be answered within the evidence window.\n\n", 40)
	c := NewChunker(200, 0.15)

	first, err := c.Chunk(Document{ID: "disputes", Text: text})
	require.NoError(t, err)
	second, err := c.Chunk(Document{ID: "disputes", Text: text})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestChunkerKeepsCodeFenceAtomic(t *testing.T) {
	t.Parallel()

	fence := "```json\n" + strings.Repeat("{\"amount\": 1000},\n", 8) + "```"
	text := strings.Repeat("Some prose about the payments API.\n\n", 6) +
		fence + "\n\n" +
		strings.Repeat("More prose about error handling.\n\n", 6)

	c := NewChunker(150, 0.15)
	chunks, err := c.Chunk(Document{ID: "api", Text: text})
	require.NoError(t, err)

	// The fence must appear whole in exactly one chunk core.
	var containing int
	for _, ch := range chunks {
		if strings.Contains(ch.Core(), fence) {
			containing++
		}
	}
	assert.Equal(t, 1, containing, "code fence was split across chunks")
}

func TestChunkerKeepsTableAtomic(t *testing.T) {
	t.Parallel()

	table := "| Fee | Amount |\n|-----|--------|\n| Card | 2.9% |\n| Bank | 0.8% |"
	text := strings.Repeat("Prose before the fee table.\n\n", 5) +
		table + "\n\n" +
		strings.Repeat("Prose after the fee table.\n\n", 5)

	c := NewChunker(120, 0.15)
	chunks, err := c.Chunk(Document{ID: "fees", Text: text})
	require.NoError(t, err)

	var containing int
	for _, ch := range chunks {
		if strings.Contains(ch.Core(), table) {
			containing++
		}
	}
	assert.Equal(t, 1, containing, "table was split across chunks")
}

func TestChunkerOversizedSpanSplitsAtLines(t *testing.T) {
	t.Parallel()

	// One block far beyond the hard cap, but with line breaks to split at.
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("line %d of an extremely long unbroken section", i))
	}
	text := strings.Join(lines, "\n")

	c := NewChunker(100, 0)
	chunks, err := c.Chunk(Document{ID: "long", Text: text})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 200)
	}
}

func TestChunkerNoValidSplitPoint(t *testing.T) {
	t.Parallel()

	c := NewChunker(100, 0.15)
	_, err := c.Chunk(Document{ID: "blob", Text: strings.Repeat("x", 500)})
	require.Error(t, err)

	var chunkErr *ChunkingError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, "blob", chunkErr.DocumentID)
	assert.Contains(t, chunkErr.Error(), "no valid split point")
}

func TestChunkerDefaults(t *testing.T) {
	t.Parallel()

	c := NewChunker(0, -1)
	assert.Equal(t, DefaultTargetRunes, c.targetRunes)
	assert.InDelta(t, DefaultOverlap, c.overlapFrac, 1e-9)

	// Sanity: errors.Is does not apply to ChunkingError, ErrorAs does.
	_, err := c.Chunk(Document{ID: "d", Text: ""})
	assert.False(t, errors.Is(err, ErrEmptyCorpus))
}
