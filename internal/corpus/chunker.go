package corpus

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is a contiguous slice of a Document's text. The chunk id is
// deterministic (document id + position) so re-ingesting an unchanged
// corpus produces identical ids and upserts become observable no-ops.
//
// Text carries an overlap prefix copied from the previous chunk (except at
// position 0). OverlapRunes is the rune length of that prefix, so
// Text[OverlapRunes:] in rune terms is the chunk's own span: concatenating
// those spans in position order reconstructs the document text modulo
// whitespace normalization.
type Chunk struct {
	ID           string
	DocumentID   string
	Position     int
	Text         string
	OverlapRunes int
}

// Core returns the chunk's own span with the overlap prefix removed.
func (c Chunk) Core() string {
	runes := []rune(c.Text)
	if c.OverlapRunes >= len(runes) {
		return ""
	}
	return string(runes[c.OverlapRunes:])
}

// ChunkingError reports a document that cannot be chunked. It is fatal to
// the rebuild step only; query-time code never sees it.
type ChunkingError struct {
	DocumentID string
	Reason     string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking document %q: %s", e.DocumentID, e.Reason)
}

// Chunker splits documents into overlapping chunks.
//
// Atomic units (fenced code blocks and markdown tables) are never split
// when they fit within the maximum chunk length; oversized units fall back
// to splitting at line breaks, never mid-token. Splits otherwise prefer
// heading boundaries, then blank lines, matching how the corpus documents
// are authored.
//
// Chunk is a pure function over the document text; a Chunker is safe for
// concurrent use.
type Chunker struct {
	targetRunes  int
	overlapFrac  float64
	maxDocRunes  int
	maxChunkSize int // hard cap: 2x target
}

// Chunker defaults, overridable via NewChunker arguments.
const (
	DefaultTargetRunes = 1000
	DefaultOverlap     = 0.15
	maxDocumentRunes   = 1 << 20
)

// NewChunker creates a Chunker with the given target chunk length in runes
// and overlap fraction. Non-positive target or out-of-range overlap fall
// back to the defaults.
func NewChunker(targetRunes int, overlapFrac float64) *Chunker {
	if targetRunes <= 0 {
		targetRunes = DefaultTargetRunes
	}
	if overlapFrac < 0 || overlapFrac >= 0.5 {
		overlapFrac = DefaultOverlap
	}
	return &Chunker{
		targetRunes:  targetRunes,
		overlapFrac:  overlapFrac,
		maxDocRunes:  maxDocumentRunes,
		maxChunkSize: targetRunes * 2,
	}
}

// Chunk splits doc into an ordered sequence of chunks covering the entire
// text. It returns a *ChunkingError when the document is empty or contains
// a span that cannot be split within the size limits.
func (c *Chunker) Chunk(doc Document) ([]Chunk, error) {
	text := strings.ReplaceAll(doc.Text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ChunkingError{DocumentID: doc.ID, Reason: "document is empty"}
	}
	if utf8.RuneCountInString(text) > c.maxDocRunes {
		return nil, &ChunkingError{
			DocumentID: doc.ID,
			Reason:     fmt.Sprintf("document exceeds maximum size of %d runes", c.maxDocRunes),
		}
	}

	units, err := c.units(doc.ID, text)
	if err != nil {
		return nil, err
	}

	cores := c.pack(units)

	overlapRunes := int(float64(c.targetRunes) * c.overlapFrac)
	chunks := make([]Chunk, 0, len(cores))
	for i, core := range cores {
		chunk := Chunk{
			ID:         fmt.Sprintf("%s:%d", doc.ID, i),
			DocumentID: doc.ID,
			Position:   i,
			Text:       core,
		}
		if i > 0 && overlapRunes > 0 {
			prefix := overlapTail(cores[i-1], overlapRunes)
			if prefix != "" {
				chunk.Text = prefix + "\n\n" + core
				chunk.OverlapRunes = utf8.RuneCountInString(prefix) + 2
			}
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// block is an intermediate split unit: a paragraph, heading section, fenced
// code block or table run.
type block struct {
	text   string
	atomic bool
}

// units parses text into blocks and splits any block that exceeds the hard
// chunk cap, so packing only ever sees units that fit.
func (c *Chunker) units(docID, text string) ([]string, error) {
	blocks := parseBlocks(text)

	var units []string
	for _, b := range blocks {
		if utf8.RuneCountInString(b.text) <= c.maxChunkSize {
			units = append(units, b.text)
			continue
		}

		// Oversized unit: split at natural line boundaries. Atomic units
		// only ever reach this fallback when they cannot fit whole.
		pieces, err := splitLongRun(docID, b.text, c.targetRunes, c.maxChunkSize)
		if err != nil {
			return nil, err
		}
		units = append(units, pieces...)
	}

	return units, nil
}

// pack greedily accumulates units into chunk cores up to the target length.
// A single unit larger than the target (but within the hard cap) becomes
// its own core rather than being split mid-unit.
func (c *Chunker) pack(units []string) []string {
	var cores []string
	var cur strings.Builder
	curRunes := 0

	flush := func() {
		if cur.Len() > 0 {
			cores = append(cores, cur.String())
			cur.Reset()
			curRunes = 0
		}
	}

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if curRunes > 0 && curRunes+n+2 > c.targetRunes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
			curRunes += 2
		}
		cur.WriteString(u)
		curRunes += n
	}
	flush()

	return cores
}

// parseBlocks walks text line by line, grouping paragraphs and keeping
// fenced code blocks and table runs together as atomic blocks. Headings
// (##, ###, ...) start a new block.
func parseBlocks(text string) []block {
	lines := strings.Split(text, "\n")

	var blocks []block
	var cur []string

	flush := func(atomic bool) {
		if len(cur) > 0 {
			blocks = append(blocks, block{text: strings.Join(cur, "\n"), atomic: atomic})
			cur = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case isFence(trimmed):
			flush(false)
			cur = append(cur, line)
			for i++; i < len(lines); i++ {
				cur = append(cur, lines[i])
				if isFence(strings.TrimSpace(lines[i])) {
					break
				}
			}
			flush(true)

		case strings.HasPrefix(trimmed, "|"):
			flush(false)
			for ; i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|"); i++ {
				cur = append(cur, lines[i])
			}
			i-- // outer loop advances past the last table line
			flush(true)

		case trimmed == "":
			flush(false)

		case strings.HasPrefix(trimmed, "#"):
			flush(false)
			cur = append(cur, line)

		default:
			cur = append(cur, line)
		}
	}
	flush(false)

	return blocks
}

// isFence reports whether a trimmed line opens or closes a fenced block.
func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// splitLongRun splits an oversized span at line breaks, falling back to
// whitespace boundaries for single lines longer than the cap. A span with
// no split point at all is a ChunkingError, never a mid-token split.
func splitLongRun(docID, text string, target, maxSize int) ([]string, error) {
	var pieces []string

	var cur strings.Builder
	curRunes := 0
	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curRunes = 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)

		if n > maxSize {
			// A single line longer than the cap: fall back to whitespace.
			flush()
			words := strings.FieldsFunc(line, unicode.IsSpace)
			if len(words) <= 1 {
				return nil, &ChunkingError{
					DocumentID: docID,
					Reason:     fmt.Sprintf("span of %d runes has no valid split point", n),
				}
			}
			for _, w := range words {
				wn := utf8.RuneCountInString(w)
				if wn > maxSize {
					return nil, &ChunkingError{
						DocumentID: docID,
						Reason:     fmt.Sprintf("token of %d runes has no valid split point", wn),
					}
				}
				if curRunes > 0 && curRunes+wn+1 > target {
					flush()
				}
				if cur.Len() > 0 {
					cur.WriteString(" ")
					curRunes++
				}
				cur.WriteString(w)
				curRunes += wn
			}
			flush()
			continue
		}

		if curRunes > 0 && curRunes+n+1 > target {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
			curRunes++
		}
		cur.WriteString(line)
		curRunes += n
	}
	flush()

	return pieces, nil
}

// overlapTail returns the trailing portion of core to carry into the next
// chunk, cut at a word boundary so the overlap never starts mid-token.
func overlapTail(core string, overlapRunes int) string {
	runes := []rune(core)
	if len(runes) <= overlapRunes {
		return core
	}

	tail := runes[len(runes)-overlapRunes:]
	for i, r := range tail {
		if unicode.IsSpace(r) {
			return strings.TrimSpace(string(tail[i:]))
		}
	}
	return ""
}
