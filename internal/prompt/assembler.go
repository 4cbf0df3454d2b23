// Package prompt assembles retrieved chunks into the grounded context
// block handed to the model, with numbered citation markers the answer
// refers back to.
package prompt

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/refdesk/refdesk/internal/index"
	"github.com/refdesk/refdesk/internal/session"
)

// System is the instruction block for every grounded request. The model
// must answer only from the numbered sources and cite them inline.
const System = `You are a support specialist for a payments platform. Answer the
user's question using ONLY the numbered sources below.

Rules:
- Cite every claim with its source marker, e.g. [1] or [2].
- If the sources do not contain the answer, say so plainly instead of guessing.
- Never invent source markers that do not appear below.
- Keep answers concise and concrete; quote exact values (fees, limits,
  expiry windows) from the sources when they matter.`

// Payload is the fully assembled input for one generation request.
type Payload struct {
	System    string
	Context   string             // numbered source blocks, highest score first
	Citations []session.Citation // marker n corresponds to block [n]
	Truncated bool               // true if the token budget forced sources out
}

// Assembler turns retrieval results into a Payload. Safe for concurrent
// use.
type Assembler struct {
	maxContextTokens int
	logger           *slog.Logger
}

// New creates an Assembler with the given context token budget.
func New(maxContextTokens int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{maxContextTokens: maxContextTokens, logger: logger}
}

// Assemble builds the context block from entries. Near-duplicate chunks
// (same document, same or adjacent position) collapse to the highest
// scoring one. Markers are assigned in descending score order, so [1] is
// always the strongest source. If the assembled context exceeds the token
// budget, the lowest scoring sources are dropped until it fits and
// Truncated is set. A single source larger than the whole budget is
// dropped too: the payload comes back empty and the caller falls through
// to the insufficient-information response, which beats emitting a
// context that blows the budget.
func (a *Assembler) Assemble(entries []index.Entry) Payload {
	deduped := dedupe(entries)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})

	blocks := make([]string, len(deduped))
	total := 0
	for i, e := range deduped {
		blocks[i] = formatBlock(i+1, e)
		total += estimateTokens(blocks[i])
	}

	truncated := false
	for len(blocks) > 0 && total > a.maxContextTokens {
		// Lowest score is last after the sort above.
		total -= estimateTokens(blocks[len(blocks)-1])
		blocks = blocks[:len(blocks)-1]
		deduped = deduped[:len(deduped)-1]
		truncated = true
	}

	citations := make([]session.Citation, len(deduped))
	for i, e := range deduped {
		citations[i] = session.Citation{
			Marker:     i + 1,
			ChunkID:    e.ChunkID,
			DocumentID: e.Metadata.DocumentID,
			Title:      e.Metadata.Title,
			Source:     e.Metadata.Source,
			Score:      e.Score,
		}
	}

	if truncated {
		a.logger.Debug("context truncated to budget",
			"budget_tokens", a.maxContextTokens,
			"sources_kept", len(blocks),
		)
	}

	return Payload{
		System:    System,
		Context:   strings.Join(blocks, "\n\n"),
		Citations: citations,
		Truncated: truncated,
	}
}

// dedupe collapses chunks from the same document whose positions are the
// same or adjacent; overlapping chunks repeat each other's text, so only
// the highest scoring survives. Disjoint spans of the same document are
// all kept.
func dedupe(entries []index.Entry) []index.Entry {
	kept := make([]index.Entry, 0, len(entries))
	for _, e := range entries {
		dup := false
		for i, k := range kept {
			if k.Metadata.DocumentID != e.Metadata.DocumentID {
				continue
			}
			d := k.Metadata.Position - e.Metadata.Position
			if d < -1 || d > 1 {
				continue
			}
			dup = true
			if e.Score > k.Score {
				kept[i] = e
			}
			break
		}
		if !dup {
			kept = append(kept, e)
		}
	}
	return kept
}

func formatBlock(marker int, e index.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", marker, e.Metadata.Title)
	if e.Metadata.Source != "" {
		fmt.Fprintf(&b, " (%s)", e.Metadata.Source)
	}
	b.WriteString("\n")
	b.WriteString(e.Content)
	return b.String()
}

// estimateTokens provides a rough token count. Rune count divided by 2 is
// a conservative estimate that works for both English (~4 chars/token)
// and CJK (~1.5 chars/token) text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}
