package answer

import (
	"regexp"
	"strconv"

	"github.com/refdesk/refdesk/internal/session"
)

// markerPattern matches inline citation markers like [1] or [12].
var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations returns the citations actually referenced by text, in
// marker order, deduplicated. Markers that do not correspond to an
// assembled source are hallucinations and are dropped; every returned
// citation is guaranteed to point at a real retrieved chunk.
func extractCitations(text string, available []session.Citation) []session.Citation {
	if len(available) == 0 {
		return nil
	}

	byMarker := make(map[int]session.Citation, len(available))
	for _, c := range available {
		byMarker[c.Marker] = c
	}

	seen := make(map[int]bool)
	var cited []session.Citation
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		c, ok := byMarker[n]
		if !ok {
			continue
		}
		seen[n] = true
		cited = append(cited, c)
	}
	return cited
}
