package corpus

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/c360studio/docdelta/embedding"
)

// rank scores chunks against the query vector and returns the top-k by
// similarity. Ties on score prefer the later version tag, so diffs pair
// against the most recent prior version.
func rank(chunks []HistoricalChunk, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	matches := make([]Match, 0, len(chunks))
	for _, chunk := range chunks {
		score, err := embedding.Cosine(vector, chunk.Vector)
		if err != nil {
			return nil, fmt.Errorf("score chunk %s: %w", chunk.Ref, err)
		}
		matches = append(matches, Match{Chunk: chunk, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return CompareVersions(matches[i].Chunk.Version, matches[j].Chunk.Version) > 0
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// CompareVersions orders version tags: numeric dotted tags compare
// numerically ("v10" after "v9"), anything else falls back to
// lexicographic order. Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	na, okA := parseVersion(a)
	nb, okB := parseVersion(b)
	if okA && okB {
		for i := 0; i < len(na) || i < len(nb); i++ {
			var va, vb int
			if i < len(na) {
				va = na[i]
			}
			if i < len(nb) {
				vb = nb[i]
			}
			if va != vb {
				if va < vb {
					return -1
				}
				return 1
			}
		}
		return 0
	}

	return strings.Compare(a, b)
}

// parseVersion parses tags like "v2", "3.1.4" into numeric parts.
func parseVersion(s string) ([]int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "v")
	if s == "" {
		return nil, false
	}

	parts := strings.Split(s, ".")
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		nums[i] = n
	}
	return nums, true
}

// NormalizeTitle canonicalizes section titles for entity lookups:
// numbering prefixes, surrounding whitespace, and case are ignored.
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(strings.ToLower(title))
	// Strip leading section numbering like "2.1 " or "3) "
	t = strings.TrimLeft(t, "0123456789.、)）# ")
	return strings.TrimSpace(t)
}
