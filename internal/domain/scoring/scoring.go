// Package scoring computes the similarity between a candidate and a
// canonical entity.
//
// Scores are deterministic values in [0,1]: the same candidate scored against
// the same entity state always yields the same value. Category is a hard
// gate, not a weighted component.
package scoring

import (
	"math"

	"github.com/agnivade/levenshtein"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/normalize"
)

// Default component weights and length bands.
const (
	defaultNameWeight   = 0.6
	defaultLengthWeight = 0.3
	defaultYearWeight   = 0.1

	defaultTolerancePct     = 2.0
	defaultContradictionPct = 15.0

	// neutral is the component value when either side lacks the attribute.
	neutral = 0.5
)

// Scorer computes a match score between a candidate and an entity.
// Implementations must be pure: no IO, no state, deterministic output.
type Scorer interface {
	Score(c model.Candidate, e model.Entity) float64
}

// WeightedScorer combines name similarity, length agreement and build-year
// agreement into a weighted sum.
type WeightedScorer struct {
	nameWeight   float64
	lengthWeight float64
	yearWeight   float64

	tolerancePct     float64
	contradictionPct float64
}

// New creates a WeightedScorer with configuration options.
func New(opts ...Option) *WeightedScorer {
	s := &WeightedScorer{
		nameWeight:       defaultNameWeight,
		lengthWeight:     defaultLengthWeight,
		yearWeight:       defaultYearWeight,
		tolerancePct:     defaultTolerancePct,
		contradictionPct: defaultContradictionPct,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Score computes the weighted similarity in [0,1]. A category mismatch
// short-circuits to 0 before any component runs.
func (s *WeightedScorer) Score(c model.Candidate, e model.Entity) float64 {
	if c.Category != e.Category {
		return 0
	}

	name := s.nameComponent(c, e)
	length := s.lengthComponent(c.LengthM, e.LengthM)
	year := yearComponent(c.BuildYear, e.BuildYear)

	total := s.nameWeight + s.lengthWeight + s.yearWeight
	score := (s.nameWeight*name + s.lengthWeight*length + s.yearWeight*year) / total
	return clamp01(score)
}

// nameComponent takes the maximum similarity across the entity's primary
// name and every alias, so an entity never loses matchability when its
// primary name changes.
func (s *WeightedScorer) nameComponent(c model.Candidate, e model.Entity) float64 {
	if c.Name == "" {
		return neutral
	}
	best := NameSimilarity(c.Name, e.Name)
	for _, a := range e.Aliases {
		if sim := NameSimilarity(c.Name, a.Alias); sim > best {
			best = sim
		}
	}
	return best
}

// NameSimilarity combines normalized-token overlap with edit distance on the
// compacted fold keys, taking whichever signal is stronger. Token overlap
// catches reordered words; compact edit distance catches spacing and
// spelling variants like "Seabreeze" vs "Sea Breeze".
func NameSimilarity(a, b string) float64 {
	keyA, keyB := normalize.FoldKey(a), normalize.FoldKey(b)
	if keyA == "" || keyB == "" {
		return 0
	}
	if keyA == keyB {
		return 1
	}

	overlap := tokenOverlap(keyA, keyB)
	edit := editSimilarity(normalize.CompactKey(a), normalize.CompactKey(b))

	if edit > overlap {
		return edit
	}
	return overlap
}

// tokenOverlap is the Jaccard index of the fold-key token sets.
func tokenOverlap(keyA, keyB string) float64 {
	tokensA := tokenSet(keyA)
	tokensB := tokenSet(keyB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	var shared int
	for tok := range tokensA {
		if tokensB[tok] {
			shared++
		}
	}
	union := len(tokensA) + len(tokensB) - shared
	return float64(shared) / float64(union)
}

func tokenSet(key string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range splitTokens(key) {
		set[tok] = true
	}
	return set
}

func splitTokens(key string) []string {
	var out []string
	start := -1
	for i, r := range key {
		if r == ' ' {
			if start >= 0 {
				out = append(out, key[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, key[start:])
	}
	return out
}

// editSimilarity maps Levenshtein distance onto [0,1].
func editSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(distance)/float64(maxLen)
}

// lengthComponent maps relative length difference onto [0,1]: full agreement
// within the tolerance band, full contradiction beyond the contradiction
// band, linear in between. Either side absent is neutral.
func (s *WeightedScorer) lengthComponent(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return neutral
	}
	larger := math.Max(a, b)
	diffPct := math.Abs(a-b) / larger * 100

	switch {
	case diffPct <= s.tolerancePct:
		return 1
	case diffPct >= s.contradictionPct:
		return 0
	default:
		return 1 - (diffPct-s.tolerancePct)/(s.contradictionPct-s.tolerancePct)
	}
}

// yearComponent is exact-or-absent: equal years agree fully, differing years
// contradict fully, an absent year on either side is neutral.
func yearComponent(a, b int) float64 {
	if a == 0 || b == 0 {
		return neutral
	}
	if a == b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
