// Package normalize canonicalizes raw extracted records into comparable candidates.
//
// Normalization is side-effect-free: casing and whitespace folding for names,
// unit conversion for lengths, year parsing, and builder canonicalization.
// Records carrying neither a name nor a length are rejected as invalid.
package normalize

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/fathomline/regatta/internal/domain/model"
)

// feetPerMeter converts imperial lengths.
const feetPerMeter = 3.28084

// earliestBuildYear bounds plausible build years.
const earliestBuildYear = 1800

var (
	meterRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:m|meters?|metres?)\b`)
	feetRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:ft|feet|foot)\b`)
)

// lengthKeys are probed in order; the first parseable value wins.
var lengthKeys = []string{"length_m", "length", "loa_m", "loa", "length_ft", "loa_ft"}

// yearKeys are probed in order for the build year.
var yearKeys = []string{"build_year", "year_built", "year", "built"}

// builderKeys are probed in order for the builder name.
var builderKeys = []string{"builder", "shipyard", "yard"}

// pairingKeys all normalize to the canonical "paired_with" fact.
var pairingKeys = []string{"paired_with", "tender_to", "mothership"}

// Normalizer canonicalizes raw records. Safe for concurrent use.
type Normalizer struct {
	categories map[model.Category]bool
	builders   map[string]string // fold key of variant -> canonical name
}

// New creates a Normalizer with configuration options.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		categories: map[model.Category]bool{
			model.CategoryYacht:  true,
			model.CategoryTender: true,
		},
		builders: map[string]string{},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Normalize converts a raw record into a candidate, or reports
// ErrInvalidCandidate when the record has no basis for matching.
func (n *Normalizer) Normalize(rec model.RawRecord) (model.Candidate, error) {
	category := model.Category(strings.ToLower(strings.TrimSpace(rec.Category)))
	if !n.categories[category] {
		return model.Candidate{}, fmt.Errorf("%w: unrecognized category %q", ErrInvalidCandidate, rec.Category)
	}

	name := strings.Join(strings.Fields(rec.RawName), " ")
	length := n.extractLength(rec.Facts)

	if name == "" && length == 0 {
		return model.Candidate{}, fmt.Errorf("%w: record has neither name nor length", ErrInvalidCandidate)
	}

	cand := model.Candidate{
		Seq:        rec.Seq,
		SourceURL:  rec.SourceURL,
		SourceHost: hostOf(rec.SourceURL),
		FetchedAt:  rec.FetchedAt.UTC(),
		Category:   category,
		Name:       name,
		NameKey:    FoldKey(name),
		LengthM:    length,
		BuildYear:  n.extractYear(rec.Facts),
		Builder:    n.extractBuilder(rec.Facts),
		Facts:      n.normalizeFacts(rec.Facts),
	}
	return cand, nil
}

// extractLength returns the candidate length in meters, or 0 when absent.
func (n *Normalizer) extractLength(facts map[string]any) float64 {
	for _, key := range lengthKeys {
		raw, ok := lookupFact(facts, key)
		if !ok {
			continue
		}
		feet := strings.HasSuffix(key, "_ft")
		if v, ok := parseLengthValue(raw, feet); ok {
			return v
		}
	}
	return 0
}

// parseLengthValue handles bare numbers and strings with unit suffixes.
// Commas are stripped as thousands separators before matching.
func parseLengthValue(raw any, assumeFeet bool) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return roundLength(v, assumeFeet), v > 0
	case int:
		return roundLength(float64(v), assumeFeet), v > 0
	case string:
		text := strings.ReplaceAll(v, ",", "")
		if m := meterRe.FindStringSubmatch(text); m != nil {
			f, err := strconv.ParseFloat(m[1], 64)
			return roundLength(f, false), err == nil && f > 0
		}
		if m := feetRe.FindStringSubmatch(text); m != nil {
			f, err := strconv.ParseFloat(m[1], 64)
			return roundLength(f, true), err == nil && f > 0
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return roundLength(f, assumeFeet), f > 0
		}
	}
	return 0, false
}

func roundLength(v float64, feet bool) float64 {
	if feet {
		v /= feetPerMeter
	}
	return math.Round(v*10) / 10
}

// extractYear returns a plausible build year, or 0 when absent.
func (n *Normalizer) extractYear(facts map[string]any) int {
	maxYear := time.Now().UTC().Year() + 2
	for _, key := range yearKeys {
		raw, ok := lookupFact(facts, key)
		if !ok {
			continue
		}
		var year int
		switch v := raw.(type) {
		case float64:
			year = int(v)
		case int:
			year = v
		case string:
			y, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				continue
			}
			year = y
		}
		if year >= earliestBuildYear && year <= maxYear {
			return year
		}
	}
	return 0
}

// extractBuilder returns the canonical builder name, or "" when absent.
func (n *Normalizer) extractBuilder(facts map[string]any) string {
	for _, key := range builderKeys {
		raw, ok := lookupFact(facts, key)
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		if canonical, ok := n.builders[FoldKey(s)]; ok {
			return canonical
		}
		return s
	}
	return ""
}

// normalizeFacts canonicalizes keys to lower_snake and stringifies values,
// folding pairing synonyms into the single "paired_with" key. Keys consumed
// into dedicated candidate fields are dropped.
func (n *Normalizer) normalizeFacts(facts map[string]any) map[string]string {
	consumed := map[string]bool{}
	for _, k := range lengthKeys {
		consumed[k] = true
	}
	for _, k := range yearKeys {
		consumed[k] = true
	}
	for _, k := range builderKeys {
		consumed[k] = true
	}

	out := make(map[string]string, len(facts))
	for key, raw := range facts {
		k := snakeKey(key)
		if consumed[k] {
			continue
		}
		for _, p := range pairingKeys {
			if k == p {
				k = "paired_with"
				break
			}
		}
		v := stringifyFact(raw)
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func stringifyFact(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// lookupFact probes the raw fact map under the normalized form of key.
func lookupFact(facts map[string]any, key string) (any, bool) {
	for rawKey, v := range facts {
		if snakeKey(rawKey) == key {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				return nil, false
			}
			if v == nil {
				return nil, false
			}
			return v, true
		}
	}
	return nil, false
}

// snakeKey lowercases a fact key and folds separators to underscores.
func snakeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	var b strings.Builder
	for _, r := range key {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// foldTransformer strips diacritic marks after canonical decomposition.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldKey produces the matching key for a name: lowercased, diacritics
// stripped, punctuation removed, whitespace collapsed. The scorer and the
// store compare names exclusively through this key.
func FoldKey(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CompactKey is FoldKey with spaces removed, for whole-name edit distance.
func CompactKey(name string) string {
	return strings.ReplaceAll(FoldKey(name), " ", "")
}

// hostOf extracts the lowercased hostname for trust lookups.
func hostOf(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}
