// Package timeline derives event records from resolved candidates and
// decides when a draft describes an occurrence already on record.
//
// Events are immutable; a draft matching an existing event's type and
// normalized fact within the coalescing window extends that event's time
// bound instead of inserting a new row. Re-running an unchanged input set
// therefore never grows the event count.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fathomline/regatta/internal/domain/model"
)

// defaultCoalesceWindow is the maximum gap between time bounds that still
// counts as the same occurrence.
const defaultCoalesceWindow = 7 * 24 * time.Hour

// saleKeys and registrationKeys trigger their event types when present.
var saleKeys = []string{"sale_price", "price", "buyer", "sold"}
var registrationKeys = []string{"flag", "registry", "port_of_registry"}

// Builder derives and coalesces timeline events.
type Builder struct {
	window time.Duration
}

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithCoalesceWindow sets the maximum bound gap for coalescing.
func WithCoalesceWindow(window time.Duration) Option {
	return func(b *Builder) {
		if window >= 0 {
			b.window = window
		}
	}
}

// New creates a Builder with configuration options.
func New(opts ...Option) *Builder {
	b := &Builder{window: defaultCoalesceWindow}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Derive produces the event drafts for one resolved candidate. A sighting
// is always derived; sale, registration and tender-pairing events only when
// the candidate's facts name them. Pure: no store access.
func (b *Builder) Derive(cand model.Candidate) []model.EventDraft {
	day := cand.FetchedAt.UTC().Truncate(24 * time.Hour)

	sighting := model.EventDraft{
		Type:     model.EventSighting,
		Earliest: day,
		Latest:   day,
		Fact:     sightingFact(cand),
	}
	drafts := []model.EventDraft{sighting}

	if fact := pickFact(cand.Facts, saleKeys); fact != nil {
		drafts = append(drafts, model.EventDraft{
			Type: model.EventSale, Earliest: day, Latest: day, Fact: fact,
		})
	}
	if fact := pickFact(cand.Facts, registrationKeys); fact != nil {
		drafts = append(drafts, model.EventDraft{
			Type: model.EventRegistration, Earliest: day, Latest: day, Fact: fact,
		})
	}
	if paired := cand.Facts["paired_with"]; paired != "" {
		drafts = append(drafts, model.EventDraft{
			Type:     model.EventTenderPairing,
			Earliest: day,
			Latest:   day,
			Fact:     map[string]string{"paired_with": paired},
		})
	}
	return drafts
}

// Coalesce finds an existing event the draft duplicates: same type, same
// fact hash, time bounds overlapping or within the coalescing window.
// Returns the event and true, or false when the draft is genuinely new.
func (b *Builder) Coalesce(existing []model.Event, draft model.EventDraft) (model.Event, bool) {
	hash := FactHash(draft.Type, draft.Fact)
	for _, e := range existing {
		if e.Type != draft.Type || e.FactHash != hash {
			continue
		}
		if boundsWithin(e.Earliest, e.Latest, draft.Earliest, draft.Latest, b.window) {
			return e, true
		}
	}
	return model.Event{}, false
}

// Extend widens an event's bound to cover the draft's.
func Extend(e model.Event, draft model.EventDraft) (earliest, latest time.Time) {
	earliest, latest = e.Earliest, e.Latest
	if draft.Earliest.Before(earliest) {
		earliest = draft.Earliest
	}
	if draft.Latest.After(latest) {
		latest = draft.Latest
	}
	return earliest, latest
}

// FactHash computes the canonical hash of an event's type and normalized
// fact payload. json.Marshal sorts map keys, making the hash deterministic.
func FactHash(t model.EventType, fact map[string]string) string {
	payload, err := json.Marshal(fact)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(string(t)+"\n"), payload...))
	return hex.EncodeToString(sum[:])
}

// boundsWithin reports whether [e1,l1] and [e2,l2] overlap or sit within
// the window of each other.
func boundsWithin(e1, l1, e2, l2 time.Time, window time.Duration) bool {
	if e2.After(l1) {
		return e2.Sub(l1) <= window
	}
	if e1.After(l2) {
		return e1.Sub(l2) <= window
	}
	return true
}

// sightingFact normalizes the payload that makes two sightings "the same
// occurrence": the folded name key and, when known, the observed length.
// The fold key keeps cosmetic spelling variants of one vessel together.
func sightingFact(cand model.Candidate) map[string]string {
	fact := map[string]string{"name": cand.NameKey}
	if cand.LengthM > 0 {
		fact["length_m"] = strconv.FormatFloat(cand.LengthM, 'f', 1, 64)
	}
	return fact
}

// pickFact collects the present trigger keys into an event payload.
func pickFact(facts map[string]string, keys []string) map[string]string {
	var out map[string]string
	for _, k := range keys {
		if v := facts[k]; v != "" {
			if out == nil {
				out = map[string]string{}
			}
			out[k] = v
		}
	}
	return out
}
