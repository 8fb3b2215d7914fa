package resolve

import (
	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/normalize"
)

// mergePlan reconciles a matched candidate into the target entity.
//
// Reconciliation rules:
//   - strings: the longest non-empty value wins
//   - numerics: the value from the higher-trust source wins; exact trust
//     ties fall back to the most recent fetch
//
// Updated stays nil when the candidate adds no attribute information, so an
// unchanged re-run leaves the entity row untouched.
func (r *Resolver) mergePlan(cand model.Candidate, best scoredEntity) model.Plan {
	e := best.entity
	trust := r.trust(cand.SourceHost)
	prov := model.FieldProvenance{SourceURL: cand.SourceURL, Trust: trust, FetchedAt: cand.FetchedAt}

	updated := e
	updated.Provenance = cloneProvenance(e.Provenance)
	changed := false
	promote := false

	if longerString(cand.Name, e.Name) {
		updated.Name = cand.Name
		promote = true
		changed = true
	}
	if longerString(cand.Builder, e.Builder) {
		updated.Builder = cand.Builder
		updated.Provenance["builder"] = prov
		changed = true
	}
	if cand.LengthM > 0 && r.takeNumeric(e, "length_m", e.LengthM > 0, cand.LengthM != e.LengthM, trust, cand) {
		updated.LengthM = cand.LengthM
		updated.Provenance["length_m"] = prov
		changed = true
	}
	if cand.BuildYear > 0 && r.takeNumeric(e, "build_year", e.BuildYear > 0, cand.BuildYear != e.BuildYear, trust, cand) {
		updated.BuildYear = cand.BuildYear
		updated.Provenance["build_year"] = prov
		changed = true
	}

	plan := model.Plan{
		Decision:    model.DecisionMatched,
		EntityID:    e.ID,
		PromoteName: promote,
		Source: model.SourceDraft{
			URL:       cand.SourceURL,
			FetchedAt: cand.FetchedAt,
			RawName:   cand.Name,
			Decision:  model.DecisionMatched,
			Score:     best.score,
		},
	}
	if changed {
		plan.Updated = &updated
	}
	if cand.Name != "" && !hasAlias(e, cand.Name) {
		plan.NewAlias = &model.AliasDraft{Alias: cand.Name, SourceURL: cand.SourceURL, Seen: cand.FetchedAt}
	}
	return plan
}

// takeNumeric decides whether the candidate's numeric value replaces the
// entity's. Absent entity values are always taken; otherwise the candidate
// wins on strictly higher trust, or on a later fetch at equal trust.
func (r *Resolver) takeNumeric(e model.Entity, field string, present, differs bool, candTrust float64, cand model.Candidate) bool {
	if !present {
		return true
	}
	if !differs {
		return false
	}
	cur, ok := e.Provenance[field]
	if !ok {
		// Value predates provenance tracking; treat as default trust.
		cur = model.FieldProvenance{Trust: r.trust("")}
	}
	if candTrust != cur.Trust {
		return candTrust > cur.Trust
	}
	return cand.FetchedAt.After(cur.FetchedAt)
}

// longerString reports whether candidate should replace current under the
// longest-non-empty-wins rule.
func longerString(candidate, current string) bool {
	return candidate != "" && len(candidate) > len(current)
}

// hasAlias reports whether name is already recorded as an alias of the
// entity, compared through fold keys. The primary name is mirrored as an
// alias row at creation, so it is covered by the same check.
func hasAlias(e model.Entity, name string) bool {
	key := normalize.FoldKey(name)
	for _, a := range e.Aliases {
		if normalize.FoldKey(a.Alias) == key {
			return true
		}
	}
	return false
}

func cloneProvenance(in map[string]model.FieldProvenance) map[string]model.FieldProvenance {
	out := make(map[string]model.FieldProvenance, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
