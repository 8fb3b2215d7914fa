// Package resolve decides which canonical entity, if any, a candidate
// belongs to.
//
// Each candidate terminates in exactly one of four states: Matched, Created,
// Ambiguous or Rejected. Data-quality problems never raise; only store
// unavailability propagates as an error, which aborts the run.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/scoring"
	"github.com/fathomline/regatta/pkg/logger"
)

// Default bands. Overridable via options; the three-band structure is fixed.
const (
	defaultMatchThreshold     = 0.80
	defaultAmbiguousThreshold = 0.45
)

// Lookup provides the current entities of one category, aliases included.
// Tombstoned entities are excluded by the implementation.
type Lookup interface {
	CandidateMatches(ctx context.Context, category model.Category) ([]model.Entity, error)
}

// TrustFunc maps a source hostname to its reconciliation trust weight.
type TrustFunc func(host string) float64

// scoredEntity pairs an entity with its candidate score.
type scoredEntity struct {
	entity model.Entity
	score  float64
}

// Resolver runs the per-candidate resolution state machine.
type Resolver struct {
	lookup Lookup
	scorer scoring.Scorer

	matchThreshold     float64
	ambiguousThreshold float64
	trust              TrustFunc

	logger logger.Logger
}

// New creates a Resolver with configuration options.
func New(lookup Lookup, scorer scoring.Scorer, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:             lookup,
		scorer:             scorer,
		matchThreshold:     defaultMatchThreshold,
		ambiguousThreshold: defaultAmbiguousThreshold,
		trust:              func(string) float64 { return 0.5 },
		logger:             logger.Get().Named("resolver"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve scores the candidate against all entities of its category and
// produces an apply plan. An error means the store was unreachable and the
// run must abort; every data-quality outcome is a terminal plan instead.
func (r *Resolver) Resolve(ctx context.Context, cand model.Candidate) (model.Plan, error) {
	entities, err := r.lookup.CandidateMatches(ctx, cand.Category)
	if err != nil {
		return model.Plan{}, fmt.Errorf("lookup %s entities: %w", cand.Category, err)
	}

	var definite, ambiguous []scoredEntity
	for _, e := range entities {
		score := r.scorer.Score(cand, e)
		switch {
		case score >= r.matchThreshold:
			definite = append(definite, scoredEntity{entity: e, score: score})
		case score > r.ambiguousThreshold:
			ambiguous = append(ambiguous, scoredEntity{entity: e, score: score})
		}
	}

	switch {
	case len(definite) > 0:
		best := pickBest(definite)
		r.logger.Debug(ctx, "candidate matched",
			logger.String("name", cand.Name),
			logger.Int64("entity_id", best.entity.ID),
			logger.Float64("score", best.score),
		)
		return r.mergePlan(cand, best), nil

	case len(ambiguous) > 0:
		detail := ambiguousDetail(ambiguous)
		best := ambiguous[0] // ambiguousDetail sorts best-first
		r.logger.Debug(ctx, "candidate ambiguous",
			logger.String("name", cand.Name),
			logger.Int("contenders", len(ambiguous)),
		)
		return model.Plan{
			Decision: model.DecisionAmbiguous,
			Source: model.SourceDraft{
				URL:       cand.SourceURL,
				FetchedAt: cand.FetchedAt,
				RawName:   cand.Name,
				Decision:  model.DecisionAmbiguous,
				Score:     best.score,
				Detail:    detail,
			},
		}, nil

	default:
		return r.createPlan(cand), nil
	}
}

// pickBest applies the deterministic tie-break: highest score, then most
// recently updated entity, then lowest identifier.
func pickBest(scored []scoredEntity) scoredEntity {
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.entity.UpdatedAt.Equal(b.entity.UpdatedAt) {
			return a.entity.UpdatedAt.After(b.entity.UpdatedAt)
		}
		return a.entity.ID < b.entity.ID
	})
	return scored[0]
}

// createPlan allocates a new entity with the candidate's fields as its
// initial state and the candidate's name as its sole, primary alias.
func (r *Resolver) createPlan(cand model.Candidate) model.Plan {
	trust := r.trust(cand.SourceHost)
	prov := model.FieldProvenance{SourceURL: cand.SourceURL, Trust: trust, FetchedAt: cand.FetchedAt}

	entity := &model.Entity{
		Category:   cand.Category,
		Name:       cand.Name,
		LengthM:    cand.LengthM,
		Builder:    cand.Builder,
		BuildYear:  cand.BuildYear,
		Confidence: 1,
		Provenance: map[string]model.FieldProvenance{},
	}
	if cand.LengthM > 0 {
		entity.Provenance["length_m"] = prov
	}
	if cand.BuildYear > 0 {
		entity.Provenance["build_year"] = prov
	}
	if cand.Builder != "" {
		entity.Provenance["builder"] = prov
	}

	plan := model.Plan{
		Decision: model.DecisionCreated,
		Created:  entity,
		Source: model.SourceDraft{
			URL:       cand.SourceURL,
			FetchedAt: cand.FetchedAt,
			RawName:   cand.Name,
			Decision:  model.DecisionCreated,
		},
	}
	if cand.Name != "" {
		plan.NewAlias = &model.AliasDraft{Alias: cand.Name, SourceURL: cand.SourceURL, Seen: cand.FetchedAt}
		plan.PromoteName = true
	}
	return plan
}

// ambiguousDetail serializes the contender scores for later re-resolution.
func ambiguousDetail(scored []scoredEntity) string {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].entity.ID < scored[j].entity.ID
	})
	type contender struct {
		EntityID int64   `json:"entity_id"`
		Score    float64 `json:"score"`
	}
	out := make([]contender, len(scored))
	for i, s := range scored {
		out[i] = contender{EntityID: s.entity.ID, Score: s.score}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}
