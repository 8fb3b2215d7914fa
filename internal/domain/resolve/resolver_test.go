package resolve_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/resolve"
	"github.com/fathomline/regatta/internal/domain/scoring"
	"github.com/fathomline/regatta/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeLookup serves a fixed entity set per category.
type fakeLookup struct {
	entities map[model.Category][]model.Entity
	err      error
}

func (f *fakeLookup) CandidateMatches(_ context.Context, category model.Category) ([]model.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[category], nil
}

func seaBreeze() model.Entity {
	return model.Entity{
		ID:        1,
		Category:  model.CategoryYacht,
		Name:      "Sea Breeze",
		LengthM:   45.0,
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Provenance: map[string]model.FieldProvenance{
			"length_m": {SourceURL: "https://a.example.com/1", Trust: 0.5, FetchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		Aliases: []model.Alias{{ID: 1, EntityID: 1, Alias: "Sea Breeze", IsPrimary: true}},
	}
}

func yachtCandidate(name string, length float64, year int) model.Candidate {
	return model.Candidate{
		SourceURL:  "https://b.example.com/post",
		SourceHost: "b.example.com",
		FetchedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Category:   model.CategoryYacht,
		Name:       name,
		LengthM:    length,
		BuildYear:  year,
	}
}

func TestResolver(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	ctx := context.Background()

	Convey("Given a resolver over one known yacht", t, func() {
		lookup := &fakeLookup{entities: map[model.Category][]model.Entity{
			model.CategoryYacht: {seaBreeze()},
		}}
		resolver := resolve.New(lookup, scoring.New())

		Convey("When a close variant mention arrives", func() {
			plan, err := resolver.Resolve(ctx, yachtCandidate("Seabreeze", 45.2, 2015))

			Convey("Then it should match and plan a merge", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionMatched)
				So(plan.EntityID, ShouldEqual, 1)
				So(plan.Source.Decision, ShouldEqual, model.DecisionMatched)
				So(plan.Source.Score, ShouldBeGreaterThanOrEqualTo, 0.80)
			})

			Convey("Then the unseen name should become a new alias", func() {
				So(err, ShouldBeNil)
				So(plan.NewAlias, ShouldNotBeNil)
				So(plan.NewAlias.Alias, ShouldEqual, "Seabreeze")
			})

			Convey("Then the absent year should be filled from the candidate", func() {
				So(err, ShouldBeNil)
				So(plan.Updated, ShouldNotBeNil)
				So(plan.Updated.BuildYear, ShouldEqual, 2015)
				So(plan.Updated.Provenance["build_year"].SourceURL, ShouldEqual, "https://b.example.com/post")
			})
		})

		Convey("When an identical mention arrives twice", func() {
			e := seaBreeze()
			e.Aliases = append(e.Aliases, model.Alias{ID: 2, EntityID: 1, Alias: "Seabreeze"})
			lookup.entities[model.CategoryYacht] = []model.Entity{e}

			plan, err := resolver.Resolve(ctx, yachtCandidate("Seabreeze", 45.0, 0))

			Convey("Then the merge plan should carry no attribute change", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionMatched)
				So(plan.Updated, ShouldBeNil)
				So(plan.NewAlias, ShouldBeNil)
			})
		})

		Convey("When the length contradicts an exact name match", func() {
			plan, err := resolver.Resolve(ctx, yachtCandidate("Sea Breeze", 20.0, 0))

			Convey("Then the default bands should leave it ambiguous", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionAmbiguous)
				So(plan.Created, ShouldBeNil)
				So(plan.Source.Detail, ShouldContainSubstring, `"entity_id":1`)
			})

			Convey("And a raised no-match bound should create instead", func() {
				strict := resolve.New(lookup, scoring.New(), resolve.WithThresholds(0.80, 0.70))
				plan, err := strict.Resolve(ctx, yachtCandidate("Sea Breeze", 20.0, 0))
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionCreated)
				So(plan.Created, ShouldNotBeNil)
			})
		})

		Convey("When a tender shares the yacht's name", func() {
			cand := yachtCandidate("Sea Breeze", 45.0, 0)
			cand.Category = model.CategoryTender

			plan, err := resolver.Resolve(ctx, cand)

			Convey("Then the category gate should force creation", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionCreated)
				So(plan.Created.Category, ShouldEqual, model.CategoryTender)
			})
		})

		Convey("When an unknown vessel arrives", func() {
			plan, err := resolver.Resolve(ctx, yachtCandidate("Octopus", 126.0, 2003))

			Convey("Then a create plan should carry the initial state", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionCreated)
				So(plan.Created.Name, ShouldEqual, "Octopus")
				So(plan.Created.Confidence, ShouldEqual, 1)
				So(plan.NewAlias.Alias, ShouldEqual, "Octopus")
				So(plan.PromoteName, ShouldBeTrue)
			})
		})

		Convey("When the store is unreachable", func() {
			lookup.err = errors.New("database locked")

			_, err := resolver.Resolve(ctx, yachtCandidate("Sea Breeze", 45.0, 0))

			Convey("Then the error should propagate to abort the run", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given two definite matches with tied scores", t, func() {
		older := seaBreeze()
		newer := seaBreeze()
		newer.ID = 2
		newer.Aliases = []model.Alias{{ID: 3, EntityID: 2, Alias: "Sea Breeze", IsPrimary: true}}
		newer.UpdatedAt = older.UpdatedAt.Add(24 * time.Hour)

		lookup := &fakeLookup{entities: map[model.Category][]model.Entity{
			model.CategoryYacht: {older, newer},
		}}
		resolver := resolve.New(lookup, scoring.New())

		Convey("When a matching mention arrives", func() {
			plan, err := resolver.Resolve(ctx, yachtCandidate("Sea Breeze", 45.0, 0))

			Convey("Then the most recently updated entity should win", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionMatched)
				So(plan.EntityID, ShouldEqual, 2)
			})
		})
	})

	Convey("Given higher trust recorded for the established length", t, func() {
		trusted := seaBreeze()
		prov := trusted.Provenance["length_m"]
		prov.Trust = 0.9
		trusted.Provenance["length_m"] = prov
		lookup := &fakeLookup{entities: map[model.Category][]model.Entity{
			model.CategoryYacht: {trusted},
		}}
		resolver := resolve.New(lookup, scoring.New())

		Convey("When a lower-trust source disagrees slightly on length", func() {
			plan, err := resolver.Resolve(ctx, yachtCandidate("Sea Breeze", 45.4, 0))

			Convey("Then the established value should be kept", func() {
				So(err, ShouldBeNil)
				So(plan.Decision, ShouldEqual, model.DecisionMatched)
				So(plan.Updated, ShouldBeNil)
			})
		})
	})
}
