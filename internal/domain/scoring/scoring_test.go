package scoring_test

import (
	"testing"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func yachtEntity() model.Entity {
	return model.Entity{
		ID:       1,
		Category: model.CategoryYacht,
		Name:     "Sea Breeze",
		LengthM:  45.0,
		Aliases: []model.Alias{
			{EntityID: 1, Alias: "Sea Breeze", IsPrimary: true},
		},
	}
}

func TestWeightedScorer(t *testing.T) {
	Convey("Given a scorer with default weights", t, func() {
		scorer := scoring.New()

		Convey("When the candidate matches name and length", func() {
			cand := model.Candidate{
				Category:  model.CategoryYacht,
				Name:      "Seabreeze",
				NameKey:   "seabreeze",
				LengthM:   45.2,
				BuildYear: 2015,
			}
			score := scorer.Score(cand, yachtEntity())

			Convey("Then the score should clear the default match threshold", func() {
				So(score, ShouldBeGreaterThanOrEqualTo, 0.80)
			})

			Convey("And rescoring should be bit-identical", func() {
				So(scorer.Score(cand, yachtEntity()), ShouldEqual, score)
			})
		})

		Convey("When the length contradicts despite an exact name", func() {
			cand := model.Candidate{
				Category: model.CategoryYacht,
				Name:     "Sea Breeze",
				NameKey:  "sea breeze",
				LengthM:  20.0,
			}
			score := scorer.Score(cand, yachtEntity())

			Convey("Then the score should fall into the default ambiguous band", func() {
				So(score, ShouldBeLessThan, 0.80)
				So(score, ShouldBeGreaterThan, 0.45)
			})
		})

		Convey("When the categories differ", func() {
			cand := model.Candidate{
				Category: model.CategoryTender,
				Name:     "Sea Breeze",
				NameKey:  "sea breeze",
				LengthM:  45.0,
			}

			Convey("Then the score should be zero regardless of similarity", func() {
				So(scorer.Score(cand, yachtEntity()), ShouldEqual, 0)
			})
		})

		Convey("When the entity's primary name changed but an alias matches", func() {
			e := yachtEntity()
			e.Name = "Lady Aurora"
			e.Aliases = append(e.Aliases, model.Alias{EntityID: 1, Alias: "Sea Breeze"})
			cand := model.Candidate{
				Category: model.CategoryYacht,
				Name:     "Sea Breeze",
				NameKey:  "sea breeze",
				LengthM:  45.0,
			}

			Convey("Then the alias should keep the entity matchable", func() {
				So(scorer.Score(cand, e), ShouldBeGreaterThanOrEqualTo, 0.80)
			})
		})

		Convey("When length is absent on one side", func() {
			cand := model.Candidate{
				Category: model.CategoryYacht,
				Name:     "Sea Breeze",
				NameKey:  "sea breeze",
			}

			Convey("Then the length component should be neutral, not contradicting", func() {
				score := scorer.Score(cand, yachtEntity())
				So(score, ShouldBeGreaterThan, 0.45)
			})
		})

		Convey("When differing years are present on both sides", func() {
			e := yachtEntity()
			e.BuildYear = 2010
			cand := model.Candidate{
				Category:  model.CategoryYacht,
				Name:      "Sea Breeze",
				NameKey:   "sea breeze",
				LengthM:   45.0,
				BuildYear: 2015,
			}
			same := cand
			same.BuildYear = 2010

			Convey("Then a year disagreement should lower the score", func() {
				So(scorer.Score(cand, e), ShouldBeLessThan, scorer.Score(same, e))
			})
		})
	})

	Convey("Given custom length bands", t, func() {
		scorer := scoring.New(scoring.WithLengthBands(5.0, 30.0))

		Convey("Then a 10% difference should score between the bands", func() {
			cand := model.Candidate{
				Category: model.CategoryYacht,
				Name:     "Sea Breeze",
				NameKey:  "sea breeze",
				LengthM:  40.5, // 10% below 45.0
			}
			loose := scorer.Score(cand, yachtEntity())
			tight := scoring.New().Score(cand, yachtEntity())
			So(loose, ShouldBeGreaterThan, tight)
		})
	})
}

func TestNameSimilarity(t *testing.T) {
	Convey("Given name variants", t, func() {
		Convey("Then spacing variants should be near-identical", func() {
			So(scoring.NameSimilarity("Sea Breeze", "Seabreeze"), ShouldEqual, 1.0)
		})

		Convey("Then accents should not reduce similarity", func() {
			So(scoring.NameSimilarity("Lürssen", "Lurssen"), ShouldEqual, 1.0)
		})

		Convey("Then unrelated names should score low", func() {
			So(scoring.NameSimilarity("Sea Breeze", "Octopus"), ShouldBeLessThan, 0.4)
		})

		Convey("Then token reordering should keep a high overlap", func() {
			So(scoring.NameSimilarity("Breeze Sea", "Sea Breeze"), ShouldEqual, 1.0)
		})
	})
}
