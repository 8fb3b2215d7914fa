package store

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fathomline/regatta/internal/domain/model"
)

func TestMergeEntities(t *testing.T) {
	Convey("Given a store with two yachts that turn out to be one", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		day1 := utcDay("2024-03-01")
		day2 := utcDay("2024-03-02")

		first := createPlan("https://yachtspy.example/sea-breeze", day1)
		resA, err := s.ApplyResolution(ctx, first)
		So(err, ShouldBeNil)

		second := createPlan("https://registry.example/seabreeze", day2)
		second.Created.Name = "Seabreeze"
		second.Created.BuildYear = 0
		second.NewAlias.Alias = "Seabreeze"
		second.Events = []model.EventDraft{{
			Type:     model.EventSighting,
			Earliest: day2,
			Latest:   day2,
			Fact:     map[string]string{"name": "sea breeze", "length_m": "45.2"},
		}}
		resB, err := s.ApplyResolution(ctx, second)
		So(err, ShouldBeNil)

		Convey("When merging the duplicate into the original", func() {
			err := s.MergeEntities(ctx, resB.EntityID, resA.EntityID, "same hull, registry spelling")

			Convey("Then the absorbed row becomes a redirecting tombstone", func() {
				So(err, ShouldBeNil)

				tomb, err := s.Entity(ctx, resB.EntityID)
				So(err, ShouldBeNil)
				So(tomb.MergedInto, ShouldEqual, resA.EntityID)
				So(tableCount(t, s, "entities"), ShouldEqual, 2)
			})

			Convey("Then the alias now belongs to the survivor, not as primary", func() {
				So(err, ShouldBeNil)

				e, err := s.Entity(ctx, resA.EntityID)
				So(err, ShouldBeNil)
				So(e.Aliases, ShouldHaveLength, 2)
				for _, a := range e.Aliases {
					So(a.IsPrimary, ShouldEqual, a.Alias == "Sea Breeze")
				}
			})

			Convey("Then matching events coalesced into one row", func() {
				So(err, ShouldBeNil)

				ds, err := s.ReadAll(ctx)
				So(err, ShouldBeNil)
				So(ds.Events, ShouldHaveLength, 1)
				So(ds.Events[0].EntityID, ShouldEqual, resA.EntityID)
				So(ds.Events[0].Earliest, ShouldEqual, day1)
				So(ds.Events[0].Latest, ShouldEqual, day2)
				So(ds.Events[0].Sources, ShouldHaveLength, 2)
			})

			Convey("Then a merge audit record was appended", func() {
				So(err, ShouldBeNil)

				ds, err := s.ReadAll(ctx)
				So(err, ShouldBeNil)

				var merged int
				for _, r := range ds.Sources {
					if r.Decision == model.DecisionMerged {
						merged++
						So(r.EntityID, ShouldEqual, resA.EntityID)
						So(r.Detail, ShouldEqual, "same hull, registry spelling")
					}
				}
				So(merged, ShouldEqual, 1)
			})

			Convey("Then the tombstone no longer appears in candidate lookups", func() {
				So(err, ShouldBeNil)

				live, err := s.CandidateMatches(ctx, model.CategoryYacht)
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 1)
				So(live[0].ID, ShouldEqual, resA.EntityID)
			})

			Convey("Then merging into the tombstone is refused", func() {
				So(err, ShouldBeNil)

				third := createPlan("https://yachtspy.example/other", day1)
				third.Created.Name = "Odyssey"
				third.NewAlias.Alias = "Odyssey"
				third.Events = nil
				resC, err := s.ApplyResolution(ctx, third)
				So(err, ShouldBeNil)

				So(s.MergeEntities(ctx, resC.EntityID, resB.EntityID, "x"), ShouldWrap, ErrTombstone)
			})
		})

		Convey("When the survivor lacks an attribute the absorbed entity has", func() {
			// Strip the survivor's build year first.
			_, err := s.db.Exec(`UPDATE entities SET build_year = NULL WHERE id = ?`, resA.EntityID)
			So(err, ShouldBeNil)
			_, err = s.db.Exec(`UPDATE entities SET build_year = 2015 WHERE id = ?`, resB.EntityID)
			So(err, ShouldBeNil)

			So(s.MergeEntities(ctx, resB.EntityID, resA.EntityID, "fill"), ShouldBeNil)

			Convey("Then the attribute is carried over", func() {
				e, err := s.Entity(ctx, resA.EntityID)
				So(err, ShouldBeNil)
				So(e.BuildYear, ShouldEqual, 2015)
			})
		})

		Convey("When merging an entity into itself", func() {
			err := s.MergeEntities(ctx, resA.EntityID, resA.EntityID, "oops")

			Convey("Then the merge is refused", func() {
				So(err, ShouldWrap, ErrIntegrityViolation)
			})
		})

		Convey("When the ids do not exist", func() {
			err := s.MergeEntities(ctx, 404, resA.EntityID, "x")

			Convey("Then the merge reports not found", func() {
				So(err, ShouldWrap, ErrNotFound)
			})
		})
	})

	Convey("Given two entities of different categories", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		day1 := utcDay("2024-03-01")

		yacht := createPlan("https://yachtspy.example/sea-breeze", day1)
		yacht.Events = nil
		resY, err := s.ApplyResolution(ctx, yacht)
		So(err, ShouldBeNil)

		tender := createPlan("https://tenderlist.example/mischief", day1)
		tender.Created.Category = model.CategoryTender
		tender.Created.Name = "Mischief"
		tender.NewAlias.Alias = "Mischief"
		tender.Events = nil
		resT, err := s.ApplyResolution(ctx, tender)
		So(err, ShouldBeNil)

		Convey("When merging across categories", func() {
			err := s.MergeEntities(ctx, resT.EntityID, resY.EntityID, "x")

			Convey("Then the merge is refused", func() {
				So(err, ShouldWrap, ErrIntegrityViolation)
			})
		})
	})
}

func TestQuality(t *testing.T) {
	Convey("Given entities with weak data", t, func() {
		s := openTestStore(t)
		ctx := context.Background()
		day1 := utcDay("2024-03-01")

		good := createPlan("https://yachtspy.example/a", day1)
		good.Events = nil
		_, err := s.ApplyResolution(ctx, good)
		So(err, ShouldBeNil)

		bare := createPlan("https://yachtspy.example/b", day1)
		bare.Created.Name = "Phantom"
		bare.Created.LengthM = 0
		bare.Created.BuildYear = 0
		bare.NewAlias.Alias = "Phantom"
		bare.Events = nil
		_, err = s.ApplyResolution(ctx, bare)
		So(err, ShouldBeNil)

		Convey("When computing the quality report", func() {
			q, err := s.Quality(ctx)

			Convey("Then the incomplete entity is counted", func() {
				So(err, ShouldBeNil)
				So(q.MissingLengthAndYear, ShouldEqual, 1)
				So(q.NonPositiveLength, ShouldEqual, 0)
			})
		})
	})
}
