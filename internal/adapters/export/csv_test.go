package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

// fixtureDataset is a deterministic snapshot covering every projection
// shape: a corroborated yacht, a bare yacht, a paired tender and a
// tombstone redirecting to the first yacht.
func fixtureDataset() model.Dataset {
	return model.Dataset{
		Entities: []model.Entity{
			{
				ID: 1, Category: model.CategoryYacht, Name: "Sea Breeze",
				LengthM: 45.2, Builder: "Feadship", BuildYear: 2015, Confidence: 3,
				CreatedAt: day("2024-03-01"), UpdatedAt: day("2024-03-02"),
			},
			{
				ID: 2, Category: model.CategoryYacht, Name: "Odyssey", Confidence: 1,
				CreatedAt: day("2024-03-02"), UpdatedAt: day("2024-03-02"),
			},
			{
				ID: 3, Category: model.CategoryTender, Name: "Mischief",
				LengthM: 10.5, Confidence: 2,
				CreatedAt: day("2024-03-02"), UpdatedAt: day("2024-03-02"),
			},
			{
				ID: 4, Category: model.CategoryYacht, Name: "Sea Breaze",
				LengthM: 45.2, Confidence: 1, MergedInto: 1,
				CreatedAt: day("2024-03-01"), UpdatedAt: day("2024-03-03"),
			},
		},
		Aliases: []model.Alias{
			{
				ID: 1, EntityID: 1, Alias: "Sea Breeze", IsPrimary: true,
				SourceURL: "https://yachtspy.example/sea-breeze",
				FirstSeen: day("2024-03-01"), LastSeen: day("2024-03-02"),
			},
			{
				ID: 2, EntityID: 1, Alias: "Seabreeze",
				SourceURL: "https://registry.example/seabreeze",
				FirstSeen: day("2024-03-02"), LastSeen: day("2024-03-02"),
			},
			{
				ID: 3, EntityID: 3, Alias: "Mischief", IsPrimary: true,
				SourceURL: "https://tenderlist.example/mischief",
				FirstSeen: day("2024-03-02"), LastSeen: day("2024-03-02"),
			},
		},
		Events: []model.Event{
			{
				ID: 1, EntityID: 1, Type: model.EventSighting,
				Earliest: day("2024-03-01"), Latest: day("2024-03-02"),
				Fact: map[string]string{"name": "sea breeze", "length_m": "45.2"},
				Sources: []string{
					"https://yachtspy.example/sea-breeze",
					"https://registry.example/seabreeze",
				},
			},
			{
				ID: 2, EntityID: 3, Type: model.EventTenderPairing,
				Earliest: day("2024-03-02"), Latest: day("2024-03-02"),
				Fact:     map[string]string{"paired_with": "Seabreeze"},
				Sources:  []string{"https://tenderlist.example/mischief"},
			},
		},
		Sources: []model.SourceRecord{
			{
				ID:       "6f1c1866-5a0a-4f6d-9d0e-0c1d7a2b3c4d",
				EntityID: 1, URL: "https://yachtspy.example/sea-breeze",
				FetchedAt: day("2024-03-01"), RawName: "Sea Breeze",
				Decision: model.DecisionCreated,
			},
			{
				ID:       "9b2d2977-6b1b-5e7e-ae1f-1d2e8b3c4d5e",
				EntityID: 1, URL: "https://registry.example/seabreeze",
				FetchedAt: day("2024-03-02"), RawName: "SEABREEZE",
				Decision: model.DecisionMatched, Score: 0.9132,
			},
		},
	}
}

func TestExport_Golden(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)

	if err := p.Export(context.Background(), fixtureDataset()); err != nil {
		t.Fatalf("export: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, name := range []string{"entities.csv", "aliases.csv", "events.csv", "tenders.csv", "sources.csv"} {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		g.Assert(t, name, content)
	}
}

func TestExport_Deterministic(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	if err := New(dirA).Export(context.Background(), fixtureDataset()); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := New(dirB).Export(context.Background(), fixtureDataset()); err != nil {
		t.Fatalf("second export: %v", err)
	}

	for _, name := range []string{"entities.csv", "aliases.csv", "events.csv", "tenders.csv", "sources.csv"} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(a) != string(b) {
			t.Errorf("%s differs between identical exports", name)
		}
	}
}

func TestExport_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()

	if err := New(dir).Export(context.Background(), fixtureDataset()); err != nil {
		t.Fatalf("export: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 5 {
		for _, e := range entries {
			t.Logf("found: %s", e.Name())
		}
		t.Errorf("expected exactly 5 files, got %d", len(entries))
	}
}

func TestTenderPairing_UnresolvedName(t *testing.T) {
	ds := fixtureDataset()
	ds.Events[1].Fact["paired_with"] = "Unknown Mothership"

	rows := tenderRows(ds)
	if len(rows) != 2 {
		t.Fatalf("expected header plus one tender, got %d rows", len(rows))
	}
	if got := rows[1][3]; got != "" {
		t.Errorf("expected empty paired_entity_id for unknown name, got %q", got)
	}
}
