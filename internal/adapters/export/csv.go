// Package export projects the registry into fixed-layout CSV files for
// downstream spreadsheet sync. Projection is read-only and deterministic:
// the same dataset always produces byte-identical files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/normalize"
	"github.com/fathomline/regatta/pkg/logger"
)

const timeFormat = time.RFC3339

// Column layouts are fixed; consumers key on position.
var (
	entityColumns = []string{"id", "category", "name", "length_m", "builder", "build_year", "confidence", "merged_into", "created_at", "updated_at"}
	aliasColumns  = []string{"id", "entity_id", "alias", "is_primary", "review_flag", "source_url", "first_seen", "last_seen"}
	eventColumns  = []string{"id", "entity_id", "type", "earliest", "latest", "fact", "sources"}
	tenderColumns = []string{"id", "name", "length_m", "paired_entity_id"}
	sourceColumns = []string{"id", "entity_id", "url", "fetched_at", "raw_name", "decision", "score"}
)

// Projector writes the CSV projection of a dataset snapshot.
type Projector struct {
	dir    string
	logger logger.Logger
}

// Option applies a configuration option to the Projector.
type Option func(*Projector)

// WithLogger sets a custom logger for the projector.
func WithLogger(l logger.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Projector writing into dir.
func New(dir string, opts ...Option) *Projector {
	p := &Projector{
		dir:    dir,
		logger: logger.Get().Named("export"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Export writes all projection files. Each file lands via temp-and-rename,
// so a failed run never leaves a torn file behind.
func (p *Projector) Export(ctx context.Context, ds model.Dataset) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	files := []struct {
		name string
		rows func() [][]string
	}{
		{"entities.csv", func() [][]string { return entityRows(ds) }},
		{"aliases.csv", func() [][]string { return aliasRows(ds) }},
		{"events.csv", func() [][]string { return eventRows(ds) }},
		{"tenders.csv", func() [][]string { return tenderRows(ds) }},
		{"sources.csv", func() [][]string { return sourceRows(ds) }},
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.writeFile(f.name, f.rows()); err != nil {
			return err
		}
		p.logger.Debug(ctx, "projection written", logger.String("file", f.name))
	}
	return nil
}

// writeFile writes one CSV atomically.
func (p *Projector) writeFile(name string, rows [][]string) error {
	final := filepath.Join(p.dir, name)
	tmp, err := os.CreateTemp(p.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func entityRows(ds model.Dataset) [][]string {
	rows := [][]string{entityColumns}
	for _, e := range sortedEntities(ds.Entities) {
		rows = append(rows, []string{
			formatID(e.ID),
			string(e.Category),
			e.Name,
			formatLength(e.LengthM),
			e.Builder,
			formatYear(e.BuildYear),
			strconv.Itoa(e.Confidence),
			formatOptionalID(e.MergedInto),
			formatTime(e.CreatedAt),
			formatTime(e.UpdatedAt),
		})
	}
	return rows
}

func aliasRows(ds model.Dataset) [][]string {
	aliases := append([]model.Alias(nil), ds.Aliases...)
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].ID < aliases[j].ID })

	rows := [][]string{aliasColumns}
	for _, a := range aliases {
		rows = append(rows, []string{
			formatID(a.ID),
			formatID(a.EntityID),
			a.Alias,
			formatBool(a.IsPrimary),
			formatBool(a.ReviewFlag),
			a.SourceURL,
			formatTime(a.FirstSeen),
			formatTime(a.LastSeen),
		})
	}
	return rows
}

func eventRows(ds model.Dataset) [][]string {
	events := append([]model.Event(nil), ds.Events...)
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	rows := [][]string{eventColumns}
	for _, e := range events {
		fact, err := json.Marshal(e.Fact)
		if err != nil {
			fact = []byte("{}")
		}
		sources := append([]string(nil), e.Sources...)
		sort.Strings(sources)

		rows = append(rows, []string{
			formatID(e.ID),
			formatID(e.EntityID),
			string(e.Type),
			formatTime(e.Earliest),
			formatTime(e.Latest),
			string(fact),
			joinSources(sources),
		})
	}
	return rows
}

// tenderRows lists live tenders with the yacht each one was last paired
// with, resolved by fold-key match of the pairing fact against yacht names
// and aliases in the same snapshot.
func tenderRows(ds model.Dataset) [][]string {
	yachtByKey := yachtKeyIndex(ds)

	rows := [][]string{tenderColumns}
	for _, e := range sortedEntities(ds.Entities) {
		if e.Category != model.CategoryTender || e.MergedInto != 0 {
			continue
		}

		paired := ""
		if fact := latestPairing(ds.Events, e.ID); fact != "" {
			if id, ok := yachtByKey[normalize.FoldKey(fact)]; ok {
				paired = formatID(id)
			}
		}

		rows = append(rows, []string{
			formatID(e.ID),
			e.Name,
			formatLength(e.LengthM),
			paired,
		})
	}
	return rows
}

func sourceRows(ds model.Dataset) [][]string {
	rows := [][]string{sourceColumns}
	for _, r := range ds.Sources {
		rows = append(rows, []string{
			r.ID,
			formatOptionalID(r.EntityID),
			r.URL,
			formatTime(r.FetchedAt),
			r.RawName,
			string(r.Decision),
			formatScore(r.Score),
		})
	}
	return rows
}

// yachtKeyIndex maps fold keys of live yacht names and aliases to ids.
// Earlier ids win collisions so the projection stays deterministic.
func yachtKeyIndex(ds model.Dataset) map[string]int64 {
	index := make(map[string]int64)
	claim := func(key string, id int64) {
		if key == "" {
			return
		}
		if prev, ok := index[key]; ok && prev <= id {
			return
		}
		index[key] = id
	}

	live := make(map[int64]bool)
	for _, e := range ds.Entities {
		if e.Category == model.CategoryYacht && e.MergedInto == 0 {
			live[e.ID] = true
			claim(normalize.FoldKey(e.Name), e.ID)
		}
	}
	for _, a := range ds.Aliases {
		if live[a.EntityID] {
			claim(normalize.FoldKey(a.Alias), a.EntityID)
		}
	}
	return index
}

// latestPairing returns the paired_with fact of the tender's most recent
// tender-pairing event, empty when it has none.
func latestPairing(events []model.Event, tenderID int64) string {
	var best model.Event
	found := false
	for _, e := range events {
		if e.EntityID != tenderID || e.Type != model.EventTenderPairing {
			continue
		}
		if !found || e.Latest.After(best.Latest) || (e.Latest.Equal(best.Latest) && e.ID > best.ID) {
			best = e
			found = true
		}
	}
	if !found {
		return ""
	}
	return best.Fact["paired_with"]
}

func sortedEntities(entities []model.Entity) []model.Entity {
	out := append([]model.Entity(nil), entities...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func joinSources(sources []string) string {
	out := ""
	for i, u := range sources {
		if i > 0 {
			out += "|"
		}
		out += u
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatOptionalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func formatLength(l float64) string {
	if l == 0 {
		return ""
	}
	return strconv.FormatFloat(l, 'f', 1, 64)
}

func formatYear(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

func formatScore(s float64) string {
	if s == 0 {
		return ""
	}
	return strconv.FormatFloat(s, 'f', 4, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}
