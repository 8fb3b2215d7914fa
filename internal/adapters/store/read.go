package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fathomline/regatta/internal/domain/model"
)

// CandidateMatches returns all live entities of one category with their
// aliases loaded, ready for scoring. Tombstoned rows are excluded; a merge
// target carries the absorbed entity's aliases already.
func (s *Store) CandidateMatches(ctx context.Context, category model.Category) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, name, length_m, builder, build_year, confidence, merged_into, attr_provenance, created_at, updated_at
		FROM entities
		WHERE category = ? AND merged_into IS NULL
		ORDER BY id`,
		category,
	)
	if err != nil {
		return nil, s.classify(ctx, "load candidates", err)
	}
	defer rows.Close()

	var entities []model.Entity
	index := make(map[int64]int)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, s.classify(ctx, "scan entity", err)
		}
		index[e.ID] = len(entities)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, "load candidates", err)
	}
	if len(entities) == 0 {
		return nil, nil
	}

	arows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.entity_id, a.alias, a.is_primary, a.review_flag, a.source_url, a.first_seen, a.last_seen
		FROM aliases a
		JOIN entities e ON e.id = a.entity_id
		WHERE e.category = ? AND e.merged_into IS NULL
		ORDER BY a.id`,
		category,
	)
	if err != nil {
		return nil, s.classify(ctx, "load aliases", err)
	}
	defer arows.Close()

	for arows.Next() {
		a, err := scanAlias(arows)
		if err != nil {
			return nil, s.classify(ctx, "scan alias", err)
		}
		if i, ok := index[a.EntityID]; ok {
			entities[i].Aliases = append(entities[i].Aliases, a)
		}
	}
	if err := arows.Err(); err != nil {
		return nil, s.classify(ctx, "load aliases", err)
	}

	return entities, nil
}

// Entity loads one entity by id with aliases, following no redirects.
func (s *Store) Entity(ctx context.Context, id int64) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, name, length_m, builder, build_year, confidence, merged_into, attr_provenance, created_at, updated_at
		FROM entities WHERE id = ?`,
		id,
	)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return model.Entity{}, s.classify(ctx, "load entity", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, alias, is_primary, review_flag, source_url, first_seen, last_seen
		FROM aliases WHERE entity_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return model.Entity{}, s.classify(ctx, "load aliases", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return model.Entity{}, s.classify(ctx, "scan alias", err)
		}
		e.Aliases = append(e.Aliases, a)
	}
	if err := rows.Err(); err != nil {
		return model.Entity{}, s.classify(ctx, "load aliases", err)
	}
	return e, nil
}

// ReadAll reads a consistent snapshot of the full registry in one read
// transaction, for the export projector.
func (s *Store) ReadAll(ctx context.Context) (model.Dataset, error) {
	var ds model.Dataset

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return ds, s.classify(ctx, "begin snapshot", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	rows, err := tx.QueryContext(ctx, `
		SELECT id, category, name, length_m, builder, build_year, confidence, merged_into, attr_provenance, created_at, updated_at
		FROM entities ORDER BY id`)
	if err != nil {
		return ds, s.classify(ctx, "snapshot entities", err)
	}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return ds, s.classify(ctx, "scan entity", err)
		}
		ds.Entities = append(ds.Entities, e)
	}
	if err := closeRows(rows); err != nil {
		return ds, s.classify(ctx, "snapshot entities", err)
	}

	arows, err := tx.QueryContext(ctx, `
		SELECT id, entity_id, alias, is_primary, review_flag, source_url, first_seen, last_seen
		FROM aliases ORDER BY id`)
	if err != nil {
		return ds, s.classify(ctx, "snapshot aliases", err)
	}
	for arows.Next() {
		a, err := scanAlias(arows)
		if err != nil {
			arows.Close()
			return ds, s.classify(ctx, "scan alias", err)
		}
		ds.Aliases = append(ds.Aliases, a)
	}
	if err := closeRows(arows); err != nil {
		return ds, s.classify(ctx, "snapshot aliases", err)
	}

	erows, err := tx.QueryContext(ctx, `
		SELECT id, entity_id, type, earliest, latest, fact, fact_hash, created_at
		FROM events ORDER BY id`)
	if err != nil {
		return ds, s.classify(ctx, "snapshot events", err)
	}
	eventIndex := make(map[int64]int)
	for erows.Next() {
		e, err := scanEvent(erows)
		if err != nil {
			erows.Close()
			return ds, s.classify(ctx, "scan event", err)
		}
		eventIndex[e.ID] = len(ds.Events)
		ds.Events = append(ds.Events, e)
	}
	if err := closeRows(erows); err != nil {
		return ds, s.classify(ctx, "snapshot events", err)
	}

	srows, err := tx.QueryContext(ctx,
		`SELECT event_id, source_url FROM event_sources ORDER BY event_id, source_url`)
	if err != nil {
		return ds, s.classify(ctx, "snapshot event sources", err)
	}
	for srows.Next() {
		var eventID int64
		var url string
		if err := srows.Scan(&eventID, &url); err != nil {
			srows.Close()
			return ds, s.classify(ctx, "scan event source", err)
		}
		if i, ok := eventIndex[eventID]; ok {
			ds.Events[i].Sources = append(ds.Events[i].Sources, url)
		}
	}
	if err := closeRows(srows); err != nil {
		return ds, s.classify(ctx, "snapshot event sources", err)
	}

	rrows, err := tx.QueryContext(ctx, `
		SELECT id, entity_id, url, fetched_at, raw_name, decision, score, detail, created_at
		FROM source_records ORDER BY created_at, id`)
	if err != nil {
		return ds, s.classify(ctx, "snapshot source records", err)
	}
	for rrows.Next() {
		var (
			r        model.SourceRecord
			entityID sql.NullInt64
			score    sql.NullFloat64
			fetched  string
			created  string
		)
		if err := rrows.Scan(&r.ID, &entityID, &r.URL, &fetched, &r.RawName, &r.Decision, &score, &r.Detail, &created); err != nil {
			rrows.Close()
			return ds, s.classify(ctx, "scan source record", err)
		}
		r.EntityID = entityID.Int64
		r.Score = score.Float64
		r.FetchedAt = parseTime(fetched)
		r.CreatedAt = parseTime(created)
		ds.Sources = append(ds.Sources, r)
	}
	if err := closeRows(rrows); err != nil {
		return ds, s.classify(ctx, "snapshot source records", err)
	}

	return ds, nil
}

// QualityReport is the post-run data quality summary.
type QualityReport struct {
	NonPositiveLength    int // length recorded but not a plausible measurement
	MissingLengthAndYear int // neither length nor build year known
}

// Quality computes the data quality counters over live entities.
func (s *Store) Quality(ctx context.Context) (QualityReport, error) {
	var q QualityReport

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE merged_into IS NULL AND length_m IS NOT NULL AND length_m <= 0`,
	).Scan(&q.NonPositiveLength)
	if err != nil {
		return q, s.classify(ctx, "quality length", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE merged_into IS NULL AND length_m IS NULL AND build_year IS NULL`,
	).Scan(&q.MissingLengthAndYear)
	if err != nil {
		return q, s.classify(ctx, "quality completeness", err)
	}

	return q, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (model.Entity, error) {
	var (
		e       model.Entity
		length  sql.NullFloat64
		builder sql.NullString
		year    sql.NullInt64
		merged  sql.NullInt64
		prov    string
		created string
		updated string
	)
	err := row.Scan(&e.ID, &e.Category, &e.Name, &length, &builder, &year, &e.Confidence, &merged, &prov, &created, &updated)
	if err != nil {
		return e, err
	}
	e.LengthM = length.Float64
	e.Builder = builder.String
	e.BuildYear = int(year.Int64)
	e.MergedInto = merged.Int64
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	if prov != "" && prov != "{}" {
		if err := json.Unmarshal([]byte(prov), &e.Provenance); err != nil {
			return e, fmt.Errorf("decode provenance for entity %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func scanAlias(row rowScanner) (model.Alias, error) {
	var (
		a       model.Alias
		primary int
		review  int
		first   string
		last    string
	)
	err := row.Scan(&a.ID, &a.EntityID, &a.Alias, &primary, &review, &a.SourceURL, &first, &last)
	if err != nil {
		return a, err
	}
	a.IsPrimary = primary != 0
	a.ReviewFlag = review != 0
	a.FirstSeen = parseTime(first)
	a.LastSeen = parseTime(last)
	return a, nil
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e        model.Event
		earliest string
		latest   string
		fact     string
		created  string
	)
	err := row.Scan(&e.ID, &e.EntityID, &e.Type, &earliest, &latest, &fact, &e.FactHash, &created)
	if err != nil {
		return e, err
	}
	e.Earliest = parseTime(earliest)
	e.Latest = parseTime(latest)
	e.CreatedAt = parseTime(created)
	if fact != "" {
		if err := json.Unmarshal([]byte(fact), &e.Fact); err != nil {
			return e, fmt.Errorf("decode fact for event %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
