package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
)

// MergeEntities absorbs one entity into another. The absorbed row is never
// deleted: it becomes a tombstone whose merged_into column redirects to the
// surviving entity. Aliases and events move to the survivor; an alias string
// the survivor already carries gets review-flagged on both rows, and events
// re-coalesce against the survivor's timeline.
func (s *Store) MergeEntities(ctx context.Context, fromID, intoID int64, reason string) error {
	if fromID == intoID {
		return fmt.Errorf("%w: cannot merge an entity into itself", ErrIntegrityViolation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()

	from, err := s.liveEntity(ctx, tx, fromID)
	if err != nil {
		return err
	}
	into, err := s.liveEntity(ctx, tx, intoID)
	if err != nil {
		return err
	}
	if from.Category != into.Category {
		return fmt.Errorf("%w: cannot merge %s into %s", ErrIntegrityViolation, from.Category, into.Category)
	}

	if err := s.moveAliases(ctx, tx, fromID, intoID, now); err != nil {
		return err
	}
	if err := s.moveEvents(ctx, tx, fromID, intoID); err != nil {
		return err
	}
	if err := s.fillAttributes(ctx, tx, from, into, now); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entities SET merged_into = ?, updated_at = ? WHERE id = ?`,
		intoID, fmtTime(now), fromID,
	)
	if err != nil {
		return s.classify(ctx, "tombstone entity", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_records (id, entity_id, url, fetched_at, raw_name, decision, score, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		uuid.NewString(), intoID, fmt.Sprintf("manual:merge/%d", fromID),
		fmtTime(now), from.Name, model.DecisionMerged, reason, fmtTime(now),
	)
	if err != nil {
		return s.classify(ctx, "append merge record", err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify(ctx, "commit merge", err)
	}

	s.logger.Info(ctx, "entities merged",
		logger.Int64("from", fromID),
		logger.Int64("into", intoID),
		logger.String("reason", reason),
	)
	return nil
}

// liveEntity loads an entity inside the transaction and rejects tombstones.
func (s *Store) liveEntity(ctx context.Context, tx *sql.Tx, id int64) (model.Entity, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, category, name, length_m, builder, build_year, confidence, merged_into, attr_provenance, created_at, updated_at
		FROM entities WHERE id = ?`,
		id,
	)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return e, s.classify(ctx, "load entity", err)
	}
	if e.MergedInto != 0 {
		return e, fmt.Errorf("%w: id %d", ErrTombstone, id)
	}
	return e, nil
}

// moveAliases reassigns the absorbed entity's aliases to the survivor.
// A string the survivor already carries stays on the tombstone and both
// rows get flagged for review.
func (s *Store) moveAliases(ctx context.Context, tx *sql.Tx, fromID, intoID int64, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, alias, last_seen FROM aliases WHERE entity_id = ?`, fromID)
	if err != nil {
		return s.classify(ctx, "load merge aliases", err)
	}

	type moved struct {
		id       int64
		alias    string
		lastSeen string
	}
	var all []moved
	for rows.Next() {
		var m moved
		if err := rows.Scan(&m.id, &m.alias, &m.lastSeen); err != nil {
			rows.Close()
			return s.classify(ctx, "scan merge alias", err)
		}
		all = append(all, m)
	}
	if err := closeRows(rows); err != nil {
		return s.classify(ctx, "load merge aliases", err)
	}

	for _, m := range all {
		var claimed int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM aliases WHERE entity_id = ? AND alias = ?`,
			intoID, m.alias,
		).Scan(&claimed)
		if err != nil {
			return s.classify(ctx, "check merge alias", err)
		}

		if claimed > 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE aliases SET review_flag = 1 WHERE id = ? OR (entity_id = ? AND alias = ?)`,
				m.id, intoID, m.alias,
			)
			if err != nil {
				return s.classify(ctx, "flag merge alias", err)
			}
			continue
		}

		// The survivor keeps its own primary name.
		_, err = tx.ExecContext(ctx,
			`UPDATE aliases SET entity_id = ?, is_primary = 0, last_seen = ? WHERE id = ?`,
			intoID, maxSeen(m.lastSeen, now), m.id,
		)
		if err != nil {
			return s.classify(ctx, "move alias", err)
		}
	}
	return nil
}

// moveEvents reassigns the absorbed entity's events, re-coalescing each
// against the survivor's timeline so merged histories do not duplicate.
func (s *Store) moveEvents(ctx context.Context, tx *sql.Tx, fromID, intoID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, entity_id, type, earliest, latest, fact, fact_hash, created_at
		FROM events WHERE entity_id = ? ORDER BY id`,
		fromID,
	)
	if err != nil {
		return s.classify(ctx, "load merge events", err)
	}

	var moving []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return s.classify(ctx, "scan merge event", err)
		}
		moving = append(moving, e)
	}
	if err := closeRows(rows); err != nil {
		return s.classify(ctx, "load merge events", err)
	}

	for _, e := range moving {
		existing, err := s.eventsByType(ctx, tx, intoID, e.Type)
		if err != nil {
			return err
		}

		draft := model.EventDraft{Type: e.Type, Earliest: e.Earliest, Latest: e.Latest, Fact: e.Fact}
		hit, ok := s.timeline.Coalesce(existing, draft)
		if !ok {
			_, err = tx.ExecContext(ctx,
				`UPDATE events SET entity_id = ? WHERE id = ?`, intoID, e.ID)
			if err != nil {
				return s.classify(ctx, "move event", err)
			}
			continue
		}

		// Duplicate occurrence: widen the survivor's bound, move the source
		// links over, drop the absorbed row.
		earliest, latest := timeline.Extend(hit, draft)
		_, err = tx.ExecContext(ctx,
			`UPDATE events SET earliest = ?, latest = ? WHERE id = ?`,
			fmtTime(earliest), fmtTime(latest), hit.ID,
		)
		if err != nil {
			return s.classify(ctx, "extend merge event", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO event_sources (event_id, source_url)
			SELECT ?, source_url FROM event_sources WHERE event_id = ?`,
			hit.ID, e.ID,
		)
		if err != nil {
			return s.classify(ctx, "move event sources", err)
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM event_sources WHERE event_id = ?`, e.ID); err != nil {
			return s.classify(ctx, "clear event sources", err)
		}
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM events WHERE id = ?`, e.ID); err != nil {
			return s.classify(ctx, "drop merged event", err)
		}
	}
	return nil
}

// fillAttributes copies attributes the survivor lacks from the absorbed
// entity, provenance included, and keeps the higher confidence.
func (s *Store) fillAttributes(ctx context.Context, tx *sql.Tx, from, into model.Entity, now time.Time) error {
	changed := false
	prov := into.Provenance
	if prov == nil {
		prov = make(map[string]model.FieldProvenance)
	}

	copyProv := func(field string) {
		if p, ok := from.Provenance[field]; ok {
			prov[field] = p
		}
	}

	if into.LengthM == 0 && from.LengthM != 0 {
		into.LengthM = from.LengthM
		copyProv("length_m")
		changed = true
	}
	if into.BuildYear == 0 && from.BuildYear != 0 {
		into.BuildYear = from.BuildYear
		copyProv("build_year")
		changed = true
	}
	if into.Builder == "" && from.Builder != "" {
		into.Builder = from.Builder
		copyProv("builder")
		changed = true
	}
	if from.Confidence > into.Confidence {
		into.Confidence = from.Confidence
		changed = true
	}

	if !changed {
		return nil
	}

	encoded, err := json.Marshal(prov)
	if err != nil {
		return fmt.Errorf("%w: encode provenance: %w", ErrIntegrityViolation, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE entities
		SET length_m = ?, builder = ?, build_year = ?, confidence = ?, attr_provenance = ?, updated_at = ?
		WHERE id = ?`,
		nullFloat(into.LengthM), nullString(into.Builder), nullInt(into.BuildYear),
		into.Confidence, string(encoded), fmtTime(now), into.ID,
	)
	if err != nil {
		return s.classify(ctx, "fill attributes", err)
	}
	return nil
}

func maxSeen(recorded string, now time.Time) string {
	if t := parseTime(recorded); t.After(now) {
		return recorded
	}
	return fmtTime(now)
}
