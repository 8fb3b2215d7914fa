package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
	"github.com/fathomline/regatta/pkg/metrics"
)

// ApplyResult reports what one plan changed.
type ApplyResult struct {
	EntityID        int64
	EventsInserted  int
	EventsCoalesced int
}

// ApplyResolution applies one resolver plan in a single immediate
// transaction. Re-applying a plan derived from already-seen input leaves
// every table except source_records unchanged.
//
// Error contract: ErrIntegrityViolation means this candidate was rejected
// by a constraint and the run may continue; ErrApplyTimeout and
// ErrStoreUnavailable abort the run.
func (s *Store) ApplyResolution(ctx context.Context, plan model.Plan) (ApplyResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordApplyLatency(float64(time.Since(start).Milliseconds()))
	}()

	var res ApplyResult

	tx, err := s.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()

	switch plan.Decision {
	case model.DecisionCreated:
		res, err = s.applyCreate(ctx, tx, plan, now)
	case model.DecisionMatched:
		res, err = s.applyMatch(ctx, tx, plan, now)
	case model.DecisionAmbiguous, model.DecisionRejected:
		// Audit record only.
	default:
		return res, fmt.Errorf("%w: unknown decision %q", ErrIntegrityViolation, plan.Decision)
	}
	if err != nil {
		return ApplyResult{}, err
	}

	if err := s.appendSource(ctx, tx, res.EntityID, plan.Source, now); err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, s.classify(ctx, "commit", err)
	}
	return res, nil
}

// applyCreate inserts a brand-new entity with its primary alias and events.
func (s *Store) applyCreate(ctx context.Context, tx *sql.Tx, plan model.Plan, now time.Time) (ApplyResult, error) {
	var res ApplyResult

	e := plan.Created
	if e == nil {
		return res, fmt.Errorf("%w: created plan without entity state", ErrIntegrityViolation)
	}

	prov, err := json.Marshal(e.Provenance)
	if err != nil {
		return res, fmt.Errorf("%w: encode provenance: %w", ErrIntegrityViolation, err)
	}

	out, err := tx.ExecContext(ctx, `
		INSERT INTO entities (category, name, length_m, builder, build_year, confidence, attr_provenance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Category, e.Name, nullFloat(e.LengthM), nullString(e.Builder), nullInt(e.BuildYear),
		e.Confidence, string(prov), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return res, s.classify(ctx, "insert entity", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return res, s.classify(ctx, "insert entity", err)
	}
	res.EntityID = id

	if plan.NewAlias != nil {
		if err := s.upsertAlias(ctx, tx, id, *plan.NewAlias, true, now); err != nil {
			return res, err
		}
	}

	return s.applyEvents(ctx, tx, res, plan, now)
}

// applyMatch folds the candidate into an existing entity.
func (s *Store) applyMatch(ctx context.Context, tx *sql.Tx, plan model.Plan, now time.Time) (ApplyResult, error) {
	res := ApplyResult{EntityID: plan.EntityID}

	var merged sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT merged_into FROM entities WHERE id = ?`, plan.EntityID,
	).Scan(&merged)
	if errors.Is(err, sql.ErrNoRows) {
		return res, fmt.Errorf("%w: id %d", ErrNotFound, plan.EntityID)
	}
	if err != nil {
		return res, s.classify(ctx, "load entity", err)
	}
	if merged.Valid {
		return res, fmt.Errorf("%w: id %d", ErrTombstone, plan.EntityID)
	}

	if plan.Updated != nil {
		prov, err := json.Marshal(plan.Updated.Provenance)
		if err != nil {
			return res, fmt.Errorf("%w: encode provenance: %w", ErrIntegrityViolation, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE entities
			SET name = ?, length_m = ?, builder = ?, build_year = ?, attr_provenance = ?, updated_at = ?
			WHERE id = ?`,
			plan.Updated.Name, nullFloat(plan.Updated.LengthM), nullString(plan.Updated.Builder),
			nullInt(plan.Updated.BuildYear), string(prov), fmtTime(now), plan.EntityID,
		)
		if err != nil {
			return res, s.classify(ctx, "update entity", err)
		}
	}

	// Corroboration: confidence rises once per distinct source URL.
	if err := s.bumpConfidence(ctx, tx, plan.EntityID, plan.Source.URL, now); err != nil {
		return res, err
	}

	if plan.NewAlias != nil {
		if err := s.upsertAlias(ctx, tx, plan.EntityID, *plan.NewAlias, false, now); err != nil {
			return res, err
		}
	} else if plan.Source.RawName != "" {
		// Known alias seen again; freshen last_seen.
		if err := s.touchAlias(ctx, tx, plan.EntityID, plan.Source.RawName, now); err != nil {
			return res, err
		}
	}

	if plan.PromoteName {
		if err := s.promoteAlias(ctx, tx, plan.EntityID, plan.Updated, plan.NewAlias); err != nil {
			return res, err
		}
	}

	return s.applyEvents(ctx, tx, res, plan, now)
}

// applyEvents inserts or coalesces the plan's timeline drafts and links the
// source URL to each touched event.
func (s *Store) applyEvents(ctx context.Context, tx *sql.Tx, res ApplyResult, plan model.Plan, now time.Time) (ApplyResult, error) {
	for _, draft := range plan.Events {
		existing, err := s.eventsByType(ctx, tx, res.EntityID, draft.Type)
		if err != nil {
			return res, err
		}

		var eventID int64
		if hit, ok := s.timeline.Coalesce(existing, draft); ok {
			earliest, latest := timeline.Extend(hit, draft)
			if !earliest.Equal(hit.Earliest) || !latest.Equal(hit.Latest) {
				_, err = tx.ExecContext(ctx,
					`UPDATE events SET earliest = ?, latest = ? WHERE id = ?`,
					fmtTime(earliest), fmtTime(latest), hit.ID,
				)
				if err != nil {
					return res, s.classify(ctx, "extend event", err)
				}
			}
			eventID = hit.ID
			res.EventsCoalesced++
			metrics.RecordEventCoalesced()
		} else {
			fact, err := json.Marshal(draft.Fact)
			if err != nil {
				return res, fmt.Errorf("%w: encode fact: %w", ErrIntegrityViolation, err)
			}
			out, err := tx.ExecContext(ctx, `
				INSERT INTO events (entity_id, type, earliest, latest, fact, fact_hash, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				res.EntityID, draft.Type, fmtTime(draft.Earliest), fmtTime(draft.Latest),
				string(fact), timeline.FactHash(draft.Type, draft.Fact), fmtTime(now),
			)
			if err != nil {
				return res, s.classify(ctx, "insert event", err)
			}
			eventID, err = out.LastInsertId()
			if err != nil {
				return res, s.classify(ctx, "insert event", err)
			}
			res.EventsInserted++
			metrics.RecordEventInserted()
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_sources (event_id, source_url) VALUES (?, ?)`,
			eventID, plan.Source.URL,
		)
		if err != nil {
			return res, s.classify(ctx, "link event source", err)
		}
	}
	return res, nil
}

// upsertAlias inserts the alias or freshens last_seen when the entity
// already carries it. A string claimed by a different entity gets flagged
// for review on both rows.
func (s *Store) upsertAlias(ctx context.Context, tx *sql.Tx, entityID int64, draft model.AliasDraft, primary bool, now time.Time) error {
	var claimed int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM aliases WHERE alias = ? AND entity_id != ?`,
		draft.Alias, entityID,
	).Scan(&claimed)
	if err != nil {
		return s.classify(ctx, "check alias claims", err)
	}

	seen := draft.Seen
	if seen.IsZero() {
		seen = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO aliases (entity_id, alias, is_primary, review_flag, source_url, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, alias) DO UPDATE SET last_seen = excluded.last_seen`,
		entityID, draft.Alias, boolInt(primary), boolInt(claimed > 0),
		draft.SourceURL, fmtTime(seen), fmtTime(seen),
	)
	if err != nil {
		return s.classify(ctx, "upsert alias", err)
	}

	if claimed > 0 {
		s.logger.Warn(ctx, "alias claimed by multiple entities",
			logger.String("alias", draft.Alias),
			logger.Int64("entity_id", entityID),
		)
		_, err = tx.ExecContext(ctx,
			`UPDATE aliases SET review_flag = 1 WHERE alias = ?`, draft.Alias,
		)
		if err != nil {
			return s.classify(ctx, "flag alias claims", err)
		}
	}
	return nil
}

// touchAlias freshens last_seen for a known alias string.
func (s *Store) touchAlias(ctx context.Context, tx *sql.Tx, entityID int64, alias string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE aliases SET last_seen = ? WHERE entity_id = ? AND alias = ?`,
		fmtTime(now), entityID, alias,
	)
	if err != nil {
		return s.classify(ctx, "touch alias", err)
	}
	return nil
}

// promoteAlias flips is_primary flags so the entity's display name and its
// primary alias row agree.
func (s *Store) promoteAlias(ctx context.Context, tx *sql.Tx, entityID int64, updated *model.Entity, newAlias *model.AliasDraft) error {
	var name string
	switch {
	case newAlias != nil:
		name = newAlias.Alias
	case updated != nil:
		name = updated.Name
	default:
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE aliases SET is_primary = 0 WHERE entity_id = ? AND alias != ?`,
		entityID, name,
	); err != nil {
		return s.classify(ctx, "demote aliases", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE aliases SET is_primary = 1 WHERE entity_id = ? AND alias = ?`,
		entityID, name,
	); err != nil {
		return s.classify(ctx, "promote alias", err)
	}
	return nil
}

// bumpConfidence raises confidence when this source URL has not previously
// corroborated the entity.
func (s *Store) bumpConfidence(ctx context.Context, tx *sql.Tx, entityID int64, url string, now time.Time) error {
	var seen int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_records WHERE entity_id = ? AND url = ?`,
		entityID, url,
	).Scan(&seen)
	if err != nil {
		return s.classify(ctx, "check corroboration", err)
	}
	if seen > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entities SET confidence = confidence + 1, updated_at = ? WHERE id = ?`,
		fmtTime(now), entityID,
	)
	if err != nil {
		return s.classify(ctx, "bump confidence", err)
	}
	return nil
}

// appendSource writes the audit record. Always runs, whatever the decision.
func (s *Store) appendSource(ctx context.Context, tx *sql.Tx, entityID int64, draft model.SourceDraft, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO source_records (id, entity_id, url, fetched_at, raw_name, decision, score, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nullInt64(entityID), draft.URL, fmtTime(draft.FetchedAt),
		draft.RawName, draft.Decision, draft.Score, draft.Detail, fmtTime(now),
	)
	if err != nil {
		return s.classify(ctx, "append source record", err)
	}
	return nil
}

// eventsByType loads an entity's events of one type inside the transaction.
func (s *Store) eventsByType(ctx context.Context, tx *sql.Tx, entityID int64, t model.EventType) ([]model.Event, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, entity_id, type, earliest, latest, fact, fact_hash, created_at
		 FROM events WHERE entity_id = ? AND type = ?`,
		entityID, t,
	)
	if err != nil {
		return nil, s.classify(ctx, "load events", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, s.classify(ctx, "scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, "load events", err)
	}
	return out, nil
}

// classify maps a database error onto the store's error contract.
func (s *Store) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		metrics.RecordStoreError("timeout")
		return fmt.Errorf("%w: %s: %w", ErrApplyTimeout, op, ctx.Err())
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		metrics.RecordStoreError("constraint")
		return fmt.Errorf("%w: %s: %w", ErrIntegrityViolation, op, err)
	}

	metrics.RecordStoreError("unavailable")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}
