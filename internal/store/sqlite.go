// Package store persists per-entity alert state in SQLite with upsert
// semantics. One row per entity plus one row per (entity, alert kind)
// cooldown timestamp; the alert state machine is the only writer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/river-alert-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entity_state (
	entity_id        TEXT PRIMARY KEY,
	last_level       REAL,
	last_flow        REAL,
	last_status      TEXT NOT NULL DEFAULT '',
	last_in_range    INTEGER NOT NULL DEFAULT 0,
	last_observed_at TIMESTAMP,
	last_seen_at     TIMESTAMP,
	updated_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_alert (
	entity_id     TEXT NOT NULL,
	kind          TEXT NOT NULL,
	last_alert_at TIMESTAMP NOT NULL,
	PRIMARY KEY (entity_id, kind)
);`

// SQLite is the durable state store. Safe for concurrent use; SQLite
// serializes writers and WAL keeps readers unblocked.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the state database at path. WAL
// with NORMAL synchronous survives process crashes; a full host crash
// can lose at most the last cycle's write, which the next cycle
// regenerates.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get loads the state row for an entity. The second return is false when
// the entity has never been persisted; callers treat that as a fresh
// zero state rather than an error.
func (s *SQLite) Get(ctx context.Context, entityID string) (domain.EntityState, bool, error) {
	var (
		state      domain.EntityState
		level      sql.NullFloat64
		flow       sql.NullFloat64
		observedAt sql.NullTime
		seenAt     sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, last_level, last_flow, last_status, last_in_range,
		       last_observed_at, last_seen_at, updated_at
		FROM entity_state WHERE entity_id = ?`, entityID).Scan(
		&state.EntityID, &level, &flow, &state.LastStatus, &state.LastInRange,
		&observedAt, &seenAt, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.EntityState{}, false, nil
	}
	if err != nil {
		return domain.EntityState{}, false, fmt.Errorf("load state for %s: %w", entityID, err)
	}

	if level.Valid {
		state.LastLevel = &level.Float64
	}
	if flow.Valid {
		state.LastFlow = &flow.Float64
	}
	if observedAt.Valid {
		state.LastObservedAt = observedAt.Time.UTC()
	}
	if seenAt.Valid {
		state.LastSeenAt = seenAt.Time.UTC()
	}
	state.UpdatedAt = state.UpdatedAt.UTC()

	state.LastAlertAt, err = s.loadAlertTimes(ctx, entityID)
	if err != nil {
		return domain.EntityState{}, false, err
	}

	return state, true, nil
}

func (s *SQLite) loadAlertTimes(ctx context.Context, entityID string) (map[domain.AlertKind]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, last_alert_at FROM entity_alert WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("load alert times for %s: %w", entityID, err)
	}
	defer rows.Close()

	alerts := make(map[domain.AlertKind]time.Time)
	for rows.Next() {
		var (
			kind string
			at   time.Time
		)
		if err := rows.Scan(&kind, &at); err != nil {
			return nil, fmt.Errorf("scan alert time for %s: %w", entityID, err)
		}
		alerts[domain.AlertKind(kind)] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert times for %s: %w", entityID, err)
	}
	return alerts, nil
}

// Put upserts the full state record in one transaction so a crash
// between the state row and the cooldown rows cannot split them.
func (s *SQLite) Put(ctx context.Context, state domain.EntityState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_state
			(entity_id, last_level, last_flow, last_status, last_in_range,
			 last_observed_at, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			last_level       = excluded.last_level,
			last_flow        = excluded.last_flow,
			last_status      = excluded.last_status,
			last_in_range    = excluded.last_in_range,
			last_observed_at = excluded.last_observed_at,
			last_seen_at     = excluded.last_seen_at,
			updated_at       = excluded.updated_at`,
		state.EntityID, nullFloat(state.LastLevel), nullFloat(state.LastFlow),
		state.LastStatus, state.LastInRange,
		nullTime(state.LastObservedAt), nullTime(state.LastSeenAt), state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert state for %s: %w", state.EntityID, err)
	}

	for kind, at := range state.LastAlertAt {
		if at.IsZero() {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_alert (entity_id, kind, last_alert_at)
			VALUES (?, ?, ?)
			ON CONFLICT(entity_id, kind) DO UPDATE SET
				last_alert_at = excluded.last_alert_at`,
			state.EntityID, string(kind), at,
		)
		if err != nil {
			return fmt.Errorf("upsert alert time for %s/%s: %w", state.EntityID, kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state for %s: %w", state.EntityID, err)
	}
	return nil
}

// Touch records that a cycle ran for an entity without a usable reading.
// Last-known values and cooldowns stay untouched so staleness detection
// has an honest last_seen_at to compare against.
func (s *SQLite) Touch(ctx context.Context, entityID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_state (entity_id, last_seen_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			updated_at   = excluded.updated_at`,
		entityID, seenAt, seenAt,
	)
	if err != nil {
		return fmt.Errorf("touch state for %s: %w", entityID, err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
