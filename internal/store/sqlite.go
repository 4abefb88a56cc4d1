package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/headline-goat/splitpage/internal/clientstore"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS cookies (
    visitor_id TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (visitor_id, name)
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    site_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    experiment INTEGER NOT NULL DEFAULT 0,
    alternative INTEGER NOT NULL DEFAULT 0,
    goal INTEGER,
    heatmap INTEGER NOT NULL DEFAULT 0,
    unique_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    received_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_site ON events(site_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(site_id, experiment, kind);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadJar returns the visitor's live cookies. Unknown visitors get an empty jar.
func (s *SQLiteStore) LoadJar(ctx context.Context, visitor string) (*clientstore.MemoryJar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, expires_at FROM cookies WHERE visitor_id = ? AND expires_at > ?`,
		visitor, s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}
	defer rows.Close()

	jar := clientstore.NewMemoryJarWithClock(s.now)
	for rows.Next() {
		var e clientstore.Entry
		var expiresAt int64
		if err := rows.Scan(&e.Name, &e.Value, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan cookie: %w", err)
		}
		e.Expires = time.UnixMilli(expiresAt)
		jar.Load(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}

	return jar, nil
}

// SaveJar writes the jar's changes in one transaction.
func (s *SQLiteStore) SaveJar(ctx context.Context, visitor string, jar *clientstore.MemoryJar) error {
	updated, deleted := jar.Changes()
	if len(updated) == 0 && len(deleted) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range updated {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cookies (visitor_id, name, value, expires_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (visitor_id, name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			visitor, e.Name, e.Value, e.Expires.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to save cookie %s: %w", e.Name, err)
		}
	}
	for _, name := range deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE visitor_id = ? AND name = ?`, visitor, name); err != nil {
			return fmt.Errorf("failed to delete cookie %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cookies: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ForgetJar(ctx context.Context, visitor string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cookies WHERE visitor_id = ?`, visitor)
	if err != nil {
		return fmt.Errorf("failed to forget visitor: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) ListVisitors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT visitor_id FROM cookies WHERE expires_at > ? ORDER BY visitor_id`,
		s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list visitors: %w", err)
	}
	defer rows.Close()

	var visitors []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan visitor: %w", err)
		}
		visitors = append(visitors, v)
	}

	return visitors, rows.Err()
}

// RecordEvents stores events and returns how many were new. Records are deduplicated
// by id, so a resent batch is harmless.
func (s *SQLiteStore) RecordEvents(ctx context.Context, siteID string, events []*Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	received := s.now().Unix()
	inserted := 0
	for _, e := range events {
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events
			 (id, site_id, kind, experiment, alternative, goal, heatmap, unique_id, payload, occurred_at, received_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, siteID, e.Kind, e.Experiment, e.Alternative, nullableInt(e.Goal), e.Heatmap, e.UniqueID,
			string(e.Payload), e.OccurredAt.UnixMilli(), received,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to record event: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any
	if filter.SiteID != "" {
		where = append(where, "site_id = ?")
		args = append(args, filter.SiteID)
	}
	if filter.Experiment != 0 {
		where = append(where, "experiment = ?")
		args = append(args, filter.Experiment)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT id, site_id, kind, experiment, alternative, goal, heatmap, unique_id, payload, occurred_at, received_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var goal sql.NullInt64
		var payload string
		var occurredAt, receivedAt int64
		err := rows.Scan(&e.ID, &e.SiteID, &e.Kind, &e.Experiment, &e.Alternative, &goal, &e.Heatmap, &e.UniqueID,
			&payload, &occurredAt, &receivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if goal.Valid {
			g := int(goal.Int64)
			e.Goal = &g
		}
		e.Payload = []byte(payload)
		e.OccurredAt = time.UnixMilli(occurredAt)
		e.ReceivedAt = time.Unix(receivedAt, 0)

		events = append(events, &e)
	}

	return events, rows.Err()
}

// GetAlternativeStats counts visits and conversions per alternative of an experiment.
func (s *SQLiteStore) GetAlternativeStats(ctx context.Context, siteID string, experiment int) ([]AlternativeStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			alternative,
			COUNT(CASE WHEN kind = 'visit' THEN 1 END) as visits,
			COUNT(DISTINCT CASE WHEN kind = 'unique-visit' THEN unique_id END) as unique_visitors,
			COUNT(CASE WHEN kind = 'conversion' THEN 1 END) as conversions,
			COUNT(DISTINCT CASE WHEN kind = 'unique-conversion' THEN unique_id || ':' || goal END) as unique_conversions
		FROM events
		WHERE site_id = ? AND experiment = ?
		GROUP BY alternative
		ORDER BY alternative
	`, siteID, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to get alternative stats: %w", err)
	}
	defer rows.Close()

	var stats []AlternativeStats
	for rows.Next() {
		var st AlternativeStats
		if err := rows.Scan(&st.Alternative, &st.Visits, &st.UniqueVisitors, &st.Conversions, &st.UniqueConversions); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Jars adapts the store to clientstore.Backend.
func (s *SQLiteStore) Jars() clientstore.Backend {
	return jarBackend{s}
}

type jarBackend struct{ s *SQLiteStore }

func (b jarBackend) Load(ctx context.Context, visitor string) (*clientstore.MemoryJar, error) {
	return b.s.LoadJar(ctx, visitor)
}

func (b jarBackend) Save(ctx context.Context, visitor string, jar *clientstore.MemoryJar) error {
	return b.s.SaveJar(ctx, visitor, jar)
}

func (b jarBackend) Forget(ctx context.Context, visitor string) error {
	err := b.s.ForgetJar(ctx, visitor)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
