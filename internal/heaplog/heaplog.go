// Package heaplog persists heap monitoring observations to SQLite for
// offline analysis. The leak monitor itself keeps no durable state; this
// package records what it observed, one session per process run.
package heaplog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database holding monitoring sessions.
type Store struct {
	*sql.DB
}

// Session is one recorded monitoring run.
type Session struct {
	ID          string `json:"id"`
	StartedAtMS int64  `json:"started_at_ms"`
	EndedAtMS   *int64 `json:"ended_at_ms,omitempty"`
	Notes       string `json:"notes"`
	SampleCount int    `json:"sample_count"`
}

// Sample is one stored per-frame observation.
type Sample struct {
	SessionID    string  `json:"session_id"`
	TimestampMS  int64   `json:"t_ms"`
	HeapBytes    int64   `json:"heap_bytes"`
	DeltaMB      float64 `json:"delta_mb"`
	AdjustedMB   float64 `json:"adjusted_mb"`
	RateMBPerSec float64 `json:"rate_mb_per_sec"`
}

// GCEvent is one stored reclaim detection.
type GCEvent struct {
	SessionID   string  `json:"session_id"`
	TimestampMS int64   `json:"t_ms"`
	ReclaimedMB float64 `json:"reclaimed_mb"`
	EventIndex  int64   `json:"event_index"`
}

// Warning is one stored advisory transition.
type Warning struct {
	SessionID   string `json:"session_id"`
	TimestampMS int64  `json:"t_ms"`
	Message     string `json:"message"`
}

// Open opens (creating if necessary) the store at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open heaplog db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

// runMigrations applies all pending schema migrations from the embedded
// migration files.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	// Note: we don't close m because it would close the underlying DB
	// connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

// StartSession creates a new session record and returns it. The ID is a
// fresh UUID.
func (s *Store) StartSession(notes string) (*Session, error) {
	sess := &Session{
		ID:          uuid.New().String(),
		StartedAtMS: time.Now().UnixMilli(),
		Notes:       notes,
	}

	_, err := s.Exec(`INSERT INTO sessions (id, started_at_ms, notes) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAtMS, sess.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	return sess, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(sessionID string) error {
	_, err := s.Exec(`UPDATE sessions SET ended_at_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordSample stores one per-frame observation.
func (s *Store) RecordSample(sample Sample) error {
	_, err := s.Exec(`
		INSERT INTO heap_samples (session_id, t_ms, heap_bytes, delta_mb, adjusted_mb, rate_mb_per_sec)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sample.SessionID, sample.TimestampMS, sample.HeapBytes,
		sample.DeltaMB, sample.AdjustedMB, sample.RateMBPerSec)
	if err != nil {
		return fmt.Errorf("failed to insert heap sample: %w", err)
	}
	return nil
}

// RecordGCEvent stores one reclaim detection.
func (s *Store) RecordGCEvent(ev GCEvent) error {
	_, err := s.Exec(`
		INSERT INTO gc_events (session_id, t_ms, reclaimed_mb, event_index)
		VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.TimestampMS, ev.ReclaimedMB, ev.EventIndex)
	if err != nil {
		return fmt.Errorf("failed to insert gc event: %w", err)
	}
	return nil
}

// RecordWarning stores one advisory transition.
func (s *Store) RecordWarning(w Warning) error {
	_, err := s.Exec(`
		INSERT INTO leak_warnings (session_id, t_ms, message)
		VALUES (?, ?, ?)`,
		w.SessionID, w.TimestampMS, w.Message)
	if err != nil {
		return fmt.Errorf("failed to insert warning: %w", err)
	}
	return nil
}

// SamplesForSession returns the session's samples ordered by time.
func (s *Store) SamplesForSession(sessionID string) ([]Sample, error) {
	rows, err := s.Query(`
		SELECT session_id, t_ms, heap_bytes, delta_mb, adjusted_mb, rate_mb_per_sec
		FROM heap_samples WHERE session_id = ? ORDER BY t_ms`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.SessionID, &sm.TimestampMS, &sm.HeapBytes,
			&sm.DeltaMB, &sm.AdjustedMB, &sm.RateMBPerSec); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// GCEventsForSession returns the session's reclaim detections ordered by time.
func (s *Store) GCEventsForSession(sessionID string) ([]GCEvent, error) {
	rows, err := s.Query(`
		SELECT session_id, t_ms, reclaimed_mb, event_index
		FROM gc_events WHERE session_id = ? ORDER BY t_ms`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gc events: %w", err)
	}
	defer rows.Close()

	var events []GCEvent
	for rows.Next() {
		var ev GCEvent
		if err := rows.Scan(&ev.SessionID, &ev.TimestampMS, &ev.ReclaimedMB, &ev.EventIndex); err != nil {
			return nil, fmt.Errorf("failed to scan gc event row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// WarningsForSession returns the session's advisory transitions ordered by time.
func (s *Store) WarningsForSession(sessionID string) ([]Warning, error) {
	rows, err := s.Query(`
		SELECT session_id, t_ms, message
		FROM leak_warnings WHERE session_id = ? ORDER BY t_ms`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query warnings: %w", err)
	}
	defer rows.Close()

	var warnings []Warning
	for rows.Next() {
		var w Warning
		if err := rows.Scan(&w.SessionID, &w.TimestampMS, &w.Message); err != nil {
			return nil, fmt.Errorf("failed to scan warning row: %w", err)
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}

// RecentSessions returns up to limit sessions, newest first, with sample
// counts.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`
		SELECT s.id, s.started_at_ms, s.ended_at_ms, s.notes,
		       (SELECT COUNT(*) FROM heap_samples hs WHERE hs.session_id = s.id)
		FROM sessions s ORDER BY s.started_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.StartedAtMS, &sess.EndedAtMS, &sess.Notes, &sess.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recently started session, or nil if the
// store is empty.
func (s *Store) LatestSession() (*Session, error) {
	sessions, err := s.RecentSessions(1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}
