package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for the call history.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			filename TEXT PRIMARY KEY,
			phone TEXT,
			station TEXT,
			call_time TIMESTAMP,
			status TEXT,
			transcript TEXT,
			analysis TEXT,
			last_error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_phone ON calls(phone);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_call_time ON calls(call_time);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Call is one processed recording.
type Call struct {
	Filename   string    `json:"filename"`
	Phone      string    `json:"phone"`
	Station    string    `json:"station"`
	CallTime   time.Time `json:"call_time"`
	Status     string    `json:"status"`
	Transcript *string   `json:"transcript"`
	Analysis   *string   `json:"analysis"`
	LastError  *string   `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RecordIntake registers a recording the moment it is claimed for processing.
func (s *Store) RecordIntake(ctx context.Context, filename, phone, station string, callTime, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls(filename, phone, station, call_time, status, created_at, updated_at)
		VALUES(?, ?, ?, ?, 'received', ?, ?)
		ON CONFLICT(filename) DO UPDATE SET updated_at=excluded.updated_at`,
		filename, phone, station, callTime, ts, ts)
	return err
}

// MarkClosed flags a recording that closed a pending case instead of going
// through the analysis pipeline.
func (s *Store) MarkClosed(ctx context.Context, filename string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET status='closed_case', updated_at=? WHERE filename=?`, ts, filename)
	return err
}

// MarkAnalyzed stores the pipeline output for a recording.
func (s *Store) MarkAnalyzed(ctx context.Context, filename, transcript, analysis string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET status='analyzed', transcript=?, analysis=?, last_error=NULL, updated_at=? WHERE filename=?`,
		transcript, analysis, ts, filename)
	return err
}

// MarkFailed records a pipeline failure.
func (s *Store) MarkFailed(ctx context.Context, filename, errMsg string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET status='failed', last_error=?, updated_at=? WHERE filename=?`, errMsg, ts, filename)
	return err
}

// ListRecent returns the newest calls first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, phone, station, call_time, status, transcript, analysis, last_error, created_at, updated_at
		FROM calls ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var calls []Call
	for rows.Next() {
		var c Call
		var transcript, analysis, errMsg sql.NullString
		var callTime sql.NullTime
		if err := rows.Scan(&c.Filename, &c.Phone, &c.Station, &callTime, &c.Status, &transcript, &analysis, &errMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if callTime.Valid {
			c.CallTime = callTime.Time
		}
		if transcript.Valid {
			c.Transcript = &transcript.String
		}
		if analysis.Valid {
			c.Analysis = &analysis.String
		}
		if errMsg.Valid {
			c.LastError = &errMsg.String
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// ByPhone returns the call history of one number, newest first.
func (s *Store) ByPhone(ctx context.Context, phone string, limit int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, phone, station, call_time, status, transcript, analysis, last_error, created_at, updated_at
		FROM calls WHERE phone=? ORDER BY call_time DESC LIMIT ?`, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var calls []Call
	for rows.Next() {
		var c Call
		var transcript, analysis, errMsg sql.NullString
		var callTime sql.NullTime
		if err := rows.Scan(&c.Filename, &c.Phone, &c.Station, &callTime, &c.Status, &transcript, &analysis, &errMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if callTime.Valid {
			c.CallTime = callTime.Time
		}
		if transcript.Valid {
			c.Transcript = &transcript.String
		}
		if analysis.Valid {
			c.Analysis = &analysis.String
		}
		if errMsg.Valid {
			c.LastError = &errMsg.String
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
