// Package sessionlog keeps the on-disk journal of finished streaming
// sessions. One row is written per session when it closes, so operators can
// answer "who watched the camera, for how long, and why did the stream end"
// after the fact.
package sessionlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id           TEXT PRIMARY KEY,
			remote_addr          TEXT,
			pipeline             TEXT,
			started_unix_nanos   BIGINT,
			ended_unix_nanos     BIGINT,
			frames               BIGINT,
			bytes                BIGINT,
			overflows            BIGINT,
			close_reason         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_unix_nanos);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// SessionRecord is one journal row. Bytes counts JPEG payload bytes
// delivered to the client, not multipart framing overhead.
type SessionRecord struct {
	SessionID   string    `json:"session_id"`
	RemoteAddr  string    `json:"remote_addr"`
	Pipeline    string    `json:"pipeline"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Frames      int64     `json:"frames"`
	Bytes       int64     `json:"bytes"`
	Overflows   int64     `json:"overflows"`
	CloseReason string    `json:"close_reason"`
}

func (r *SessionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func (r *SessionRecord) String() string {
	return fmt.Sprintf(
		"SessionID: %s, RemoteAddr: %s, Pipeline: %s, Frames: %d, Bytes: %d, Overflows: %d, CloseReason: %s, Duration: %s",
		r.SessionID,
		r.RemoteAddr,
		r.Pipeline,
		r.Frames,
		r.Bytes,
		r.Overflows,
		r.CloseReason,
		r.Duration(),
	)
}

func (db *DB) RecordSession(rec SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session record missing session_id")
	}

	_, err := db.Exec(
		`INSERT INTO sessions (
			session_id, remote_addr, pipeline, started_unix_nanos, ended_unix_nanos,
			frames, bytes, overflows, close_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RemoteAddr, rec.Pipeline,
		rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(),
		rec.Frames, rec.Bytes, rec.Overflows, rec.CloseReason,
	)
	if err != nil {
		return err
	}
	return nil
}

// RecentSessions returns up to limit journal rows, newest first. Limits
// outside (0, 500] fall back to 100.
func (db *DB) RecentSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := db.Query(`SELECT session_id, remote_addr, pipeline, started_unix_nanos,
			ended_unix_nanos, frames, bytes, overflows, close_reason
		FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			rec          SessionRecord
			startedNanos int64
			endedNanos   int64
		)
		if err := rows.Scan(
			&rec.SessionID,
			&rec.RemoteAddr,
			&rec.Pipeline,
			&startedNanos,
			&endedNanos,
			&rec.Frames,
			&rec.Bytes,
			&rec.Overflows,
			&rec.CloseReason,
		); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, startedNanos)
		rec.EndedAt = time.Unix(0, endedNanos)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CloseReasonCounts returns the number of journalled sessions per close
// reason across the whole table.
func (db *DB) CloseReasonCounts() (map[string]int64, error) {
	rows, err := db.Query(`SELECT close_reason, COUNT(*) FROM sessions GROUP BY close_reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}
