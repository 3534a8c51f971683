package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionMeta is the minimal cross-process view of a live session. The
// authoritative in-memory record lives in the session registry; this row
// lets other processes see what is running and lets the CLI report
// status.
type SessionMeta struct {
	ID        string
	Tier      int
	Profile   string
	PID       int
	CreatedAt time.Time
}

// SaveSession inserts or replaces a session metadata row.
func (s *Store) SaveSession(meta SessionMeta) error {
	_, err := s.writer.Exec(
		`INSERT OR REPLACE INTO sessions (id, tier, profile, pid, created_at) VALUES (?, ?, ?, ?, ?)`,
		meta.ID, meta.Tier, meta.Profile, meta.PID, meta.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", meta.ID, err)
	}
	return nil
}

// DeleteSession removes a session metadata row.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.writer.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}

// ListSessions returns all persisted session rows.
func (s *Store) ListSessions() ([]SessionMeta, error) {
	rows, err := s.reader.Query(`SELECT id, tier, profile, pid, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionMeta
	for rows.Next() {
		var m SessionMeta
		var created string
		if err := rows.Scan(&m.ID, &m.Tier, &m.Profile, &m.PID, &created); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetSession returns one session row, or nil when absent.
func (s *Store) GetSession(id string) (*SessionMeta, error) {
	var m SessionMeta
	var created string
	err := s.reader.QueryRow(
		`SELECT id, tier, profile, pid, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&m.ID, &m.Tier, &m.Profile, &m.PID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &m, nil
}
