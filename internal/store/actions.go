package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionRecord is one row of the action audit log.
type ActionRecord struct {
	SessionID  string
	Verb       string
	Domain     string
	Success    bool
	DurationMS int64
	ErrorCode  string
}

// RecordAction appends an action to the audit log.
func (s *Store) RecordAction(rec ActionRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.writer.Exec(
		`INSERT INTO actions (id, session_id, timestamp, verb, domain, success, duration_ms, error_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.SessionID, time.Now().UTC().Format(time.RFC3339),
		rec.Verb, rec.Domain, success, rec.DurationMS, rec.ErrorCode,
	)
	if err != nil {
		return fmt.Errorf("store: record action: %w", err)
	}
	return nil
}

// ActionCount returns how many actions a session has logged.
func (s *Store) ActionCount(sessionID string) (int, error) {
	var n int
	err := s.reader.QueryRow(
		`SELECT COUNT(*) FROM actions WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: action count: %w", err)
	}
	return n, nil
}
