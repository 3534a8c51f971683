package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FingerprintRow is one persisted browser identity.
type FingerprintRow struct {
	FingerprintID  string
	Domain         string
	Browser        string
	BrowserVersion string
	UserAgent      string
	AcceptLanguage string
	Platform       string
	Geo            string
	CreatedAt      time.Time
	LastUsed       time.Time
	UseCount       int
	SuccessCount   int
	BlockCount     int
}

// SaveFingerprint inserts or replaces a fingerprint identity.
func (s *Store) SaveFingerprint(row FingerprintRow) error {
	_, err := s.writer.Exec(
		`INSERT OR REPLACE INTO fingerprints
		 (fingerprint_id, domain, browser, browser_version, user_agent, accept_language,
		  platform, geo, created_at, last_used, use_count, success_count, block_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.FingerprintID, row.Domain, row.Browser, row.BrowserVersion, row.UserAgent,
		row.AcceptLanguage, row.Platform, row.Geo,
		row.CreatedAt.UTC().Format(time.RFC3339), row.LastUsed.UTC().Format(time.RFC3339),
		row.UseCount, row.SuccessCount, row.BlockCount,
	)
	if err != nil {
		return fmt.Errorf("store: save fingerprint %s: %w", row.FingerprintID, err)
	}
	return nil
}

// GetFingerprintForDomain returns the most recently used identity for a
// domain, or nil when none exists.
func (s *Store) GetFingerprintForDomain(domain string) (*FingerprintRow, error) {
	row := s.reader.QueryRow(
		`SELECT fingerprint_id, domain, browser, browser_version, user_agent, accept_language,
		        platform, geo, created_at, last_used, use_count, success_count, block_count
		 FROM fingerprints WHERE domain = ? ORDER BY last_used DESC LIMIT 1`, domain)
	return scanFingerprint(row)
}

// GetFingerprint returns one identity by id, or nil when absent.
func (s *Store) GetFingerprint(id string) (*FingerprintRow, error) {
	row := s.reader.QueryRow(
		`SELECT fingerprint_id, domain, browser, browser_version, user_agent, accept_language,
		        platform, geo, created_at, last_used, use_count, success_count, block_count
		 FROM fingerprints WHERE fingerprint_id = ?`, id)
	return scanFingerprint(row)
}

// DeleteFingerprint removes an identity. Returns whether a row existed.
func (s *Store) DeleteFingerprint(id string) (bool, error) {
	res, err := s.writer.Exec(`DELETE FROM fingerprints WHERE fingerprint_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete fingerprint %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordFingerprintUsage bumps use and success/block counters.
func (s *Store) RecordFingerprintUsage(id string, success bool) error {
	col := "success_count"
	if !success {
		col = "block_count"
	}
	_, err := s.writer.Exec(
		fmt.Sprintf(`UPDATE fingerprints SET use_count = use_count + 1, %s = %s + 1, last_used = ? WHERE fingerprint_id = ?`, col, col),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("store: record fingerprint usage: %w", err)
	}
	return nil
}

func scanFingerprint(row *sql.Row) (*FingerprintRow, error) {
	var fp FingerprintRow
	var created, lastUsed string
	err := row.Scan(&fp.FingerprintID, &fp.Domain, &fp.Browser, &fp.BrowserVersion,
		&fp.UserAgent, &fp.AcceptLanguage, &fp.Platform, &fp.Geo,
		&created, &lastUsed, &fp.UseCount, &fp.SuccessCount, &fp.BlockCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan fingerprint: %w", err)
	}
	fp.CreatedAt, _ = time.Parse(time.RFC3339, created)
	fp.LastUsed, _ = time.Parse(time.RFC3339, lastUsed)
	return &fp, nil
}
