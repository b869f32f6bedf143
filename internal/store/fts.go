package store

import (
	"fmt"
	"strings"
)

// ftsVersion is the schema version that includes the messages FTS index.
const ftsVersion = 1

// migrateFTS creates the contentless-sync FTS5 index over messages and the
// triggers that keep it current, then backfills it from existing rows.
// Guarded by PRAGMA user_version so reopening an indexed database is a no-op.
func (s *Store) migrateFTS() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= ftsVersion {
		return nil
	}

	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		body, sender UNINDEXED,
		content='messages', content_rowid='id'
	);

	CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, body, sender) VALUES (new.id, new.body, new.sender);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body, sender) VALUES ('delete', old.id, old.body, old.sender);
		INSERT INTO messages_fts(rowid, body, sender) VALUES (new.id, new.body, new.sender);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body, sender) VALUES ('delete', old.id, old.body, old.sender);
	END;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create fts schema: %w", err)
	}

	// Backfill from rows written before the index existed.
	if _, err := s.db.Exec("INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("rebuild fts: %w", err)
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ftsVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SearchMessages runs a full-text query over archived message bodies, best
// match first. Queries that are FTS5 syntax errors (tickers like "C++" or
// bare "$WIF") are retried as quoted strings.
// Thread-safe: acquires read lock.
func (s *Store) SearchMessages(query string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	messages, err := s.searchMessages(query, limit)
	if err != nil && !strings.HasPrefix(query, `"`) {
		// Retry with the whole query quoted so FTS5 operators in user
		// input do not fail the search.
		quoted := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
		messages, err = s.searchMessages(quoted, limit)
	}
	return messages, err
}

// searchMessages executes one FTS query. Caller must hold s.mu.
func (s *Store) searchMessages(match string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT m.run_id, m.sender, m.body, m.posted_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RunID, &m.Sender, &m.Body, &m.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
