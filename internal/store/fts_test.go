package store

import (
	"testing"
	"time"
)

func seedMessages(t *testing.T, s *Store) {
	t.Helper()
	if err := s.SaveRun(testRun("run-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	msgs := []Message{
		{RunID: "run-1", Sender: "joe", Body: "WIF volume spiking hard", PostedAt: time.Now().UTC()},
		{RunID: "run-1", Sender: "ann", Body: "turbo unlock next week", PostedAt: time.Now().UTC()},
	}
	if _, err := s.SaveMessages(msgs); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}
}

func TestMigrateFTS(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("read user_version failed: %v", err)
	}
	if version != ftsVersion {
		t.Errorf("expected user_version=%d, got %d", ftsVersion, version)
	}

	if _, err := s.db.Exec("SELECT * FROM messages_fts LIMIT 0"); err != nil {
		t.Errorf("messages_fts table does not exist: %v", err)
	}
}

func TestSearchMessages(t *testing.T) {
	s := openTestStore(t)
	seedMessages(t, s)

	results, err := s.SearchMessages("volume", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Sender != "joe" {
		t.Errorf("sender = %q", results[0].Sender)
	}

	results, err = s.SearchMessages("halving", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestSearchMessagesTriggers(t *testing.T) {
	s := openTestStore(t)
	seedMessages(t, s)

	// UPDATE keeps the index current via the AU trigger.
	if _, err := s.db.Exec("UPDATE messages SET body = 'quiet chart today' WHERE sender = 'joe'"); err != nil {
		t.Fatal(err)
	}
	results, err := s.SearchMessages("volume", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after update, got %d", len(results))
	}

	// DELETE removes the row via the AD trigger.
	if _, err := s.db.Exec("DELETE FROM messages WHERE sender = 'ann'"); err != nil {
		t.Fatal(err)
	}
	results, err = s.SearchMessages("unlock", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestSearchMessagesRetry(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(testRun("run-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessages([]Message{
		{RunID: "run-1", Sender: "joe", Body: "watching C++ devs ape in", PostedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatal(err)
	}

	// "C++" is an FTS5 syntax error; the search retries it quoted.
	results, err := s.SearchMessages("C++", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed on syntax error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestMigrateFTSBackfill(t *testing.T) {
	s := openTestStore(t)
	seedMessages(t, s)

	// Simulate a pre-FTS database: drop the index and reset the version.
	for _, stmt := range []string{
		"DROP TRIGGER messages_ai",
		"DROP TRIGGER messages_au",
		"DROP TRIGGER messages_ad",
		"DROP TABLE messages_fts",
		"PRAGMA user_version = 0",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	if err := s.migrateFTS(); err != nil {
		t.Fatalf("migrateFTS failed: %v", err)
	}

	results, err := s.SearchMessages("unlock", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 backfilled result, got %d", len(results))
	}
}
