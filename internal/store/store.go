// Package store provides SQLite persistence for heatline runs.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// Run is the archived record of one pipeline run.
type Run struct {
	ID           string
	StartedAt    time.Time
	WindowStart  time.Time
	WindowEnd    time.Time
	MessageCount int
	TopicCount   int
	Errors       []string
	Diagnostics  []string
	Perf         map[string]time.Duration
}

// TopicRecord is one archived topic with its market snapshot at run time.
// Market fields are zero when no pair was found.
type TopicRecord struct {
	RunID        string
	Asset        string
	OneLiner     string
	Sentiment    string
	Trigger      string
	Risk         string
	Evidence     []string
	Related      []string
	Heat         int
	Fallback     bool
	PriceUSD     float64
	LiquidityUSD float64
	VolumeH24    float64
	ChangeH1     float64
	ChangeH24    float64
}

// Message is one archived input text.
type Message struct {
	RunID    string
	Sender   string
	Body     string
	PostedAt time.Time
}

// WatchEntry is one watchlist row.
type WatchEntry struct {
	Asset    string
	Heat     int
	LastSeen time.Time
}

// AssetHeat is an aggregate of topic heat per asset over a period.
type AssetHeat struct {
	Asset string
	Heat  int
	Runs  int
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// For in-memory databases, use shared cache mode so all connections
		// in the pool see the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	if err := s.migrateFTS(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate fts: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		window_start DATETIME NOT NULL,
		window_end DATETIME NOT NULL,
		message_count INTEGER DEFAULT 0,
		topic_count INTEGER DEFAULT 0,
		errors TEXT,
		diagnostics TEXT,
		perf TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		asset TEXT NOT NULL,
		one_liner TEXT NOT NULL,
		sentiment TEXT NOT NULL,
		trigger_note TEXT,
		risk TEXT,
		evidence TEXT,
		related TEXT,
		heat INTEGER DEFAULT 0,
		fallback INTEGER DEFAULT 0,
		price_usd REAL DEFAULT 0,
		liquidity_usd REAL DEFAULT 0,
		volume_h24 REAL DEFAULT 0,
		change_h1 REAL DEFAULT 0,
		change_h24 REAL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_topics_run ON topics(run_id);
	CREATE INDEX IF NOT EXISTS idx_topics_asset ON topics(asset);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		sender TEXT,
		body TEXT NOT NULL,
		posted_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id);

	CREATE TABLE IF NOT EXISTS watchlist (
		asset TEXT PRIMARY KEY,
		heat INTEGER DEFAULT 0,
		last_seen DATETIME NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveRun archives one run record.
// Thread-safe: acquires write lock.
func (s *Store) SaveRun(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errsJSON, err := marshalStrings(run.Errors)
	if err != nil {
		return err
	}
	diagsJSON, err := marshalStrings(run.Diagnostics)
	if err != nil {
		return err
	}
	perfJSON, err := json.Marshal(run.Perf)
	if err != nil {
		return err
	}

	_, err = sq.Insert("runs").
		Columns("id", "started_at", "window_start", "window_end",
			"message_count", "topic_count", "errors", "diagnostics", "perf").
		Values(run.ID, run.StartedAt, run.WindowStart, run.WindowEnd,
			run.MessageCount, run.TopicCount, errsJSON, diagsJSON, string(perfJSON)).
		RunWith(s.db).Exec()
	return err
}

// SaveTopics archives the topics of one run, returning the inserted count.
// Thread-safe: acquires write lock.
func (s *Store) SaveTopics(records []TopicRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	ins := sq.Insert("topics").Columns(
		"run_id", "asset", "one_liner", "sentiment", "trigger_note", "risk",
		"evidence", "related", "heat", "fallback",
		"price_usd", "liquidity_usd", "volume_h24", "change_h1", "change_h24",
	)
	for _, r := range records {
		evJSON, err := marshalStrings(r.Evidence)
		if err != nil {
			return 0, err
		}
		relJSON, err := marshalStrings(r.Related)
		if err != nil {
			return 0, err
		}
		ins = ins.Values(r.RunID, r.Asset, r.OneLiner, r.Sentiment, r.Trigger, r.Risk,
			evJSON, relJSON, r.Heat, boolToInt(r.Fallback),
			r.PriceUSD, r.LiquidityUSD, r.VolumeH24, r.ChangeH1, r.ChangeH24)
	}

	if _, err := ins.RunWith(s.db).Exec(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// SaveMessages archives the input texts of one run.
// Thread-safe: acquires write lock.
func (s *Store) SaveMessages(messages []Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(messages) == 0 {
		return 0, nil
	}

	ins := sq.Insert("messages").Columns("run_id", "sender", "body", "posted_at")
	for _, m := range messages {
		ins = ins.Values(m.RunID, m.Sender, m.Body, m.PostedAt)
	}
	if _, err := ins.RunWith(s.db).Exec(); err != nil {
		return 0, err
	}
	return len(messages), nil
}

// RecentRuns returns the newest runs first.
// Thread-safe: acquires read lock.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := sq.Select("id", "started_at", "window_start", "window_end",
		"message_count", "topic_count", "errors", "diagnostics", "perf").
		From("runs").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var errsJSON, diagsJSON, perfJSON string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.WindowStart, &r.WindowEnd,
			&r.MessageCount, &r.TopicCount, &errsJSON, &diagsJSON, &perfJSON); err != nil {
			return nil, err
		}
		if r.Errors, err = unmarshalStrings(errsJSON); err != nil {
			return nil, err
		}
		if r.Diagnostics, err = unmarshalStrings(diagsJSON); err != nil {
			return nil, err
		}
		if perfJSON != "" && perfJSON != "null" {
			if err := json.Unmarshal([]byte(perfJSON), &r.Perf); err != nil {
				return nil, err
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TopicsForRun returns the archived topics of one run, hottest first.
// Thread-safe: acquires read lock.
func (s *Store) TopicsForRun(runID string) ([]TopicRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := sq.Select("run_id", "asset", "one_liner", "sentiment", "trigger_note",
		"risk", "evidence", "related", "heat", "fallback",
		"price_usd", "liquidity_usd", "volume_h24", "change_h1", "change_h24").
		From("topics").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("heat DESC", "id ASC").
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TopicRecord
	for rows.Next() {
		var r TopicRecord
		var evJSON, relJSON string
		var fallback int
		if err := rows.Scan(&r.RunID, &r.Asset, &r.OneLiner, &r.Sentiment, &r.Trigger,
			&r.Risk, &evJSON, &relJSON, &r.Heat, &fallback,
			&r.PriceUSD, &r.LiquidityUSD, &r.VolumeH24, &r.ChangeH1, &r.ChangeH24); err != nil {
			return nil, err
		}
		if r.Evidence, err = unmarshalStrings(evJSON); err != nil {
			return nil, err
		}
		if r.Related, err = unmarshalStrings(relJSON); err != nil {
			return nil, err
		}
		r.Fallback = fallback != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// TopAssetsSince aggregates topic heat per asset across runs started after
// since, hottest first.
// Thread-safe: acquires read lock.
func (s *Store) TopAssetsSince(since time.Time, limit int) ([]AssetHeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := sq.Select("t.asset", "SUM(t.heat) AS total_heat", "COUNT(DISTINCT t.run_id) AS run_count").
		From("topics t").
		Join("runs r ON r.id = t.run_id").
		Where(sq.Gt{"r.started_at": since}).
		GroupBy("t.asset").
		// Heat ties break toward the asset seen across more runs; sustained
		// attention outranks a single spike.
		OrderBy("total_heat DESC", "run_count DESC", "t.asset ASC").
		Limit(uint64(limit)).
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssetHeat
	for rows.Next() {
		var a AssetHeat
		if err := rows.Scan(&a.Asset, &a.Heat, &a.Runs); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertWatchlist records an asset's latest heat, keeping the row's maximum.
// Thread-safe: acquires write lock.
func (s *Store) UpsertWatchlist(asset string, heat int, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO watchlist (asset, heat, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(asset) DO UPDATE SET
			heat = MAX(watchlist.heat, excluded.heat),
			last_seen = excluded.last_seen
	`, asset, heat, seen)
	return err
}

// Watchlist returns the watchlist, hottest first.
// Thread-safe: acquires read lock.
func (s *Store) Watchlist() ([]WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := sq.Select("asset", "heat", "last_seen").
		From("watchlist").
		OrderBy("heat DESC", "asset ASC").
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchEntry
	for rows.Next() {
		var w WatchEntry
		if err := rows.Scan(&w.Asset, &w.Heat, &w.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
