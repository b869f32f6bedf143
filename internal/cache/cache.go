// Package cache provides a persistent TTL cache in front of a rate-limited
// upstream fetcher.
//
// The cache minimizes calls to a slow upstream while keeping results fresh
// enough (per-call TTL) and the on-disk footprint bounded (oldest-first
// eviction). Misses are throttled through a single process-global minimum
// inter-call interval. Upstream failures are never cached, so a transient
// outage does not poison the store for a TTL window.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/heatline/internal/logging"
)

// SchemaVersion tags the on-disk document. A store with a different version
// is discarded and rebuilt.
const SchemaVersion = 1

const (
	// DefaultMaxEntries bounds the on-disk store size.
	DefaultMaxEntries = 2000

	// DefaultMinInterval is the minimum gap between real upstream calls.
	DefaultMinInterval = 350 * time.Millisecond
)

// FetchFunc performs the real upstream call for a key. It must respect ctx
// and carry its own timeout; the cache never interrupts a call in flight.
type FetchFunc func(ctx context.Context, key string) (json.RawMessage, error)

// Entry is one cached payload.
type Entry struct {
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"data"`
}

// document is the serialized store shape.
type document struct {
	Version int              `json:"version"`
	Items   map[string]Entry `json:"items"`
}

// Options configures a Cache. Zero fields take defaults.
type Options struct {
	Path        string        // on-disk location of the store document
	MaxEntries  int           // eviction cap, DefaultMaxEntries if <= 0
	MinInterval time.Duration // throttle gap, DefaultMinInterval if <= 0
}

// Cache is a TTL-keyed persistent cache over a FetchFunc.
// All methods are safe for concurrent use; concurrent misses serialize
// through the single throttle cursor.
type Cache struct {
	path    string
	max     int
	limiter *rate.Limiter
	fetch   FetchFunc

	// mu guards items and the read-modify-write of the persisted document.
	// It is held across throttle+fetch on a miss so that concurrent callers
	// serialize through the single throttle cursor.
	mu    sync.Mutex
	items map[string]Entry
}

// Open loads the store document from opts.Path (starting empty if the file is
// missing, unreadable, or carries a mismatched schema version) and returns a
// Cache that resolves misses through fetch.
func Open(opts Options, fetch FetchFunc) (*Cache, error) {
	if fetch == nil {
		return nil, fmt.Errorf("cache: fetch func is required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("cache: store path is required")
	}
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}

	c := &Cache{
		path:    opts.Path,
		max:     max,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		fetch:   fetch,
		items:   loadDocument(opts.Path),
	}
	return c, nil
}

// loadDocument reads the persisted store, returning an empty map on any
// problem. A corrupt or version-mismatched store is not an error; it is
// simply rebuilt.
func loadDocument(path string) map[string]Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]Entry)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Warn("Cache store unreadable, resetting", "path", path, "error", err)
		return make(map[string]Entry)
	}
	if doc.Version != SchemaVersion {
		logging.Warn("Cache store schema mismatch, resetting", "path", path, "version", doc.Version)
		return make(map[string]Entry)
	}
	if doc.Items == nil {
		return make(map[string]Entry)
	}
	return doc.Items
}

// Fetch returns the payload for key. fromCache reports whether the payload
// was served from the store without an upstream call.
//
// Contract:
//   - fresh entry (now - ts <= ttl): returned as-is, no throttle, no network.
//   - miss or stale: throttle, call upstream; on success store and persist,
//     on failure return the error without caching anything.
//   - ttl <= 0 disables caching for the call: always fetch fresh, never store.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration) (payload json.RawMessage, fromCache bool, err error) {
	if key == "" {
		return nil, false, fmt.Errorf("cache: empty key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if ttl > 0 {
		if e, ok := c.items[key]; ok && now.Sub(e.Timestamp) <= ttl {
			return e.Payload, true, nil
		}
	}

	// Expired entries are left in place; they are dropped by eviction, not
	// eagerly. A stale hit above simply falls through to a refetch.

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("cache: throttle wait: %w", err)
	}

	payload, err = c.fetch(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache: upstream fetch %q: %w", key, err)
	}

	if ttl > 0 {
		c.items[key] = Entry{Timestamp: now, Payload: payload}
		c.prune()
		if err := c.persist(); err != nil {
			// A persist failure degrades durability, not correctness.
			logging.Warn("Cache persist failed", "path", c.path, "error", err)
		}
	}
	return payload, false, nil
}

// Len returns the number of entries currently in the store, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all stored keys in unspecified order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// prune drops oldest-by-timestamp entries until the store fits the cap.
// Caller holds mu.
func (c *Cache) prune() {
	if len(c.items) <= c.max {
		return
	}
	type keyed struct {
		key string
		ts  time.Time
	}
	ordered := make([]keyed, 0, len(c.items))
	for k, e := range c.items {
		ordered = append(ordered, keyed{k, e.Timestamp})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ts.Before(ordered[j].ts) })
	for _, kv := range ordered[:len(ordered)-c.max] {
		delete(c.items, kv.key)
	}
}

// persist writes the whole document to disk. Caller holds mu.
func (c *Cache) persist() error {
	doc := document{Version: SchemaVersion, Items: c.items}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
