// Package marketdata provides DEX market lookups behind the rate-limited
// persistent cache.
//
// Lookups are best-effort: a symbol that cannot be resolved or a pair that
// cannot be found is a valid "no data" outcome, not an error callers must
// handle. Only transport-level setup problems surface as errors.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/heatline/internal/cache"
	"github.com/abelbrown/heatline/internal/logging"
)

// DefaultTTL is how long search results stay fresh.
const DefaultTTL = time.Hour

const defaultBaseURL = "https://api.dexscreener.com"

const userAgent = "heatline/0.3 (+https://github.com/abelbrown/heatline)"

// Token identifies one side of a trading pair.
type Token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// Pair is one candidate record from the provider.
type Pair struct {
	ChainID     string  `json:"chainId"`
	DexID       string  `json:"dexId"`
	URL         string  `json:"url"`
	PairAddress string  `json:"pairAddress"`
	BaseToken   Token   `json:"baseToken"`
	PriceUSD    string  `json:"priceUsd"`
	FDV         float64 `json:"fdv"`
	MarketCap   float64 `json:"marketCap"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

// Metrics is the flattened market snapshot attached to topics.
type Metrics struct {
	Chain     string
	Symbol    string
	Address   string
	Price     float64
	Liquidity float64
	Volume24h float64
	Change1h  float64
	Change24h float64
	FDV       float64
	MarketCap float64
}

// Client performs market lookups through a shared cache instance.
type Client struct {
	baseURL string
	cache   *cache.Cache
	ttl     time.Duration
}

// Options configures a Client.
type Options struct {
	CachePath   string        // on-disk cache store location
	BaseURL     string        // provider endpoint, default DexScreener
	TTL         time.Duration // cache TTL for searches, DefaultTTL if 0
	Timeout     time.Duration // per-request HTTP timeout, 12s if 0
	MaxEntries  int           // cache eviction cap
	MinInterval time.Duration // throttle between real calls
}

// New creates a Client with its backing cache.
func New(opts Options) (*Client, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 12 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	fetch := func(ctx context.Context, key string) (json.RawMessage, error) {
		return fetchJSON(ctx, httpClient, key)
	}

	c, err := cache.Open(cache.Options{
		Path:        opts.CachePath,
		MaxEntries:  opts.MaxEntries,
		MinInterval: opts.MinInterval,
	}, fetch)
	if err != nil {
		return nil, fmt.Errorf("marketdata: %w", err)
	}

	return &Client{baseURL: baseURL, cache: c, ttl: ttl}, nil
}

// fetchJSON performs one real provider call. The request carries its own
// timeout via the shared http.Client; the run budget never interrupts it.
func fetchJSON(ctx context.Context, client *http.Client, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("malformed JSON payload")
	}
	return body, nil
}

// SearchByQuery returns candidate pairs for a free-form query (symbol or
// address). An empty result is not an error.
func (c *Client) SearchByQuery(ctx context.Context, query string) ([]Pair, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	u := c.baseURL + "/latest/dex/search?q=" + url.QueryEscape(query)

	payload, fromCache, err := c.cache.Fetch(ctx, u, c.ttl)
	if err != nil {
		return nil, fmt.Errorf("marketdata: search %q: %w", query, err)
	}
	logging.Debug("Market search", "query", query, "cached", fromCache)

	var out struct {
		Pairs []Pair `json:"pairs"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("marketdata: decode search %q: %w", query, err)
	}
	return out.Pairs, nil
}

// FetchByAddress returns market metrics for a contract address, or nil when
// the provider knows nothing about it.
func (c *Client) FetchByAddress(ctx context.Context, addr string) *Metrics {
	pairs, err := c.SearchByQuery(ctx, addr)
	if err != nil {
		logging.Debug("Market fetch by address failed", "addr", addr, "error", err)
		return nil
	}
	best := BestPair(pairs, "")
	if best == nil {
		return nil
	}
	m := best.Metrics()
	return &m
}

// ResolveAddressSymbol resolves a contract address to its canonical base
// symbol, or "" when unresolvable. Failures are silent.
func (c *Client) ResolveAddressSymbol(ctx context.Context, addr string) string {
	pairs, err := c.SearchByQuery(ctx, addr)
	if err != nil {
		logging.Debug("Address resolution failed", "addr", addr, "error", err)
		return ""
	}
	best := BestPair(pairs, "")
	if best == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(best.BaseToken.Symbol))
}

// EnrichSymbol returns market metrics for a ticker symbol, or nil.
func (c *Client) EnrichSymbol(ctx context.Context, sym string) *Metrics {
	pairs, err := c.SearchByQuery(ctx, sym)
	if err != nil {
		logging.Debug("Symbol enrich failed", "symbol", sym, "error", err)
		return nil
	}
	best := BestPair(pairs, sym)
	if best == nil {
		return nil
	}
	m := best.Metrics()
	return &m
}

// BestPair picks the most liquid pair, breaking ties by 24h volume. When a
// symbol hint is given and any pair's base symbol matches it exactly, only
// matching pairs are considered.
func BestPair(pairs []Pair, symbolHint string) *Pair {
	if len(pairs) == 0 {
		return nil
	}
	candidates := pairs
	if hint := strings.ToUpper(strings.TrimSpace(symbolHint)); hint != "" {
		var filtered []Pair
		for _, p := range pairs {
			if strings.ToUpper(p.BaseToken.Symbol) == hint {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	sorted := make([]Pair, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Liquidity.USD != sorted[j].Liquidity.USD {
			return sorted[i].Liquidity.USD > sorted[j].Liquidity.USD
		}
		return sorted[i].Volume.H24 > sorted[j].Volume.H24
	})
	return &sorted[0]
}

// Metrics flattens a pair into the snapshot shape topics carry.
func (p *Pair) Metrics() Metrics {
	price, _ := strconv.ParseFloat(p.PriceUSD, 64)
	return Metrics{
		Chain:     p.ChainID,
		Symbol:    strings.ToUpper(p.BaseToken.Symbol),
		Address:   p.BaseToken.Address,
		Price:     price,
		Liquidity: p.Liquidity.USD,
		Volume24h: p.Volume.H24,
		Change1h:  p.PriceChange.H1,
		Change24h: p.PriceChange.H24,
		FDV:       p.FDV,
		MarketCap: p.MarketCap,
	}
}
