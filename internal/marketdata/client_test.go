package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		CachePath:   filepath.Join(t.TempDir(), "dex.json"),
		BaseURL:     srv.URL,
		TTL:         time.Minute,
		MinInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, srv
}

const searchBody = `{"pairs":[
	{"chainId":"solana","dexId":"raydium","pairAddress":"p1",
	 "baseToken":{"address":"So1111","symbol":"wif"},
	 "priceUsd":"2.5","fdv":2500000,"marketCap":2000000,
	 "liquidity":{"usd":800000},"volume":{"h24":120000},
	 "priceChange":{"h1":3.5,"h24":-1.2}},
	{"chainId":"solana","dexId":"orca","pairAddress":"p2",
	 "baseToken":{"address":"So2222","symbol":"WIF"},
	 "priceUsd":"2.4","fdv":0,"marketCap":0,
	 "liquidity":{"usd":1500000},"volume":{"h24":90000},
	 "priceChange":{"h1":0,"h24":0}}
]}`

func TestSearchByQueryUsesCache(t *testing.T) {
	calls := 0
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, searchBody)
	}))

	ctx := context.Background()
	pairs, err := c.SearchByQuery(ctx, "WIF")
	if err != nil {
		t.Fatalf("SearchByQuery failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}

	if _, err := c.SearchByQuery(ctx, "WIF"); err != nil {
		t.Fatalf("second SearchByQuery failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("provider calls = %d, want 1 (second search must hit cache)", calls)
	}
}

func TestSearchByQueryEmpty(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider called for empty query")
	}))
	pairs, err := c.SearchByQuery(context.Background(), "  ")
	if err != nil || pairs != nil {
		t.Errorf("empty query = (%v, %v), want (nil, nil)", pairs, err)
	}
}

func TestBestPairPrefersLiquidityThenVolume(t *testing.T) {
	pairs := []Pair{}
	a := Pair{PairAddress: "low"}
	a.Liquidity.USD = 100
	a.Volume.H24 = 9999
	b := Pair{PairAddress: "high"}
	b.Liquidity.USD = 500
	b.Volume.H24 = 1
	pairs = append(pairs, a, b)

	best := BestPair(pairs, "")
	if best == nil || best.PairAddress != "high" {
		t.Fatalf("BestPair = %+v, want the higher-liquidity pair", best)
	}

	// Equal liquidity falls back to volume.
	a.Liquidity.USD = 500
	best = BestPair([]Pair{a, b}, "")
	if best.PairAddress != "low" {
		t.Errorf("BestPair tie-break = %q, want the higher-volume pair", best.PairAddress)
	}
}

func TestBestPairSymbolHint(t *testing.T) {
	match := Pair{PairAddress: "match"}
	match.BaseToken.Symbol = "abc"
	match.Liquidity.USD = 10
	other := Pair{PairAddress: "other"}
	other.BaseToken.Symbol = "XYZ"
	other.Liquidity.USD = 1000

	best := BestPair([]Pair{other, match}, "ABC")
	if best == nil || best.PairAddress != "match" {
		t.Errorf("BestPair with hint = %+v, want the hinted symbol despite lower liquidity", best)
	}
}

func TestResolveAddressSymbol(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchBody)
	}))

	sym := c.ResolveAddressSymbol(context.Background(), "So2222")
	if sym != "WIF" {
		t.Errorf("ResolveAddressSymbol = %q, want WIF", sym)
	}
}

func TestResolveAddressSymbolSilentOnFailure(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	if sym := c.ResolveAddressSymbol(context.Background(), "So2222"); sym != "" {
		t.Errorf("ResolveAddressSymbol on provider failure = %q, want empty", sym)
	}
}

func TestFetchByAddressNoData(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pairs":[]}`)
	}))

	if m := c.FetchByAddress(context.Background(), "So9999"); m != nil {
		t.Errorf("FetchByAddress with no pairs = %+v, want nil", m)
	}
}

func TestPairMetrics(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchBody)
	}))

	m := c.EnrichSymbol(context.Background(), "WIF")
	if m == nil {
		t.Fatal("EnrichSymbol returned nil")
	}
	if m.Symbol != "WIF" {
		t.Errorf("Symbol = %q, want WIF", m.Symbol)
	}
	if m.Price != 2.4 {
		t.Errorf("Price = %v, want 2.4 (most liquid WIF pair)", m.Price)
	}
	if m.Liquidity != 1500000 {
		t.Errorf("Liquidity = %v, want 1500000", m.Liquidity)
	}
}
