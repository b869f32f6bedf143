// Package resolve extracts trading-entity mentions from free text and
// resolves contract addresses to canonical ticker symbols.
//
// Extraction is pure pattern matching. Resolution is best-effort and silent:
// an address nobody knows simply yields no symbol, never an error. Results,
// including negative ones, are memoized for the life of the resolver so
// repeated lookups of the same address cost nothing.
package resolve

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"
)

var (
	// tickerDollarRegex matches explicit cashtags like $WIF or $pepe2.
	tickerDollarRegex = regexp.MustCompile(`\$[A-Za-z0-9]{2,10}`)

	// tickerUpperRegex matches bare uppercase runs, the fallback when no
	// cashtag is present. Minimum length 3: two-letter symbols are only
	// accepted when explicitly written as $XX.
	tickerUpperRegex = regexp.MustCompile(`\b[A-Z0-9]{3,10}\b`)

	// evmAddrRegex matches hex-prefixed fixed-length EVM addresses.
	evmAddrRegex = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)

	// base58AddrRegex matches Solana-style base58 addresses.
	base58AddrRegex = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
)

// tickerExclude drops chain names, stables and market jargon that match the
// ticker shapes but never identify a tradable entity in this context.
var tickerExclude = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "BNB": true, "BSC": true,
	"BASE": true, "USDT": true, "USDC": true, "USD": true, "FDV": true,
	"MCAP": true, "DEX": true, "GMGN": true, "OI": true, "CA": true,
	"LP": true, "ATH": true, "ATL": true,
}

// genericTokens are ambiguous acronyms excluded even as cashtags.
var genericTokens = map[string]bool{
	"AI": true, "NFT": true, "CA": true, "MC": true, "FDV": true,
	"SOL": true, "ETH": true, "BTC": true, "BNB": true, "BSC": true,
	"BASE": true,
}

// upperFallbackMaxLen bounds the text length for the bare-uppercase fallback;
// long texts produce too many false positives.
const upperFallbackMaxLen = 360

// AddressResolver resolves a contract address to a base symbol, "" when
// unknown. marketdata.Client satisfies this.
type AddressResolver interface {
	ResolveAddressSymbol(ctx context.Context, addr string) string
}

// Resolver extracts and resolves entities. Safe for concurrent use; the
// address memo is guarded and survives for the resolver's lifetime only.
type Resolver struct {
	upstream AddressResolver

	mu   sync.Mutex
	memo map[string]string // addr -> symbol ("" memoizes a negative result)
}

// New creates a Resolver over the given upstream. upstream may be nil, in
// which case addresses never resolve (extraction still works).
func New(upstream AddressResolver) *Resolver {
	return &Resolver{
		upstream: upstream,
		memo:     make(map[string]string),
	}
}

// ExtractMentions returns ticker symbols and contract addresses found in
// text. Tickers are uppercased and filtered through the exclusion lists;
// addresses must match one of the two accepted shapes, and base58 candidates
// must contain at least one digit to cut false positives from ordinary words.
func ExtractMentions(text string) (tickers []string, addrs []string) {
	seen := make(map[string]bool)
	for _, m := range tickerDollarRegex.FindAllString(text, -1) {
		sym := strings.ToUpper(m[1:])
		if acceptTicker(sym) && !seen[sym] {
			seen[sym] = true
			tickers = append(tickers, sym)
		}
	}

	// No cashtag: fall back to bare uppercase runs in short texts.
	if len(tickers) == 0 && len(text) <= upperFallbackMaxLen {
		for _, m := range tickerUpperRegex.FindAllString(text, -1) {
			sym := strings.ToUpper(m)
			if acceptTicker(sym) && !seen[sym] {
				seen[sym] = true
				tickers = append(tickers, sym)
			}
		}
	}

	seenAddr := make(map[string]bool)
	for _, a := range evmAddrRegex.FindAllString(text, -1) {
		if !seenAddr[a] {
			seenAddr[a] = true
			addrs = append(addrs, a)
		}
	}
	for _, a := range base58AddrRegex.FindAllString(text, -1) {
		if hasDigit(a) && !seenAddr[a] {
			seenAddr[a] = true
			addrs = append(addrs, a)
		}
	}
	return tickers, addrs
}

func acceptTicker(sym string) bool {
	if len(sym) < 2 || len(sym) > 10 {
		return false
	}
	if tickerExclude[sym] || genericTokens[sym] {
		return false
	}
	return hasAlpha(sym)
}

func hasAlpha(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// ResolveAddress resolves addr to a canonical symbol, "" when unknown.
// The first lookup of an address goes upstream; every later lookup, including
// of addresses that resolved to nothing, is served from the memo.
func (r *Resolver) ResolveAddress(ctx context.Context, addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	r.mu.Lock()
	if sym, ok := r.memo[addr]; ok {
		r.mu.Unlock()
		return sym
	}
	r.mu.Unlock()

	sym := ""
	if r.upstream != nil {
		sym = r.upstream.ResolveAddressSymbol(ctx, addr)
	}

	// Concurrent first lookups may race here; the resolved value is
	// deterministic for a given address, so last writer wins is fine.
	r.mu.Lock()
	r.memo[addr] = sym
	r.mu.Unlock()
	return sym
}

// maxAddrsPerText bounds upstream lookups triggered by a single text.
const maxAddrsPerText = 2

// ResolveFromText extracts mentions and resolves up to maxAddrsPerText
// addresses concurrently, returning the combined symbol list (tickers first,
// then resolved addresses) and the raw addresses found.
func (r *Resolver) ResolveFromText(ctx context.Context, text string) (symbols []string, addrs []string) {
	tickers, addrs := ExtractMentions(text)
	symbols = append(symbols, tickers...)

	limit := len(addrs)
	if limit > maxAddrsPerText {
		limit = maxAddrsPerText
	}
	if limit == 0 {
		return symbols, addrs
	}

	resolved := make([]string, limit)
	var g errgroup.Group
	for i := 0; i < limit; i++ {
		g.Go(func() error {
			resolved[i] = r.ResolveAddress(ctx, addrs[i])
			return nil // resolution is best-effort, never fails the group
		})
	}
	_ = g.Wait()

	for _, sym := range resolved {
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols, addrs
}
