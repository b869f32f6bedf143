package topics

import (
	"sort"
	"strings"

	"github.com/abelbrown/heatline/internal/resolve"
)

// eventKeywords anchor a text even without a ticker or address mention.
var eventKeywords = []string{
	"listing", "listed", "delist",
	"unlock", "burn", "migration", "mainnet", "upgrade",
	"hack", "exploit", "rug",
	"partnership", "etf", "halving",
	"pump", "dump",
}

var bullishWords = []string{
	"bullish", "moon", "pump", "send", "breakout", "ath",
	"long", "buy", "accumulate", "undervalued",
}

var bearishWords = []string{
	"bearish", "dump", "rug", "short", "sell", "exit",
	"crash", "scam", "bleed", "overvalued",
}

// prefilter keeps items that carry an anchor: an extracted ticker or address
// mention, or an event keyword. Unanchored chatter never reaches the
// expensive stages.
func prefilter(items []TextItem) []candidate {
	out := make([]candidate, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if text == "" {
			continue
		}
		tickers, addrs := resolve.ExtractMentions(text)
		if len(tickers) == 0 && len(addrs) == 0 && eventKeyword(text) == "" {
			continue
		}
		out = append(out, candidate{text: text, tickers: tickers, addrs: addrs, dupes: 1})
	}
	return out
}

// eventKeyword returns the first matching event keyword, or "".
func eventKeyword(text string) string {
	low := strings.ToLower(text)
	for _, kw := range eventKeywords {
		if strings.Contains(low, kw) {
			return kw
		}
	}
	return ""
}

// dedupe collapses near-duplicates by a normalized prefix key and caps the
// candidate list. The first occurrence wins; later copies only raise its
// duplicate count.
func dedupe(cands []candidate, maxCandidates int) []candidate {
	seen := make(map[string]int, len(cands))
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		key := dedupeKey(c.text)
		if idx, ok := seen[key]; ok {
			out[idx].dupes++
			continue
		}
		if len(out) >= maxCandidates {
			continue
		}
		seen[key] = len(out)
		out = append(out, c)
	}
	return out
}

func dedupeKey(text string) string {
	key := strings.ToLower(strings.Join(strings.Fields(text), " "))
	runes := []rune(key)
	if len(runes) > dedupeKeyLen {
		key = string(runes[:dedupeKeyLen])
	}
	return key
}

// Stance counts directional keywords in a text. Positive means bullish
// leaning, negative bearish.
func Stance(text string) int {
	low := strings.ToLower(text)
	score := 0
	for _, w := range bullishWords {
		if strings.Contains(low, w) {
			score++
		}
	}
	for _, w := range bearishWords {
		if strings.Contains(low, w) {
			score--
		}
	}
	return score
}

// lexicalScore ranks a candidate without embeddings: duplicates, anchors,
// event keywords, and directional language all add weight.
func lexicalScore(c candidate) float64 {
	score := float64(c.dupes)
	score += 0.5 * float64(len(c.tickers)+len(c.addrs))
	if eventKeyword(c.text) != "" {
		score += 0.5
	}
	if s := Stance(c.text); s != 0 {
		score += 0.25
		if s < 0 {
			score += 0.25 // negative signals are rarer and more actionable
		}
	}
	return score
}

// rankByScore returns a copy sorted by score descending, input order as the
// tiebreak so equal scores stay deterministic.
func rankByScore(cands []candidate) []candidate {
	ranked := make([]candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// attachHeat sets each topic's heat to the number of candidate texts that
// reference its asset, duplicate copies included. Topics whose asset never
// matches keep a floor of 1.
func attachHeat(topics []Topic, cands []candidate) {
	for i := range topics {
		if topics[i].Heat > 0 {
			continue
		}
		asset := strings.ToUpper(topics[i].Asset)
		n := 0
		for _, c := range cands {
			if candidateMentions(c, asset) {
				n += c.dupes
			}
		}
		if n == 0 {
			n = 1
		}
		topics[i].Heat = n
	}
}

func candidateMentions(c candidate, asset string) bool {
	for _, tk := range c.tickers {
		if strings.EqualFold(tk, asset) {
			return true
		}
	}
	for _, addr := range c.addrs {
		if strings.EqualFold(addr, asset) {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(c.text), asset)
}
