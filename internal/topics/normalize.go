package topics

import (
	"strings"

	"github.com/abelbrown/heatline/internal/summarize"
)

const (
	assetMaxLen    = 18
	triggerMaxLen  = 42
	oneLinerMaxLen = 80
	relatedLimit   = 5
)

var sentiments = map[string]bool{
	"bullish": true,
	"bearish": true,
	"mixed":   true,
	"neutral": true,
}

// Leading phrases that mark a one-liner too vague to act on.
var vagueLeads = []string{"someone", "some people", "somebody", "people are saying"}

// Placeholder asset values the model emits when it has nothing concrete.
var placeholderAssets = map[string]bool{
	"UNKNOWN":  true,
	"N/A":      true,
	"NONE":     true,
	"VARIOUS":  true,
	"MULTIPLE": true,
}

// normalizeRaw turns a model topic into an output Topic, rejecting entries
// that fail the actionability checks: a concrete asset, a specific one-liner,
// and a recognized sentiment.
func normalizeRaw(rt summarize.RawTopic) (Topic, bool) {
	asset := strings.ToUpper(strings.TrimSpace(rt.Asset))
	asset = strings.TrimPrefix(asset, "$")
	if asset == "" || placeholderAssets[asset] || !hasAlpha(asset) {
		return Topic{}, false
	}
	asset = truncateRunes(asset, assetMaxLen)

	oneLiner := strings.TrimSpace(rt.OneLiner)
	if oneLiner == "" {
		return Topic{}, false
	}
	low := strings.ToLower(oneLiner)
	for _, lead := range vagueLeads {
		if strings.HasPrefix(low, lead) {
			return Topic{}, false
		}
	}
	oneLiner = truncateRunes(oneLiner, oneLinerMaxLen)

	sentiment := strings.ToLower(strings.TrimSpace(rt.Sentiment))
	if !sentiments[sentiment] {
		sentiment = "neutral"
	}

	evidence := make([]string, 0, evidenceLimit)
	for _, e := range rt.Evidence {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		evidence = append(evidence, truncateRunes(e, evidenceMaxLen))
		if len(evidence) >= evidenceLimit {
			break
		}
	}

	related := make([]string, 0, len(rt.Related))
	seen := map[string]bool{asset: true}
	for _, r := range rt.Related {
		r = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(r), "$"))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		related = append(related, truncateRunes(r, assetMaxLen))
		if len(related) >= relatedLimit {
			break
		}
	}

	return Topic{
		Asset:     asset,
		OneLiner:  oneLiner,
		Sentiment: sentiment,
		Trigger:   truncateRunes(strings.TrimSpace(rt.Trigger), triggerMaxLen),
		Risk:      truncateRunes(strings.TrimSpace(rt.Risk), triggerMaxLen),
		Evidence:  evidence,
		Related:   related,
	}, true
}

func hasAlpha(s string) bool {
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
