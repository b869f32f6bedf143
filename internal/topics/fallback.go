package topics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abelbrown/heatline/internal/cluster"
)

// fallbackGroup accumulates candidates that share an anchor.
type fallbackGroup struct {
	key    string
	count  int
	stance int
	texts  []string
	order  int
}

// fallbackTopics builds deterministic topics when the model path produced
// nothing. Candidates are grouped by their strongest anchor: the first
// extracted entity, then the event keyword, then the longest plain word.
// Cluster sizes from an earlier clustering pass add weight when available.
// The result is never empty for a non-empty candidate list.
func fallbackTopics(cands []candidate, clusters []cluster.Cluster, maxTopics int) []Topic {
	groups := map[string]*fallbackGroup{}
	var order []string

	for _, c := range cands {
		key := fallbackKey(c)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &fallbackGroup{key: key, order: len(order)}
			groups[key] = g
			order = append(order, key)
		}
		g.count += c.dupes
		g.stance += Stance(c.text)
		if len(g.texts) < evidenceLimit {
			g.texts = append(g.texts, truncateRunes(c.text, evidenceMaxLen))
		}
	}
	if len(groups) == 0 {
		return nil
	}

	// Cluster membership counts as extra weight for the matching anchor.
	bonus := map[string]int{}
	for _, cl := range clusters {
		upper := strings.ToUpper(cl.Representative.Text)
		for key := range groups {
			if strings.Contains(upper, key) {
				bonus[key] += cl.Size
			}
		}
	}

	sorted := make([]*fallbackGroup, 0, len(groups))
	for _, key := range order {
		sorted = append(sorted, groups[key])
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		si := sorted[i].count + bonus[sorted[i].key]
		sj := sorted[j].count + bonus[sorted[j].key]
		if si != sj {
			return si > sj
		}
		return sorted[i].order < sorted[j].order
	})

	out := make([]Topic, 0, maxTopics)
	for _, g := range sorted {
		if len(out) >= maxTopics {
			break
		}
		out = append(out, Topic{
			Asset:     truncateRunes(g.key, assetMaxLen),
			OneLiner:  truncateRunes(fmt.Sprintf("%s discussion intensifying, mentioned %d times", g.key, g.count), oneLinerMaxLen),
			Sentiment: stanceLabel(g.stance),
			Evidence:  g.texts,
			Heat:      g.count + bonus[g.key],
			Fallback:  true,
		})
	}
	return out
}

// fallbackKey picks the grouping anchor for one candidate.
func fallbackKey(c candidate) string {
	if len(c.tickers) > 0 {
		return c.tickers[0]
	}
	if len(c.addrs) > 0 {
		return c.addrs[0]
	}
	if kw := eventKeyword(c.text); kw != "" {
		return strings.ToUpper(kw)
	}
	// Last resort: the longest plain word, so the group still has a name.
	best := ""
	for _, w := range strings.Fields(strings.ToLower(c.text)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) > len(best) && hasAlpha(w) {
			best = w
		}
	}
	return strings.ToUpper(best)
}

func stanceLabel(stance int) string {
	switch {
	case stance > 0:
		return "bullish"
	case stance < 0:
		return "bearish"
	default:
		return "neutral"
	}
}
