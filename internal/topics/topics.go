// Package topics turns a window of noisy chat text into a small ranked set
// of actionable topics. The builder runs a staged flow: anchor prefilter,
// near-duplicate collapse, optional embedding-based clustering, budget-gated
// LLM summarization, and strict postfilter/normalization. When any upstream
// stage is unavailable a deterministic fallback tier still produces topics,
// so anchored input never yields an empty result.
package topics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/heatline/internal/budget"
	"github.com/abelbrown/heatline/internal/cluster"
	"github.com/abelbrown/heatline/internal/embed"
	"github.com/abelbrown/heatline/internal/summarize"
)

const (
	// DefaultMaxTopics bounds the size of one window's topic set.
	DefaultMaxTopics = 10
	// DefaultMaxCandidates caps how many deduped texts continue past dedupe.
	DefaultMaxCandidates = 200

	dedupeKeyLen   = 120
	snippetMaxLen  = 220
	evidenceLimit  = 3
	evidenceMaxLen = 140
)

// TextItem is one unit of input text with its author.
type TextItem struct {
	Text     string
	SenderID string
}

// Topic is one normalized, actionable output topic.
type Topic struct {
	Asset     string
	OneLiner  string
	Sentiment string
	Trigger   string
	Risk      string
	Evidence  []string
	Related   []string
	Heat      int
	Fallback  bool
}

// Options tunes a Builder. Zero values take the documented defaults.
type Options struct {
	// Tag prefixes every diagnostic this builder emits.
	Tag string
	// MaxTopics bounds the output set. Defaults to DefaultMaxTopics.
	MaxTopics int
	// MaxCandidates caps the post-dedupe candidate list.
	MaxCandidates int
	// ClusterThreshold is the cosine similarity required to join a cluster.
	ClusterThreshold float32
	// EmbedReserve is the remaining-time floor below which embedding is
	// skipped. LLMReserve plays the same role for summarization.
	EmbedReserve time.Duration
	LLMReserve   time.Duration
}

// Builder assembles topics for one window.
type Builder struct {
	opts       Options
	embedder   embed.Embedder
	summarizer summarize.Summarizer
}

// Result carries the topics plus the diagnostics accumulated on the way.
type Result struct {
	Topics      []Topic
	Diagnostics []string
}

// NewBuilder creates a Builder. embedder and summarizer may be nil; the
// builder degrades to ranked selection and the fallback tier respectively.
func NewBuilder(opts Options, embedder embed.Embedder, summarizer summarize.Summarizer) *Builder {
	if opts.MaxTopics <= 0 {
		opts.MaxTopics = DefaultMaxTopics
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.ClusterThreshold <= 0 {
		opts.ClusterThreshold = cluster.DefaultThreshold
	}
	if opts.Tag == "" {
		opts.Tag = "topics"
	}
	return &Builder{opts: opts, embedder: embedder, summarizer: summarizer}
}

// candidate is a deduped text with extracted anchors and a lexical score.
type candidate struct {
	text    string
	tickers []string
	addrs   []string
	dupes   int
	score   float64
}

// Build runs the staged flow over items under the given budget. It never
// returns an error: every degradation is recorded as a diagnostic and the
// flow continues with what remains.
func (b *Builder) Build(ctx context.Context, items []TextItem, bud budget.Budget) Result {
	var res Result
	diag := func(format string, args ...any) {
		res.Diagnostics = append(res.Diagnostics, b.opts.Tag+"_"+fmt.Sprintf(format, args...))
	}

	anchored := prefilter(items)
	if len(anchored) == 0 {
		diag("empty")
		return res
	}

	cands := dedupe(anchored, b.opts.MaxCandidates)
	for i := range cands {
		cands[i].score = lexicalScore(cands[i])
	}

	selected, clusters := b.selectCandidates(ctx, cands, bud, diag)

	raw := b.summarizeSelected(ctx, selected, bud, diag)

	topics := make([]Topic, 0, len(raw))
	for _, rt := range raw {
		t, ok := normalizeRaw(rt)
		if !ok {
			continue
		}
		topics = append(topics, t)
	}

	if len(topics) == 0 {
		topics = fallbackTopics(cands, clusters, b.opts.MaxTopics)
		if len(topics) == 0 {
			diag("empty")
			return res
		}
	}
	if len(topics) > b.opts.MaxTopics {
		topics = topics[:b.opts.MaxTopics]
	}
	attachHeat(topics, cands)
	res.Topics = topics
	return res
}

// selectCandidates picks the texts that go to the summarizer. With an
// available embedder, spare budget, and more candidates than topic slots it
// clusters and returns per-cluster snippet groups; otherwise it returns the
// top candidates by lexical score.
func (b *Builder) selectCandidates(ctx context.Context, cands []candidate, bud budget.Budget, diag func(string, ...any)) ([]string, []cluster.Cluster) {
	wantCluster := b.embedder != nil && b.embedder.Available() && len(cands) > b.opts.MaxTopics
	if wantCluster && bud.Over(b.opts.EmbedReserve) {
		diag("embed_skipped:budget")
		wantCluster = false
	}
	if wantCluster {
		texts := make([]string, len(cands))
		citems := make([]cluster.Item, len(cands))
		for i, c := range cands {
			texts[i] = c.text
			citems[i] = cluster.Item{Text: snippet(c)}
		}
		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			diag("embed_failed:%v", err)
		} else {
			clusters := cluster.Greedy(citems, vectors, cluster.Options{
				MaxClusters: b.opts.MaxTopics,
				Threshold:   b.opts.ClusterThreshold,
			})
			selected := make([]string, 0, len(clusters))
			for _, cl := range clusters {
				selected = append(selected, strings.Join(cl.Samples, " | "))
			}
			return selected, clusters
		}
	}

	ranked := rankByScore(cands)
	if len(ranked) > b.opts.MaxTopics {
		ranked = ranked[:b.opts.MaxTopics]
	}
	selected := make([]string, len(ranked))
	for i, c := range ranked {
		selected[i] = snippet(c)
	}
	return selected, nil
}

// summarizeSelected calls the LLM when the budget and configuration allow.
func (b *Builder) summarizeSelected(ctx context.Context, selected []string, bud budget.Budget, diag func(string, ...any)) []summarize.RawTopic {
	if len(selected) == 0 {
		return nil
	}
	if b.summarizer == nil || !b.summarizer.Available() {
		return nil
	}
	if bud.Over(b.opts.LLMReserve) {
		diag("llm_skipped:budget")
		return nil
	}
	raw, err := b.summarizer.Summarize(ctx, selected)
	if err != nil {
		diag("llm_failed:%v", err)
		return nil
	}
	if len(raw) == 0 {
		diag("llm_bad_output")
		return nil
	}
	return raw
}

// snippet prepares one candidate for the summarizer: the primary anchor as a
// prefix, then the text, capped to a fixed length on a rune boundary.
func snippet(c candidate) string {
	s := c.text
	if len(c.tickers) > 0 {
		s = "[" + c.tickers[0] + "] " + s
	} else if len(c.addrs) > 0 {
		s = "[" + c.addrs[0] + "] " + s
	}
	if len(s) > snippetMaxLen {
		runes := []rune(s)
		if len(runes) > snippetMaxLen {
			s = string(runes[:snippetMaxLen])
		}
	}
	return s
}
