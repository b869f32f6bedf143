package topics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/abelbrown/heatline/internal/budget"
	"github.com/abelbrown/heatline/internal/summarize"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Available() bool { return true }

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.vectors != nil {
		return s.vectors[:len(texts)], nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubSummarizer struct {
	topics []summarize.RawTopic
	err    error
	calls  int
	got    []string
}

func (s *stubSummarizer) Available() bool { return true }

func (s *stubSummarizer) Summarize(ctx context.Context, texts []string) ([]summarize.RawTopic, error) {
	s.calls++
	s.got = texts
	return s.topics, s.err
}

func longBudget() budget.Budget { return budget.Start(time.Hour) }

func spentBudget() budget.Budget { return budget.Start(0) }

func buildOpts() Options {
	return Options{
		Tag:          "hourly",
		EmbedReserve: time.Second,
		LLMReserve:   time.Second,
	}
}

func TestBuildEmptyInput(t *testing.T) {
	b := NewBuilder(buildOpts(), nil, nil)
	res := b.Build(context.Background(), nil, longBudget())
	if len(res.Topics) != 0 {
		t.Fatalf("expected no topics, got %d", len(res.Topics))
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0] != "hourly_empty" {
		t.Errorf("expected hourly_empty diagnostic, got %v", res.Diagnostics)
	}
}

func TestBuildUnanchoredInputIsEmpty(t *testing.T) {
	b := NewBuilder(buildOpts(), nil, nil)
	items := []TextItem{
		{Text: "gm everyone"},
		{Text: "what a day huh"},
	}
	res := b.Build(context.Background(), items, longBudget())
	if len(res.Topics) != 0 {
		t.Fatalf("expected no topics for unanchored input, got %+v", res.Topics)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0] != "hourly_empty" {
		t.Errorf("expected hourly_empty diagnostic, got %v", res.Diagnostics)
	}
}

func TestBuildSummarizerPath(t *testing.T) {
	sum := &stubSummarizer{topics: []summarize.RawTopic{
		{
			Asset:     "abc",
			OneLiner:  "ABC up 10% on exchange listing chatter",
			Sentiment: "bullish",
			Trigger:   "listing rumor",
			Evidence:  []string{"$ABC up 10%"},
		},
	}}
	b := NewBuilder(buildOpts(), nil, sum)
	items := []TextItem{
		{Text: "$ABC up 10% today"},
		{Text: "$ABC listing rumor on binance"},
		{Text: "$ABC up 10% today"},
	}
	res := b.Build(context.Background(), items, longBudget())
	if sum.calls != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", sum.calls)
	}
	if len(res.Topics) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(res.Topics))
	}
	top := res.Topics[0]
	if top.Asset != "ABC" {
		t.Errorf("asset = %q, want ABC", top.Asset)
	}
	if top.Fallback {
		t.Error("model topic should not be marked fallback")
	}
	// Duplicate text counts toward heat.
	if top.Heat != 3 {
		t.Errorf("heat = %d, want 3", top.Heat)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", res.Diagnostics)
	}
}

func TestBuildSnippetsCarryAnchorPrefix(t *testing.T) {
	sum := &stubSummarizer{topics: []summarize.RawTopic{
		{Asset: "ABC", OneLiner: "ABC moving"},
	}}
	b := NewBuilder(buildOpts(), nil, sum)
	items := []TextItem{{Text: "$ABC up 10% today"}}
	b.Build(context.Background(), items, longBudget())
	if len(sum.got) != 1 || !strings.HasPrefix(sum.got[0], "[ABC] ") {
		t.Fatalf("expected anchor-prefixed snippet, got %v", sum.got)
	}
}

func TestBuildBudgetSkipsEmbedAndLLM(t *testing.T) {
	emb := &stubEmbedder{}
	sum := &stubSummarizer{}
	opts := buildOpts()
	opts.MaxTopics = 2
	b := NewBuilder(opts, emb, sum)
	items := []TextItem{
		{Text: "$AAA breaking out"},
		{Text: "$BBB rug warning"},
		{Text: "$CCC quiet chart"},
	}
	res := b.Build(context.Background(), items, spentBudget())
	if emb.calls != 0 {
		t.Errorf("embedder called %d times under exhausted budget", emb.calls)
	}
	if sum.calls != 0 {
		t.Errorf("summarizer called %d times under exhausted budget", sum.calls)
	}
	wantDiags := map[string]bool{
		"hourly_embed_skipped:budget": true,
		"hourly_llm_skipped:budget":   true,
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	for _, d := range res.Diagnostics {
		if !wantDiags[d] {
			t.Errorf("unexpected diagnostic %q", d)
		}
	}
	// The fallback tier still produces topics.
	if len(res.Topics) == 0 {
		t.Fatal("expected fallback topics under exhausted budget")
	}
	for _, top := range res.Topics {
		if !top.Fallback {
			t.Errorf("topic %q not marked fallback", top.Asset)
		}
	}
}

func TestBuildLLMFailureFallsBack(t *testing.T) {
	sum := &stubSummarizer{err: errors.New("rate limited")}
	b := NewBuilder(buildOpts(), nil, sum)
	items := []TextItem{
		{Text: "$DDD unlock next week, careful"},
		{Text: "$DDD unlock chatter everywhere"},
	}
	res := b.Build(context.Background(), items, longBudget())
	if len(res.Diagnostics) != 1 || !strings.HasPrefix(res.Diagnostics[0], "hourly_llm_failed:") {
		t.Fatalf("expected llm_failed diagnostic, got %v", res.Diagnostics)
	}
	if len(res.Topics) == 0 {
		t.Fatal("expected fallback topics after summarizer failure")
	}
	if res.Topics[0].Asset != "DDD" {
		t.Errorf("fallback asset = %q, want DDD", res.Topics[0].Asset)
	}
}

func TestBuildLLMBadOutput(t *testing.T) {
	sum := &stubSummarizer{topics: nil}
	b := NewBuilder(buildOpts(), nil, sum)
	items := []TextItem{{Text: "$EEE pump incoming"}}
	res := b.Build(context.Background(), items, longBudget())
	if len(res.Diagnostics) != 1 || res.Diagnostics[0] != "hourly_llm_bad_output" {
		t.Fatalf("expected llm_bad_output diagnostic, got %v", res.Diagnostics)
	}
	if len(res.Topics) == 0 {
		t.Fatal("expected fallback topics after bad model output")
	}
}

func TestBuildClusteringPath(t *testing.T) {
	emb := &stubEmbedder{vectors: [][]float32{
		{1, 0}, {0.99, 0.1}, {0, 1},
	}}
	sum := &stubSummarizer{topics: []summarize.RawTopic{
		{Asset: "FFF", OneLiner: "FFF breakout chatter"},
	}}
	opts := buildOpts()
	opts.MaxTopics = 2
	b := NewBuilder(opts, emb, sum)
	items := []TextItem{
		{Text: "$FFF breaking out now"},
		{Text: "$FFF breakout confirmed"},
		{Text: "$GGG dev dumped, rug"},
	}
	res := b.Build(context.Background(), items, longBudget())
	if emb.calls != 1 {
		t.Fatalf("expected 1 embed call, got %d", emb.calls)
	}
	if sum.calls != 1 {
		t.Fatalf("expected 1 summarize call, got %d", sum.calls)
	}
	// Two clusters, so two joined snippet groups reach the summarizer.
	if len(sum.got) != 2 {
		t.Errorf("summarizer inputs = %d, want 2", len(sum.got))
	}
	if len(res.Topics) != 1 || res.Topics[0].Asset != "FFF" {
		t.Errorf("topics = %+v", res.Topics)
	}
}

func TestDedupeCollapsesAndCaps(t *testing.T) {
	cands := []candidate{
		{text: "$AAA moving  fast", dupes: 1},
		{text: "$aaa MOVING fast", dupes: 1},
		{text: "$BBB quiet", dupes: 1},
		{text: "$CCC third", dupes: 1},
	}
	out := dedupe(cands, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	if out[0].dupes != 2 {
		t.Errorf("first candidate dupes = %d, want 2", out[0].dupes)
	}
}

func TestStance(t *testing.T) {
	if s := Stance("looking bullish, breakout soon"); s <= 0 {
		t.Errorf("bullish text scored %d", s)
	}
	if s := Stance("total scam, dump it"); s >= 0 {
		t.Errorf("bearish text scored %d", s)
	}
	if s := Stance("price unchanged today"); s != 0 {
		t.Errorf("neutral text scored %d", s)
	}
}

func TestNormalizeRaw(t *testing.T) {
	cases := []struct {
		name string
		in   summarize.RawTopic
		ok   bool
	}{
		{"valid", summarize.RawTopic{Asset: "$wif", OneLiner: "WIF breaking range"}, true},
		{"no asset", summarize.RawTopic{OneLiner: "something moved"}, false},
		{"placeholder asset", summarize.RawTopic{Asset: "UNKNOWN", OneLiner: "x"}, false},
		{"numeric asset", summarize.RawTopic{Asset: "12345", OneLiner: "x"}, false},
		{"no one-liner", summarize.RawTopic{Asset: "WIF"}, false},
		{"vague lead", summarize.RawTopic{Asset: "WIF", OneLiner: "someone said it pumps"}, false},
	}
	for _, c := range cases {
		_, ok := normalizeRaw(c.in)
		if ok != c.ok {
			t.Errorf("%s: ok = %v, want %v", c.name, ok, c.ok)
		}
	}

	got, ok := normalizeRaw(summarize.RawTopic{
		Asset:     "$wif",
		OneLiner:  strings.Repeat("long one liner ", 20),
		Sentiment: "TO THE MOON",
		Trigger:   strings.Repeat("trigger ", 20),
		Evidence:  []string{"a", "", "b", "c", "d"},
		Related:   []string{"$wif", "bonk", "BONK", "pepe"},
	})
	if !ok {
		t.Fatal("expected valid topic")
	}
	if got.Asset != "WIF" {
		t.Errorf("asset = %q", got.Asset)
	}
	if got.Sentiment != "neutral" {
		t.Errorf("unrecognized sentiment not coerced: %q", got.Sentiment)
	}
	if len([]rune(got.OneLiner)) != oneLinerMaxLen {
		t.Errorf("one-liner length = %d", len([]rune(got.OneLiner)))
	}
	if len([]rune(got.Trigger)) != triggerMaxLen {
		t.Errorf("trigger length = %d", len([]rune(got.Trigger)))
	}
	if len(got.Evidence) != 3 {
		t.Errorf("evidence = %v", got.Evidence)
	}
	// WIF itself and the duplicate BONK are dropped from related.
	if len(got.Related) != 2 || got.Related[0] != "BONK" || got.Related[1] != "PEPE" {
		t.Errorf("related = %v", got.Related)
	}
}

func TestFallbackTopicsGrouping(t *testing.T) {
	cands := []candidate{
		mustCandidate(t, "$HHH unlock next week"),
		mustCandidate(t, "$HHH team selling into it"),
		mustCandidate(t, "big exchange listing tomorrow"),
	}
	topics := fallbackTopics(cands, nil, 10)
	if len(topics) != 2 {
		t.Fatalf("expected 2 fallback groups, got %d: %+v", len(topics), topics)
	}
	if topics[0].Asset != "HHH" {
		t.Errorf("top group = %q, want HHH", topics[0].Asset)
	}
	if topics[0].Heat != 2 {
		t.Errorf("top group heat = %d, want 2", topics[0].Heat)
	}
	if !strings.Contains(topics[0].OneLiner, "mentioned 2 times") {
		t.Errorf("one-liner = %q", topics[0].OneLiner)
	}
	if topics[1].Asset != "LISTING" {
		t.Errorf("keyword group = %q, want LISTING", topics[1].Asset)
	}
}

func mustCandidate(t *testing.T, text string) candidate {
	t.Helper()
	cands := prefilter([]TextItem{{Text: text}})
	if len(cands) != 1 {
		t.Fatalf("text %q did not survive prefilter", text)
	}
	return cands[0]
}
