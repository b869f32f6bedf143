// Package app wires the heatline components into the hourly run pipeline.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/heatline/internal/budget"
	"github.com/abelbrown/heatline/internal/config"
	"github.com/abelbrown/heatline/internal/embed"
	"github.com/abelbrown/heatline/internal/ingest"
	"github.com/abelbrown/heatline/internal/logging"
	"github.com/abelbrown/heatline/internal/marketdata"
	"github.com/abelbrown/heatline/internal/notify"
	"github.com/abelbrown/heatline/internal/pipeline"
	"github.com/abelbrown/heatline/internal/resolve"
	"github.com/abelbrown/heatline/internal/store"
	"github.com/abelbrown/heatline/internal/summarize"
	"github.com/abelbrown/heatline/internal/topics"
)

// enrichReserve is the remaining-time floor below which market enrichment
// is skipped.
const enrichReserve = 10 * time.Second

// App owns the long-lived handles one process needs across runs.
type App struct {
	cfg      *config.Config
	store    *store.Store
	market   *marketdata.Client
	resolver *resolve.Resolver
	builder  *topics.Builder
	notifier *notify.Notifier
	sources  []ingest.Source
	runner   *pipeline.Runner
}

// New builds an App from configuration. Missing credentials disable the
// corresponding stage instead of failing; the store and market cache are
// required.
func New(cfg *config.Config) (*App, error) {
	dbPath := config.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	market, err := marketdata.New(marketdata.Options{
		CachePath:   config.CachePath(),
		TTL:         cfg.Market.CacheTTL.Std(),
		Timeout:     cfg.Market.Timeout.Std(),
		MaxEntries:  cfg.Market.MaxEntries,
		MinInterval: cfg.Market.MinInterval.Std(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: open market client: %w", err)
	}

	var embedder embed.Embedder
	var summarizer summarize.Summarizer
	if cfg.OpenAI.APIKey != "" {
		embedder = embed.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
		summarizer = summarize.NewOpenAISummarizer(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel)
	} else {
		logging.Warn("no OpenAI key, running in fallback-only mode")
	}

	builder := topics.NewBuilder(topics.Options{
		Tag:              "hourly",
		MaxTopics:        cfg.Topics.MaxTopics,
		MaxCandidates:    cfg.Topics.MaxCandidates,
		ClusterThreshold: cfg.Topics.ClusterThreshold,
		EmbedReserve:     cfg.Topics.EmbedReserve.Std(),
		LLMReserve:       cfg.Topics.LLMReserve.Std(),
	}, embedder, summarizer)

	notifier, err := notify.New(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		st.Close()
		return nil, err
	}

	sources := make([]ingest.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, ingest.NewRSSSource(src.Name, src.URL, cfg.Market.Timeout.Std()))
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		market:   market,
		resolver: resolve.New(market),
		builder:  builder,
		notifier: notifier,
		sources:  sources,
	}
	a.runner = &pipeline.Runner{
		ContinueOnError: cfg.Run.ContinueOnError,
		Steps: []pipeline.Step{
			{Name: "fetch", Run: a.stepFetch},
			{Name: "filter", Run: a.stepFilter},
			{Name: "resolve", Run: a.stepResolve},
			{Name: "topics", Run: a.stepTopics},
			{Name: "enrich", Run: a.stepEnrich},
			{Name: "watchlist", Run: a.stepWatchlist},
			{Name: "persist", Run: a.stepPersist},
			{Name: "notify", Run: a.stepNotify},
		},
	}
	return a, nil
}

// Close releases the App's resources.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// Runner exposes the pipeline for step selection flags.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// RunOnce executes one windowed run and returns its context.
func (a *App) RunOnce(ctx context.Context) (*pipeline.Context, error) {
	end := time.Now()
	start := end.Add(-a.cfg.Run.Interval.Std())
	pc := pipeline.NewContext(uuid.NewString(), start, end, budget.Start(a.cfg.Run.Budget.Std()))

	logging.Info("run start", "run", pc.RunID, "window_start", start, "window_end", end)
	err := a.runner.Run(ctx, pc)
	logging.Info("run done", "run", pc.RunID,
		"messages", len(pc.Messages), "topics", len(pc.Topics),
		"errors", len(pc.Errors), "elapsed", pc.Budget.Elapsed())
	return pc, err
}

// RunLoop runs immediately and then once per configured interval until the
// context is cancelled.
func (a *App) RunLoop(ctx context.Context) error {
	if _, err := a.RunOnce(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(a.cfg.Run.Interval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// stepFetch pulls all sources concurrently and merges their messages in
// timestamp order. A failing source fails the step but the successful
// sources' messages are kept.
func (a *App) stepFetch(ctx context.Context, pc *pipeline.Context) error {
	if len(a.sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	results := make([][]ingest.Message, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range a.sources {
		g.Go(func() error {
			msgs, err := src.Fetch(gctx, pc.WindowStart)
			if err != nil {
				return err
			}
			results[i] = msgs
			return nil
		})
	}
	err := g.Wait()

	for _, msgs := range results {
		pc.Messages = append(pc.Messages, msgs...)
	}
	sort.SliceStable(pc.Messages, func(i, j int) bool {
		return pc.Messages[i].Timestamp.Before(pc.Messages[j].Timestamp)
	})
	return err
}

// stepFilter drops automated chatter.
func (a *App) stepFilter(ctx context.Context, pc *pipeline.Context) error {
	before := len(pc.Messages)
	pc.Messages = ingest.FilterHuman(pc.Messages)
	logging.Debug("filtered messages", "run", pc.RunID, "before", before, "after", len(pc.Messages))
	return nil
}

// stepResolve maps contract addresses in message texts to their base token
// symbols and appends them as cashtags, so address-only chatter anchors the
// same way named tickers do. Lookups are memoized across runs.
func (a *App) stepResolve(ctx context.Context, pc *pipeline.Context) error {
	for i := range pc.Messages {
		if pc.Budget.Over(enrichReserve) {
			pc.Diagnostics = append(pc.Diagnostics, "resolve_skipped:budget")
			break
		}
		symbols, addrs := a.resolver.ResolveFromText(ctx, pc.Messages[i].Text)
		if len(addrs) == 0 {
			continue
		}
		upper := strings.ToUpper(pc.Messages[i].Text)
		for _, sym := range symbols {
			if !strings.Contains(upper, sym) {
				pc.Messages[i].Text += " $" + sym
			}
		}
	}
	return nil
}

// stepTopics runs the topic builder over the window's texts.
func (a *App) stepTopics(ctx context.Context, pc *pipeline.Context) error {
	items := make([]topics.TextItem, len(pc.Messages))
	for i, m := range pc.Messages {
		items[i] = topics.TextItem{Text: m.Text, SenderID: m.SenderID}
	}
	res := a.builder.Build(ctx, items, pc.Budget)
	pc.Topics = res.Topics
	pc.Diagnostics = append(pc.Diagnostics, res.Diagnostics...)
	return nil
}

// stepEnrich attaches a market snapshot to each topic asset. Failures are
// silent per asset; the step only skips wholesale when the budget is spent.
func (a *App) stepEnrich(ctx context.Context, pc *pipeline.Context) error {
	for _, t := range pc.Topics {
		if pc.Budget.Over(enrichReserve) {
			pc.Diagnostics = append(pc.Diagnostics, "enrich_skipped:budget")
			break
		}
		asset := t.Asset
		if _, done := pc.Market[asset]; done {
			continue
		}
		if m := a.market.EnrichSymbol(ctx, asset); m != nil {
			pc.Market[asset] = m
		}
	}
	return nil
}

// stepWatchlist promotes hot assets to the persistent watchlist.
func (a *App) stepWatchlist(ctx context.Context, pc *pipeline.Context) error {
	threshold := a.cfg.Topics.WatchlistHeat
	for _, t := range pc.Topics {
		if t.Heat < threshold {
			continue
		}
		if err := a.store.UpsertWatchlist(t.Asset, t.Heat, pc.WindowEnd); err != nil {
			return err
		}
		pc.Watchlist = append(pc.Watchlist, t.Asset)
	}
	return nil
}

// stepPersist archives the run, its messages, and its topics.
func (a *App) stepPersist(ctx context.Context, pc *pipeline.Context) error {
	run := store.Run{
		ID:           pc.RunID,
		StartedAt:    pc.WindowEnd,
		WindowStart:  pc.WindowStart,
		WindowEnd:    pc.WindowEnd,
		MessageCount: len(pc.Messages),
		TopicCount:   len(pc.Topics),
		Errors:       pc.Errors,
		Diagnostics:  pc.Diagnostics,
		Perf:         pc.Perf,
	}
	if err := a.store.SaveRun(run); err != nil {
		return err
	}

	msgs := make([]store.Message, len(pc.Messages))
	for i, m := range pc.Messages {
		msgs[i] = store.Message{RunID: pc.RunID, Sender: m.SenderID, Body: m.Text, PostedAt: m.Timestamp}
	}
	if _, err := a.store.SaveMessages(msgs); err != nil {
		return err
	}

	records := make([]store.TopicRecord, len(pc.Topics))
	for i, t := range pc.Topics {
		rec := store.TopicRecord{
			RunID:    pc.RunID,
			Asset:    t.Asset,
			OneLiner: t.OneLiner, Sentiment: t.Sentiment,
			Trigger: t.Trigger, Risk: t.Risk,
			Evidence: t.Evidence, Related: t.Related,
			Heat: t.Heat, Fallback: t.Fallback,
		}
		if m := pc.Market[t.Asset]; m != nil {
			rec.PriceUSD = m.Price
			rec.LiquidityUSD = m.Liquidity
			rec.VolumeH24 = m.Volume24h
			rec.ChangeH1 = m.Change1h
			rec.ChangeH24 = m.Change24h
		}
		records[i] = rec
	}
	_, err := a.store.SaveTopics(records)
	return err
}

// stepNotify delivers the digest when Telegram is configured.
func (a *App) stepNotify(ctx context.Context, pc *pipeline.Context) error {
	return a.notifier.SendDigest(pc.WindowEnd, pc.Topics, pc.Market, pc.Watchlist)
}
