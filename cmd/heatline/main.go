package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/abelbrown/heatline/internal/app"
	"github.com/abelbrown/heatline/internal/config"
	"github.com/abelbrown/heatline/internal/logging"
	"github.com/abelbrown/heatline/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default ~/.heatline/config.yaml)")
		once       = flag.Bool("once", false, "run a single window and exit")
		only       = flag.String("only", "", "comma-separated step names to run, all others skipped")
		skip       = flag.String("skip", "", "comma-separated step names to skip")
		search     = flag.String("search", "", "search archived messages and exit")
		runs       = flag.Bool("runs", false, "print recent runs and exit")
	)
	flag.Parse()

	if err := logging.Init(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		logging.Fatal("Failed to load config", "error", err)
	}

	if *search != "" {
		searchArchive(*search)
		return
	}
	if *runs {
		printRuns()
		return
	}

	a, err := app.New(cfg)
	if err != nil {
		logging.Fatal("Failed to start", "error", err)
	}
	defer a.Close()

	a.Runner().Skip = stepSet(*skip)
	a.Runner().Only = stepSet(*only)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *once {
		pc, err := a.RunOnce(ctx)
		if err != nil {
			logging.Fatal("Run failed", "error", err)
		}
		fmt.Printf("run %s: %d messages, %d topics, %d errors\n",
			pc.RunID, len(pc.Messages), len(pc.Topics), len(pc.Errors))
		for _, e := range pc.Errors {
			fmt.Println("  " + e)
		}
		return
	}

	if err := a.RunLoop(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal("Run loop failed", "error", err)
	}
}

// stepSet parses a comma-separated step list into a set, nil when empty.
func stepSet(list string) map[string]bool {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = true
		}
	}
	return set
}

func searchArchive(query string) {
	st, err := store.Open(config.DBPath())
	if err != nil {
		logging.Fatal("Failed to open store", "error", err)
	}
	defer st.Close()

	msgs, err := st.SearchMessages(query, 20)
	if err != nil {
		logging.Fatal("Search failed", "error", err)
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-12s %s\n", m.PostedAt.Format("01-02 15:04"), m.Sender, m.Body)
	}
}

func printRuns() {
	st, err := store.Open(config.DBPath())
	if err != nil {
		logging.Fatal("Failed to open store", "error", err)
	}
	defer st.Close()

	runs, err := st.RecentRuns(20)
	if err != nil {
		logging.Fatal("Failed to read runs", "error", err)
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  msgs=%d topics=%d errs=%d took=%s\n",
			r.StartedAt.Format(time.RFC3339), r.ID[:8],
			r.MessageCount, r.TopicCount, len(r.Errors), r.Perf["step_topics"])
	}
}
