package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/oppcrawl/internal/ai"
	"github.com/masahif/oppcrawl/internal/browser"
	"github.com/masahif/oppcrawl/internal/config"
	"github.com/masahif/oppcrawl/internal/crawler"
	"github.com/masahif/oppcrawl/internal/extract"
	"github.com/masahif/oppcrawl/internal/metrics"
	"github.com/masahif/oppcrawl/internal/storage"
)

// statsInterval is how often a long run logs its progress
const statsInterval = 30 * time.Second

func runCrawler(cmd *cobra.Command, args []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closer, err := setupLogging(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := crawl(ctx, cfg)
	printSummary(cmd.OutOrStdout(), out)
	return err
}

// crawl wires every component of a run and executes it
func crawl(ctx context.Context, cfg *config.CrawlConfig) (crawler.RunOutcome, error) {
	aborted := crawler.RunOutcome{Phase: crawler.PhaseAborted}
	source := cfg.SourceName()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				slog.Error("Metrics server failed", "address", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	inferrer, err := ai.New(cfg.AI, cfg.GetAIKey(), m.AICall)
	if errors.Is(err, ai.ErrNoAPIKey) {
		slog.Warn("No AI API key, extraction continues without inference",
			"provider", cfg.AI.Provider, "key_env", cfg.AI.APIKeyEnv)
		inferrer, err = nil, nil
	}
	if err != nil {
		return aborted, fmt.Errorf("failed to create AI backend: %w", err)
	}

	startPage := cfg.StartPage
	var seen, delivered []string
	var pending []crawler.Record
	var checkpoint crawler.Checkpointer
	if cfg.State.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.State.DatabasePath)
		if err != nil {
			return aborted, fmt.Errorf("failed to open checkpoint database: %w", err)
		}
		defer func() { _ = store.Close() }()

		cp := store.Checkpoint(source)
		checkpoint = cp
		if cfg.State.Resume {
			snap, err := cp.Load()
			if err != nil {
				return aborted, fmt.Errorf("failed to load checkpoint: %w", err)
			}
			seen, delivered, pending = snap.Seen, snap.Delivered, snap.Pending
			startPage = max(startPage, snap.LastPage)
			slog.Info("Resuming from checkpoint", "source", source, "seen", len(seen),
				"delivered", len(delivered), "pending", len(pending), "start_page", startPage)
		}
	}

	br, err := browser.New(ctx, browser.Options{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		ExecPath:  os.Getenv("OC_CHROME_PATH"),
		NoSandbox: os.Geteuid() == 0,
	})
	if err != nil {
		return aborted, fmt.Errorf("%w: %v", crawler.ErrListingUnreachable, err)
	}
	defer func() { _ = br.Close() }()

	ex := extract.New(extract.Options{
		Kind:          cfg.Site.Kind,
		Brand:         cfg.Site.Brand,
		ExtraLabels:   cfg.Site.ExtraLabels,
		MaxInputChars: cfg.AI.MaxInputChars,
	}, inferrer)

	siteClient := crawler.NewHTTPClient(cfg.UserAgent, cfg.NavTimeout)
	defer siteClient.Close()
	var robots *crawler.RobotsChecker
	if cfg.RespectRobots {
		robots = crawler.NewRobotsChecker(siteClient, cfg.UserAgent, false)
	}
	details := crawler.NewDetailFetcher(crawler.DetailConfig{
		NavTimeout:    cfg.NavTimeout,
		SettleTimeout: cfg.SettleTimeout,
	}, br, ex, siteClient, crawler.NewRateLimiter(cfg.RequestDelay), robots)

	sinkClient := crawler.NewHTTPClient(cfg.UserAgent, cfg.Sink.Timeout)
	defer sinkClient.Close()
	if token := cfg.GetSinkToken(); token != "" {
		sinkClient.SetBearerAuth(token)
	}
	dispatcher := crawler.NewDispatcher(sinkClient, cfg.Sink.URL, cfg.Sink.TenantID, source)

	state := crawler.NewRunState(cfg.Capacity, startPage, cfg.Sink.BatchSize, seen, delivered)
	state.Restore(pending)
	walker := crawler.NewWalker(crawler.WalkerConfig{
		ListingURL:      cfg.ResolvedListingURL(),
		Profile:         cfg.Site,
		SelectorTimeout: cfg.SelectorTimeout,
		NavTimeout:      cfg.NavTimeout,
		SettleTimeout:   cfg.SettleTimeout,
		MaxEmptyPages:   cfg.MaxEmptyPages,
	}, state, m)

	controller := crawler.NewController(crawler.ControllerConfig{
		Concurrency:   cfg.Concurrency,
		StartPage:     startPage,
		Capacity:      cfg.Capacity,
		StatsInterval: statsInterval,
		OnPhase:       m.SetPhase,
	}, state, br, walker, details, dispatcher, checkpoint, m)

	return controller.Run(ctx)
}

// printSummary writes the one-line run summary, plus the ids that never
// reached the sink
func printSummary(w io.Writer, out crawler.RunOutcome) {
	fmt.Fprintf(w, "%s: discovered=%d fetched=%d partial=%d failed=%d delivered=%d batches=%d failed_batches=%d undelivered=%d duration=%s\n",
		out.Phase, out.Discovered, out.Fetched, out.Partial, out.Failed, out.Delivered,
		out.Batches, out.FailedBatches, len(out.Undelivered), out.Duration.Round(time.Millisecond))
	if len(out.Undelivered) > 0 {
		fmt.Fprintf(w, "undelivered: %s\n", strings.Join(out.Undelivered, ","))
	}
}
