package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/elonfeng/hnpulse/internal/config"
	"github.com/elonfeng/hnpulse/internal/ingest"
	"github.com/elonfeng/hnpulse/internal/scheduler"
	"github.com/elonfeng/hnpulse/internal/store"
	"github.com/elonfeng/hnpulse/pkg/alert"
	"github.com/elonfeng/hnpulse/pkg/analysis"
	"github.com/elonfeng/hnpulse/pkg/digest"
	"github.com/elonfeng/hnpulse/pkg/hn"
	"github.com/elonfeng/hnpulse/pkg/server"
)

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func buildIngestor(cfg *config.Config, db store.Store, logger *slog.Logger) *ingest.Ingestor {
	client := hn.New(cfg.HN.BaseURL, cfg.HN.RateLimit, cfg.HN.Concurrency)
	return ingest.New(client, db, ingest.Config{
		FetchLimit:   cfg.HN.FetchLimit,
		ActiveWindow: cfg.Detection.ParseActiveWindow(),
	}, logger)
}

func buildBenchmarks(cfg *config.Config, db store.Store) *analysis.Benchmarks {
	return analysis.NewBenchmarks(db, analysis.BenchmarkConfig{
		Lookback:      cfg.Benchmarks.ParseLookback(),
		PairingWindow: cfg.Benchmarks.ParsePairingWindow(),
		MinSamples:    cfg.Benchmarks.MinSamples,
	})
}

func buildDetector(cfg *config.Config, db store.Store, benchmarks *analysis.Benchmarks, logger *slog.Logger) *analysis.Detector {
	return analysis.NewDetector(db, benchmarks, analysis.DetectorConfig{
		PercentileThreshold: cfg.Detection.PercentileThreshold,
		ActiveWindow:        cfg.Detection.ParseActiveWindow(),
		Concurrency:         cfg.Detection.Concurrency,
	}, logger)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildBatcher(cfg *config.Config, db store.Store, logger *slog.Logger) *digest.Batcher {
	return digest.New(db, buildAlertManager(cfg), digest.Config{
		BatchSize: cfg.Digest.BatchSize,
		MaxPerDay: cfg.Digest.MaxPerDay,
		Lookback:  cfg.Digest.ParseLookback(),
	}, logger)
}

func runFetch(skipDetect bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	logger := newLogger()
	ctx := context.Background()

	ingestor := buildIngestor(cfg, db, logger)
	stats, err := ingestor.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Fprintf(os.Stderr, "fetched %d posts, %d snapshots (%d active)\n",
		stats.PostsUpserted, stats.SnapshotsCreated, stats.ActivePosts)

	if skipDetect {
		return nil
	}

	benchmarks := buildBenchmarks(cfg, db)
	detector := buildDetector(cfg, db, benchmarks, logger)
	summary, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	if summary.BenchmarksMissing {
		fmt.Fprintln(os.Stderr, "no benchmarks available (run: hnpulse benchmarks --seed)")
		return nil
	}

	fmt.Fprintf(os.Stderr, "scanned %d posts, created %d alerts\n",
		summary.PostsScanned, summary.AlertsCreated)
	for typ, n := range summary.AlertsByType {
		fmt.Fprintf(os.Stderr, "  %s: %d\n", typ, n)
	}
	return nil
}

func runAlerts(jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	alerts, err := db.ListAlerts(context.Background(), store.AlertListOpts{Limit: limit})
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}

	if len(alerts) == 0 {
		fmt.Println("no alerts found (try fetching data first: hnpulse fetch)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tPCTILE\tRATE\tSCORE\tAGE\tSENT\tTITLE")
	for _, a := range alerts {
		sent := ""
		if a.IsSent {
			sent = "yes"
		}
		fmt.Fprintf(w, "%s\t%.1f\t%.2f\t%d\t%dm\t%s\t%s\n",
			a.AlertType, a.Percentile, a.GrowthRate, a.ScoreAtAlert, a.PostAgeMinutes, sent, a.Title)
	}
	return w.Flush()
}

func runBenchmarks(seed bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	benchmarks := buildBenchmarks(cfg, db)
	ctx := context.Background()

	if seed {
		if err := benchmarks.Seed(ctx); err != nil {
			return fmt.Errorf("seed benchmarks: %w", err)
		}
		fmt.Fprintln(os.Stderr, "default benchmarks seeded")
		return nil
	}

	updated, errs, err := benchmarks.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("recompute benchmarks: %w", err)
	}

	fmt.Fprintf(os.Stderr, "updated %d benchmark cells\n", updated)
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  warning: %s\n", e)
	}
	return nil
}

func runDigest() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	batcher := buildBatcher(cfg, db, newLogger())
	result, err := batcher.Run(context.Background())
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}

	if result.Status == digest.StatusSkipped {
		fmt.Fprintf(os.Stderr, "skipped: %s\n", result.Reason)
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s digest with %d alerts (delivery: %s, %d/%d today)\n",
		result.DigestType, result.AlertCount, result.DeliveryStatus,
		result.SentToday, cfg.Digest.MaxPerDay)
	return nil
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	logger := newLogger()
	benchmarks := buildBenchmarks(cfg, db)
	detector := buildDetector(cfg, db, benchmarks, logger)

	srv := server.New(db, detector, cfg.Detection.ParseActiveWindow(), port)
	logger.Info("hnpulse server listening", "port", port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	logger := newLogger()
	benchmarks := buildBenchmarks(cfg, db)
	detector := buildDetector(cfg, db, benchmarks, logger)
	ingestor := buildIngestor(cfg, db, logger)
	batcher := buildBatcher(cfg, db, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(ingestor, detector, benchmarks, batcher,
		cfg.Schedule.ParseFetchInterval(),
		cfg.Schedule.ParseBenchmarkInterval(),
		cfg.Schedule.ParseDigestInterval(),
		logger,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	srv := server.New(db, detector, cfg.Detection.ParseActiveWindow(), port)
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
	}()

	logger.Info("hnpulse daemon listening", "port", port)
	return srv.ListenAndServe()
}
