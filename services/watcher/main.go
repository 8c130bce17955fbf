package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/schollz/progressbar/v3"

	"github.com/tawriver/floodwatch/services/internal/db"
	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/ingest"
	"github.com/tawriver/floodwatch/services/internal/logger"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/stations"
	"github.com/tawriver/floodwatch/services/internal/store"
	"github.com/tawriver/floodwatch/services/watcher/internal/config"
)

type args struct {
	Recent     bool     `arg:"--recent" help:"only pull the last couple of days and merge them into existing tables"`
	Days       int      `arg:"--days" help:"lookback in days (default 2 with --recent, 730 otherwise)"`
	Station    []string `arg:"--station,separate" help:"station id to backfill, repeatable (default all)"`
	NoProgress bool     `arg:"--no-progress" help:"disable the progress bar"`
}

func (args) Description() string {
	return "Backfills the station tables from the flood-monitoring archive."
}

// options resolves the backfill options implied by the flags.
func (a args) options(dryRun bool) ingest.BackfillOptions {
	opts := ingest.BackfillOptions{
		LookbackDays: ingest.DefaultFullLookbackDays,
		Merge:        a.Recent,
		DryRun:       dryRun,
	}
	if a.Recent {
		opts.LookbackDays = ingest.DefaultRecentLookbackDays
	}
	if a.Days > 0 {
		opts.LookbackDays = a.Days
	}
	return opts
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := run(a); err != nil {
		slog.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

func run(a args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("watcher")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	list, err := loadStations(cfg.StationsFile)
	if err != nil {
		return err
	}
	selected, err := stations.Filter(list, a.Station)
	if err != nil {
		return err
	}

	tables, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		log.Info("dry-run: skipping stations index", "stations", len(list))
	} else if err := tables.WriteIndex(list); err != nil {
		return fmt.Errorf("write stations index: %w", err)
	}

	client := ea.NewClient(ea.Options{
		BaseURL: cfg.SourceBaseURL,
		Timeout: cfg.RequestTimeout,
		Retries: cfg.FetchRetries,
		Policy:  ea.RaiseOnExhaustion,
		Logger:  log,
	})

	engineOpts := []ingest.Option{ingest.WithLogger(log)}
	if cfg.DatabaseURL != "" && !cfg.DryRun {
		mirror, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer mirror.Close()

		if err := mirror.UpsertStations(ctx, list); err != nil {
			return err
		}
		engineOpts = append(engineOpts, ingest.WithSink(mirror))
	}
	engine := ingest.NewEngine(client, tables, engineOpts...)

	opts := a.options(cfg.DryRun)
	log.Info("backfill starting",
		"stations", len(selected), "lookback_days", opts.LookbackDays, "merge", opts.Merge, "dry_run", opts.DryRun)

	var bar *progressbar.ProgressBar
	if a.NoProgress {
		bar = progressbar.DefaultSilent(int64(len(selected)))
	} else {
		bar = newBar(len(selected), "Backfilling stations")
	}

	outcomes := backfillAll(ctx, engine, selected, opts, bar, log)
	updated, failed := summarize(outcomes)
	log.Info("backfill finished", "stations", len(outcomes), "updated", updated, "failed", failed)
	return ctx.Err()
}

func newBar(size int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(size,
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// backfillAll processes stations one at a time in configured order. A failed
// station is logged and skipped; its table stays as it was.
func backfillAll(ctx context.Context, engine *ingest.Engine, list []models.Station, opts ingest.BackfillOptions, bar *progressbar.ProgressBar, log *slog.Logger) []models.Outcome {
	outcomes := make([]models.Outcome, 0, len(list))
	for _, st := range list {
		if ctx.Err() != nil {
			break
		}
		bar.Describe(st.Label)

		outcome, err := engine.Backfill(ctx, st, opts)
		if err != nil {
			log.Error("station skipped", "station", st.ID, "error", err)
			outcome = models.Outcome{ID: st.ID, Label: st.Label, Error: err.Error()}
		}
		outcomes = append(outcomes, outcome)
		_ = bar.Add(1)
	}
	return outcomes
}

func summarize(outcomes []models.Outcome) (updated, failed int) {
	for _, o := range outcomes {
		switch {
		case o.Failed():
			failed++
		case o.NewReadings > 0:
			updated++
		}
	}
	return updated, failed
}

func loadStations(path string) ([]models.Station, error) {
	if path == "" {
		return stations.Default()
	}
	return stations.Load(path)
}
