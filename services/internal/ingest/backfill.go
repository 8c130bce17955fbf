package ingest

import (
	"context"
	"fmt"

	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/utils"
)

const (
	DefaultFullLookbackDays   = 365 * 2
	DefaultRecentLookbackDays = 2
)

// BackfillOptions controls a bulk pull for one station.
type BackfillOptions struct {
	// LookbackDays is how far back from today to walk.
	LookbackDays int
	// Merge keeps the existing table and adds to it; otherwise the table
	// is replaced by what was fetched.
	Merge bool
	// DryRun fetches and reports without writing anything.
	DryRun bool
}

// Backfill walks backward over the requested horizon, deduplicates every
// fetched window by timestamp, sorts once and writes the table. A fetch
// error stops the station and leaves its table untouched.
func (e *Engine) Backfill(ctx context.Context, st models.Station, opts BackfillOptions) (models.Outcome, error) {
	outcome := models.Outcome{ID: st.ID, Label: st.Label}
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = DefaultFullLookbackDays
	}
	log := e.logger.With("station", st.ID)

	var collected []models.Reading
	measure := st.MeasureID()
	windows, err := e.planner.Backward(ctx, e.now(), lookback, func(ctx context.Context, w Window) (int, error) {
		batch, err := e.source.Readings(ctx, measure, w.Query())
		if err != nil {
			return 0, err
		}
		for _, raw := range batch {
			collected = append(collected, utils.BuildReading(st, raw))
		}
		if len(batch) == 0 {
			log.Debug("window empty", "window", w.Query().String())
		} else {
			log.Debug("window fetched", "window", w.Query().String(), "readings", len(batch))
		}
		return len(batch), nil
	})
	if err != nil {
		return outcome, fmt.Errorf("backfill %s: %w", st.ID, err)
	}

	fetched := utils.Dedupe(collected)
	utils.SortReadings(fetched)

	result := fetched
	outcome.NewReadings = len(fetched)
	if opts.Merge {
		existing, err := e.tables.Load(st)
		if err != nil {
			return outcome, fmt.Errorf("load table: %w", err)
		}
		result = utils.Merge(existing, fetched)
		outcome.NewReadings = len(utils.FilterNewReadings(st, rawOf(fetched), existing))
		log.Info("merged readings", "existing", len(existing), "fetched", len(fetched), "total", len(result))
	}
	outcome.Total = len(result)
	log.Info("backfill fetched", "windows", windows, "readings", len(fetched), "merge", opts.Merge)

	if opts.DryRun {
		return outcome, nil
	}
	if err := e.tables.Rewrite(st, result); err != nil {
		return outcome, fmt.Errorf("rewrite table: %w", err)
	}
	e.mirror(ctx, st, fetched)
	return outcome, nil
}

func rawOf(readings []models.Reading) []models.RawReading {
	out := make([]models.RawReading, 0, len(readings))
	for _, r := range readings {
		out = append(out, models.RawReading{DateTime: r.DateTime, Value: r.Value})
	}
	return out
}
