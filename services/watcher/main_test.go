package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/require"

	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/ingest"
	"github.com/tawriver/floodwatch/services/internal/logger"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/store"
)

type archiveSource struct{}

func (archiveSource) Readings(ctx context.Context, measureID string, q ea.Query) ([]models.RawReading, error) {
	if strings.HasPrefix(measureID, "50119") {
		return nil, errors.New("upstream unavailable")
	}
	return []models.RawReading{{DateTime: "2026-02-19T00:00:00Z", Value: "0.4"}}, nil
}

func TestArgsOptions(t *testing.T) {
	full := args{}.options(false)
	require.Equal(t, ingest.DefaultFullLookbackDays, full.LookbackDays)
	require.False(t, full.Merge)

	recent := args{Recent: true}.options(true)
	require.Equal(t, ingest.DefaultRecentLookbackDays, recent.LookbackDays)
	require.True(t, recent.Merge)
	require.True(t, recent.DryRun)

	require.Equal(t, 10, args{Recent: true, Days: 10}.options(false).LookbackDays)
}

func TestBackfillAllSkipsFailedStations(t *testing.T) {
	tables, err := store.New(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	engine := ingest.NewEngine(archiveSource{}, tables,
		ingest.WithPlanner(ingest.NewPlanner(ingest.DefaultChunkDays, ingest.DefaultMaxEmptyWindows, 0)),
		ingest.WithClock(func() time.Time { return now }),
		ingest.WithLogger(logger.Discard()))

	list := []models.Station{
		{ID: "50149", Label: "Sticklepath", Category: models.CategoryLevel},
		{ID: "50119", Label: "Taw Bridge", Category: models.CategoryLevel},
		{ID: "E85220", Label: "Molland Sindercombe", Category: models.CategoryRainfall},
	}
	bar := progressbar.DefaultSilent(int64(len(list)))

	opts := ingest.BackfillOptions{LookbackDays: 2}
	outcomes := backfillAll(context.Background(), engine, list, opts, bar, logger.Discard())
	require.Len(t, outcomes, 3)
	require.True(t, outcomes[1].Failed())
	require.Contains(t, outcomes[1].Error, "upstream unavailable")
	require.Equal(t, 1, outcomes[2].Total)

	updated, failed := summarize(outcomes)
	require.Equal(t, 2, updated)
	require.Equal(t, 1, failed)

	got, err := tables.Load(list[0])
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m", got[0].Unit)

	missing, err := tables.Load(list[1])
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestBackfillAllStopsWhenCancelled(t *testing.T) {
	tables, err := store.New(t.TempDir())
	require.NoError(t, err)
	engine := ingest.NewEngine(archiveSource{}, tables, ingest.WithLogger(logger.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	list := []models.Station{{ID: "50149", Label: "Sticklepath", Category: models.CategoryLevel}}
	outcomes := backfillAll(ctx, engine, list, ingest.BackfillOptions{LookbackDays: 2}, progressbar.DefaultSilent(1), logger.Discard())
	require.Empty(t, outcomes)
}
